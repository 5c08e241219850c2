package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// スクレイプ結果には渡したレジストリの内容だけが含まれる。
func TestHandler_ExposesOnlyGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg).RecordReadingSubmitted()

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text exposition format", ct)
	}

	body, _ := io.ReadAll(w.Body)
	text := string(body)
	if !strings.Contains(text, "glucotrack_readings_submitted_total 1") {
		t.Errorf("body should report one submitted reading:\n%s", text)
	}
	if strings.Contains(text, "go_goroutines") {
		t.Error("process collectors belong to the caller's registry, not the handler")
	}
}
