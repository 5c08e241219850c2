package middleware

import (
	"net/http"

	"github.com/hitoshi/glucotrack/internal/metrics"
)

// NewMetricsMiddleware はレスポンスのステータスコードをメトリクスに記録するミドルウェアを返す。
// ハンドラーがpanicした場合は500として記録し、panicは外側のRecoveryに渡す。
func NewMetricsMiddleware(collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := newStatusRecorder(w)
			defer func() {
				if p := recover(); p != nil {
					collector.RecordHTTPStatus(http.StatusInternalServerError)
					panic(p)
				}
			}()
			next.ServeHTTP(rec, r)
			collector.RecordHTTPStatus(rec.statusCode)
		})
	}
}
