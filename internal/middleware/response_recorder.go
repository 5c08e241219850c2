package middleware

import "net/http"

// statusRecorder は最初に書き込まれたステータスコードを覚えておく。
// Recovery・Logging・Metricsで共有し、二重にラップしない。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (sr *statusRecorder) markWritten(code int) {
	if sr.written {
		return
	}
	sr.statusCode = code
	sr.written = true
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.markWritten(code)
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.markWritten(http.StatusOK)
	return sr.ResponseWriter.Write(b)
}

// Unwrap はhttp.ResponseControllerが元のWriterに到達できるようにする。
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}
