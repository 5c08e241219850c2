package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

var requestUserContextKey = contextKey("request_user")

// requestUser は内側のセッションミドルウェアが確定したユーザーIDを外側のログへ渡す入れ物。
type requestUser struct {
	mu sync.Mutex
	id string
}

func (ru *requestUser) set(id string) {
	ru.mu.Lock()
	ru.id = id
	ru.mu.Unlock()
}

func (ru *requestUser) get() string {
	ru.mu.Lock()
	defer ru.mu.Unlock()
	return ru.id
}

// SetRequestUser はロギングミドルウェア配下であれば認証済みユーザーIDを記録する。
func SetRequestUser(ctx context.Context, userID string) {
	if ru, ok := ctx.Value(requestUserContextKey).(*requestUser); ok {
		ru.set(userID)
	}
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// NewLoggingMiddleware は1リクエストにつき1行 "http_request" を出力する。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)
			ru := &requestUser{}

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestUserContextKey, ru)))

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}
			if uid := requestUserID(r.Context(), ru); uid != "" {
				attrs = append(attrs, slog.String("user_id", uid))
			}
			logger.LogAttrs(r.Context(), levelForStatus(rec.statusCode), "http_request", attrs...)
		})
	}
}

func requestUserID(ctx context.Context, ru *requestUser) string {
	if id := ru.get(); id != "" {
		return id
	}
	id, _ := UserIDFromContext(ctx)
	return id
}
