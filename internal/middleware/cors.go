package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowMethods  = "GET, POST, OPTIONS"
	corsAllowHeaders  = "Content-Type, Authorization, " + HeaderRefreshToken
	corsExposeHeaders = HeaderAccessToken + ", " + HeaderRefreshToken + ", " + HeaderSessionExpiresAt + ", Retry-After"
)

// parseOrigins はカンマ区切りのオリジン指定を分解する。末尾のスラッシュは無視する。
func parseOrigins(spec string) []string {
	var origins []string
	for _, o := range strings.Split(spec, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// NewCORSMiddleware はCORSミドルウェアを返す。allowedOriginsはカンマ区切りで複数指定でき、
// "*" は全オリジンを許可する。
//
// Originヘッダーが許可リストにあればその値を返す。Originヘッダーのないリクエストには
// 先頭の許可オリジンを返す。許可されないオリジンからのプリフライトは403で拒否する。
// トークンはヘッダーで受け渡すため、Allow-Credentialsは付けずローテーション用ヘッダーをExposeする。
func NewCORSMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	origins := parseOrigins(allowedOrigins)
	allowed := make(map[string]struct{}, len(origins))
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = struct{}{}
	}

	resolve := func(origin string) (string, bool) {
		if origin == "" {
			if len(origins) == 0 {
				return "", false
			}
			return origins[0], true
		}
		if wildcard {
			return "*", true
		}
		if _, ok := allowed[strings.TrimRight(origin, "/")]; ok {
			return origin, true
		}
		return "", false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			allowOrigin, ok := resolve(r.Header.Get("Origin"))
			if ok {
				h.Set("Access-Control-Allow-Origin", allowOrigin)
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
				h.Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				if !ok {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
