// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/glucotrack/internal/model"
)

// セッションの受け渡しに使うヘッダー。
// リクエストはAuthorization: Bearer <access> と X-Refresh-Token で組を送る。
// ローテーションが起きた場合、レスポンスのX-Access-Token / X-Refresh-Token で新しい組を返す。
const (
	HeaderRefreshToken     = "X-Refresh-Token"
	HeaderAccessToken      = "X-Access-Token"
	HeaderSessionExpiresAt = "X-Session-Expires-At"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey      = contextKey("user_id")
	credentialsContextKey = contextKey("credentials")
)

// SessionExchanger はトークンの組の検証に必要なインターフェース。
// identity.Backendの部分集合として定義する。
type SessionExchanger interface {
	ExchangeSession(ctx context.Context, creds model.Credentials) (*model.Identity, *model.Session, error)
}

// CredentialsFromRequest はリクエストヘッダーからトークンの組を取り出す。
func CredentialsFromRequest(r *http.Request) model.Credentials {
	var access string
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			access = strings.TrimSpace(token)
		}
	}
	return model.Credentials{
		AccessToken:  access,
		RefreshToken: strings.TrimSpace(r.Header.Get(HeaderRefreshToken)),
	}
}

// NewSessionMiddleware はBearerトークンとリフレッシュトークンを検証するミドルウェアを返す。
// 認証済みユーザーIDと（ローテーション後の）トークンの組をリクエストコンテキストに注入する。
// 未認証リクエストには401 Unauthorizedを返す。
func NewSessionMiddleware(exchanger SessionExchanger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds := CredentialsFromRequest(r)
			if creds.AccessToken == "" || creds.RefreshToken == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewSessionInvalidError("missing session tokens"))
				return
			}

			user, session, err := exchanger.ExchangeSession(r.Context(), creds)
			if err != nil {
				var apiErr *model.APIError
				if !errors.As(err, &apiErr) {
					slog.Error("failed to exchange session",
						slog.String("error", err.Error()),
					)
					apiErr = model.NewSessionInvalidError("please sign in again")
				}
				WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
				return
			}

			if session.RefreshToken != creds.RefreshToken {
				WriteSessionHeaders(w, session)
			}

			SetRequestUser(r.Context(), user.ID)
			ctx := ContextWithUserID(r.Context(), user.ID)
			ctx = ContextWithCredentials(ctx, session.Credentials())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WriteSessionHeaders はローテーションされたトークンの組をレスポンスヘッダーに書き込む。
func WriteSessionHeaders(w http.ResponseWriter, session *model.Session) {
	w.Header().Set(HeaderAccessToken, session.AccessToken)
	w.Header().Set(HeaderRefreshToken, session.RefreshToken)
	w.Header().Set(HeaderSessionExpiresAt, session.ExpiresAt.UTC().Format(time.RFC3339))
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// CredentialsFromContext はセッションミドルウェアが検証したトークンの組を返す。
func CredentialsFromContext(ctx context.Context) (model.Credentials, bool) {
	creds, ok := ctx.Value(credentialsContextKey).(model.Credentials)
	return creds, ok
}

// ContextWithCredentials はコンテキストにトークンの組を注入する。
func ContextWithCredentials(ctx context.Context, creds model.Credentials) context.Context {
	return context.WithValue(ctx, credentialsContextKey, creds)
}
