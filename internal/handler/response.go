package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/glucotrack/internal/middleware"
	"github.com/hitoshi/glucotrack/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限。
const maxRequestBodySize = 64 << 10

// sessionResponse はトークンの組のレスポンス表現。
type sessionResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// messageResponse は変更系エンドポイントの共通レスポンス。
type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func toSessionResponse(session *model.Session) *sessionResponse {
	if session == nil {
		return nil
	}
	return &sessionResponse{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		ExpiresAt:    session.ExpiresAt.UTC(),
	}
}

// writeJSON はvをJSONで書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをdstに読み込む。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "failed to parse request body",
			Category: model.CategoryValidation,
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	middleware.WriteError(w, err)
}

// requestCredentials はセッションミドルウェアが検証したトークンの組を返す。
// ミドルウェアを通過していない場合はリクエストヘッダーから読む。
func requestCredentials(r *http.Request) model.Credentials {
	if creds, ok := middleware.CredentialsFromContext(r.Context()); ok {
		return creds
	}
	return middleware.CredentialsFromRequest(r)
}

// writeRotatedSession はサービス層で確立したセッションがリクエストと異なる場合にヘッダーで返す。
func writeRotatedSession(w http.ResponseWriter, r *http.Request, session *model.Session) {
	if session == nil {
		return
	}
	if session.RefreshToken != requestCredentials(r).RefreshToken {
		middleware.WriteSessionHeaders(w, session)
	}
}
