package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/glucotrack/internal/account"
	"github.com/hitoshi/glucotrack/internal/middleware"
	"github.com/hitoshi/glucotrack/internal/model"
)

// AccountServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	Register(ctx context.Context, req account.RegisterRequest) (*account.LoginResult, error)
	Login(ctx context.Context, email, password string) (*account.LoginResult, error)
	Refresh(ctx context.Context, creds model.Credentials) (*model.Session, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context, creds model.Credentials) (*account.Account, *model.Session, error)
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AccountServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AccountServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// userResponse はアカウント情報のレスポンス表現。
type userResponse struct {
	ID       string  `json:"id"`
	Email    string  `json:"email"`
	FullName string  `json:"full_name"`
	Role     string  `json:"role"`
	DoctorID *string `json:"doctor_id,omitempty"`
}

// loginResponse は登録・ログインのレスポンス。
type loginResponse struct {
	Success       bool             `json:"success"`
	Message       string           `json:"message"`
	User          userResponse     `json:"user"`
	Session       *sessionResponse `json:"session"`
	DashboardPath string           `json:"dashboard_path"`
}

type refreshResponse struct {
	Success bool             `json:"success"`
	Session *sessionResponse `json:"session"`
}

// Register は新規登録を処理する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Register(r.Context(), account.RegisterRequest{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Role:     model.Role(req.Role),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toLoginResponse(result, "Account created"))
}

// Login はメールアドレスとパスワードでのログインを処理する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoginResponse(result, "Signed in"))
}

// Refresh はトークンの組を検証し、必要ならローテーションした組を返す。
// POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Refresh(r.Context(), middleware.CredentialsFromRequest(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{Success: true, Session: toSessionResponse(session)})
}

// Logout はリフレッシュトークンを失効させる。
// トークンはX-Refresh-Tokenヘッダーまたはボディのrefresh_tokenで受け取る。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	refreshToken := middleware.CredentialsFromRequest(r).RefreshToken
	if refreshToken == "" && r.ContentLength != 0 {
		var req logoutRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		refreshToken = req.RefreshToken
	}

	if err := h.service.Logout(r.Context(), refreshToken); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Signed out"})
}

// Me は現在のセッションのアカウント情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	acct, session, err := h.service.Me(r.Context(), requestCredentials(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeRotatedSession(w, r, session)
	writeJSON(w, http.StatusOK, toUserResponse(acct.Identity, acct.Profile))
}

func toUserResponse(identity *model.Identity, profile *model.Profile) userResponse {
	resp := userResponse{ID: identity.ID, Email: identity.Email}
	if profile != nil {
		resp.FullName = profile.FullName
		resp.Role = string(profile.Role)
		resp.DoctorID = profile.DoctorID
	}
	return resp
}

func toLoginResponse(result *account.LoginResult, message string) loginResponse {
	return loginResponse{
		Success:       true,
		Message:       message,
		User:          toUserResponse(result.Identity, result.Profile),
		Session:       toSessionResponse(result.Session),
		DashboardPath: result.DashboardPath,
	}
}
