// Package account は利用者自身の登録・ログイン・セッション操作を提供する。
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/glucotrack/internal/identity"
	"github.com/hitoshi/glucotrack/internal/metrics"
	"github.com/hitoshi/glucotrack/internal/model"
	"github.com/hitoshi/glucotrack/internal/saga"
	"github.com/hitoshi/glucotrack/internal/security"
	"github.com/hitoshi/glucotrack/internal/store"
)

// orphanSource は孤立identityのメトリクスに記録する発生元。
const orphanSource = "register"

// RegisterRequest は新規登録の入力値。
type RegisterRequest struct {
	Email    string
	Password string
	FullName string
	Role     model.Role
}

// Account はidentityとプロフィールの組。
type Account struct {
	Identity *model.Identity
	Profile  *model.Profile
}

// LoginResult はログイン結果。DashboardPathはロールごとの遷移先。
type LoginResult struct {
	Account
	Session       *model.Session
	DashboardPath string
}

// Service はアカウント操作のサービス層。
type Service struct {
	backend           identity.Backend
	admin             *identity.Admin // サービスロール未設定時はnil
	store             *store.Store
	compensator       *saga.Compensator
	sanitizer         security.TextSanitizer
	metrics           metrics.MetricsCollector
	passwordMinLength int
}

// NewService はServiceを生成する。adminがnilの場合、登録失敗時のidentity削除は行えない。
func NewService(
	backend identity.Backend,
	admin *identity.Admin,
	st *store.Store,
	compensator *saga.Compensator,
	sanitizer security.TextSanitizer,
	collector metrics.MetricsCollector,
	passwordMinLength int,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if compensator == nil {
		compensator = saga.NewCompensator(0, 0)
	}
	if passwordMinLength <= 0 {
		passwordMinLength = identity.DefaultPasswordMinLength
	}
	return &Service{
		backend:           backend,
		admin:             admin,
		store:             st,
		compensator:       compensator,
		sanitizer:         sanitizer,
		metrics:           collector,
		passwordMinLength: passwordMinLength,
	}
}

// Register はアカウントを作成し、本人のプロフィールを登録する。
// プロフィール登録に失敗した場合、サービスロールがあればidentityを削除し、
// なければ不整合エラーを返す。
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*LoginResult, error) {
	req.FullName = s.sanitizer.Sanitize(req.FullName)
	req.Email = identity.NormalizeEmail(req.Email)
	if req.FullName == "" {
		return nil, model.NewValidationError("full name is required")
	}
	if !req.Role.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("unknown role %q", req.Role))
	}
	if err := identity.ValidateCredentials(req.Email, req.Password, s.passwordMinLength); err != nil {
		return nil, err
	}

	client := identity.NewClient(s.backend)
	user, err := client.SignUp(ctx, req.Email, req.Password)
	if err != nil {
		if model.IsConsistencyError(err) {
			s.metrics.RecordOrphanedIdentity(orphanSource)
			slog.Error("identity orphaned: sign-up could not be undone", slog.String("error", err.Error()))
		}
		return nil, err
	}

	profile := &model.Profile{ID: user.ID, FullName: req.FullName, Role: req.Role}
	if err := s.store.InsertProfile(ctx, client.Actor(), profile); err != nil {
		return nil, s.abandon(ctx, client, user, err)
	}

	slog.Info("account registered",
		slog.String("user_id", user.ID),
		slog.String("role", string(req.Role)),
	)
	return &LoginResult{
		Account:       Account{Identity: user, Profile: profile},
		Session:       client.Session(),
		DashboardPath: req.Role.DashboardPath(),
	}, nil
}

// abandon はプロフィールのないidentityを後始末し、呼び出し元に返すエラーを組み立てる。
func (s *Service) abandon(ctx context.Context, client *identity.Client, user *model.Identity, profileErr error) error {
	if s.admin == nil {
		if err := client.SignOut(ctx); err != nil {
			slog.Warn("failed to revoke session of orphaned identity",
				slog.String("identity_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
		s.metrics.RecordOrphanedIdentity(orphanSource)
		slog.Error("identity orphaned: profile creation failed",
			slog.String("identity_id", user.ID),
			slog.String("error", profileErr.Error()),
		)
		return model.NewProfileCreationFailedError(user.ID, errorMessage(profileErr))
	}

	undoErr := s.compensator.Undo(ctx, "delete registered identity", func(ctx context.Context) error {
		return s.admin.DeleteUser(ctx, user.ID)
	})
	if undoErr != nil {
		s.metrics.RecordRollback(false)
		s.metrics.RecordOrphanedIdentity(orphanSource)
		slog.Error("identity orphaned: rollback failed",
			slog.String("identity_id", user.ID),
			slog.String("profile_error", profileErr.Error()),
			slog.String("error", undoErr.Error()),
		)
		return model.NewRollbackFailedError(user.ID, undoErr.Error())
	}
	s.metrics.RecordRollback(true)
	slog.Warn("registration rolled back after profile failure",
		slog.String("identity_id", user.ID),
		slog.String("error", profileErr.Error()),
	)
	return model.NewProfileCreationRolledBackError(errorMessage(profileErr))
}

// Login はメールアドレスとパスワードでログインし、ロールと遷移先を返す。
// プロフィールが存在しない場合は発行したセッションを破棄して失敗する。
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = identity.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, model.NewValidationError("email and password are required")
	}

	client := identity.NewClient(s.backend)
	user, session, err := client.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}

	profile, err := s.store.GetProfile(ctx, client.Actor(), user.ID)
	if err == nil && profile == nil {
		err = model.NewProfileNotFoundError(user.ID)
	}
	if err != nil {
		if signOutErr := client.SignOut(ctx); signOutErr != nil {
			slog.Warn("failed to revoke session after login failure",
				slog.String("user_id", user.ID),
				slog.String("error", signOutErr.Error()),
			)
		}
		return nil, err
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return &LoginResult{
		Account:       Account{Identity: user, Profile: profile},
		Session:       session,
		DashboardPath: profile.Role.DashboardPath(),
	}, nil
}

// Refresh はトークンの組を検証し、必要に応じてローテーションしたセッションを返す。
func (s *Service) Refresh(ctx context.Context, creds model.Credentials) (*model.Session, error) {
	client, _, err := identity.Establish(ctx, s.backend, creds)
	if err != nil {
		return nil, err
	}
	return client.Session(), nil
}

// Logout はリフレッシュトークンを失効させる。既に失効済みでもエラーにしない。
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return model.NewValidationError("refresh token is required")
	}
	if err := s.backend.SignOut(ctx, refreshToken); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

// Me は現在のセッションのidentityとプロフィールを返す。
func (s *Service) Me(ctx context.Context, creds model.Credentials) (*Account, *model.Session, error) {
	client, user, err := identity.Establish(ctx, s.backend, creds)
	if err != nil {
		return nil, nil, err
	}
	profile, err := s.store.GetProfile(ctx, client.Actor(), user.ID)
	if err != nil {
		return nil, nil, err
	}
	if profile == nil {
		return nil, nil, model.NewProfileNotFoundError(user.ID)
	}
	return &Account{Identity: user, Profile: profile}, client.Session(), nil
}

func errorMessage(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
