// Package identity は認証基盤（アカウント作成、セッション発行・交換・失効）を提供する。
//
// Providerはトークンの組（アクセストークン＋リフレッシュトークン）を発行・検証する。
// Clientは1つのアンビエントセッションだけを保持するクライアントコンテキストで、
// SignUpを呼ぶとアンビエントセッションが新しいアカウントに切り替わる。
package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/glucotrack/internal/model"
	"github.com/hitoshi/glucotrack/internal/repository"
)

// Backend はClientが利用する認証基盤の操作。
type Backend interface {
	SignUp(ctx context.Context, email, password string) (*model.Identity, *model.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Identity, *model.Session, error)
	ExchangeSession(ctx context.Context, creds model.Credentials) (*model.Identity, *model.Session, error)
	GetUser(ctx context.Context, accessToken string) (*model.Identity, error)
	SignOut(ctx context.Context, refreshToken string) error
}

// Config は認証基盤の設定。
type Config struct {
	RefreshTokenTTL   time.Duration
	PasswordMinLength int
	ServiceRoleKey    string // 空の場合は特権操作を無効化する
}

// Provider はBackendの実装。
type Provider struct {
	identities repository.IdentityRepository
	tokens     repository.RefreshTokenRepository
	issuer     *TokenIssuer
	config     Config
	now        func() time.Time
}

// NewProvider はProviderを生成する。
func NewProvider(
	identities repository.IdentityRepository,
	tokens repository.RefreshTokenRepository,
	issuer *TokenIssuer,
	config Config,
) *Provider {
	if config.PasswordMinLength <= 0 {
		config.PasswordMinLength = DefaultPasswordMinLength
	}
	return &Provider{
		identities: identities,
		tokens:     tokens,
		issuer:     issuer,
		config:     config,
		now:        time.Now,
	}
}

// SignUp はアカウントを作成し、そのアカウントのセッションを発行する。
func (p *Provider) SignUp(ctx context.Context, email, password string) (*model.Identity, *model.Session, error) {
	identity, err := p.createIdentity(ctx, email, password)
	if err != nil {
		return nil, nil, err
	}

	session, err := p.issueSession(ctx, identity)
	if err != nil {
		return nil, nil, p.undoSignUp(ctx, identity.ID, err)
	}

	slog.Info("identity signed up", slog.String("user_id", identity.ID))
	return identity, session, nil
}

// SignInWithPassword はメールアドレスとパスワードで認証しセッションを発行する。
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*model.Identity, *model.Session, error) {
	identity, err := p.identities.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity == nil {
		return nil, nil, model.NewInvalidCredentialsError()
	}
	if err := VerifyPassword(identity.PasswordHash, password); err != nil {
		return nil, nil, model.NewInvalidCredentialsError()
	}

	session, err := p.issueSession(ctx, identity)
	if err != nil {
		return nil, nil, err
	}
	return identity, session, nil
}

// ExchangeSession はトークンの組からセッションを確立する。
// アクセストークンが有効な間は同じ組を返し、期限切れの場合はリフレッシュトークンで
// 新しい組にローテーションする。リフレッシュトークンが失効済み、または
// アクセストークンと異なるアカウントに属する場合はエラーを返す。
func (p *Provider) ExchangeSession(ctx context.Context, creds model.Credentials) (*model.Identity, *model.Session, error) {
	if creds.AccessToken == "" || creds.RefreshToken == "" {
		return nil, nil, model.NewSessionInvalidError("missing access or refresh token")
	}

	refreshHash := HashRefreshToken(creds.RefreshToken)
	stored, err := p.tokens.FindByHash(ctx, refreshHash)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find refresh token: %w", err)
	}
	if stored == nil {
		return nil, nil, model.NewSessionInvalidError("refresh token revoked or expired")
	}

	claims, err := p.issuer.Parse(creds.AccessToken)
	switch {
	case err == nil:
		if claims.Subject != stored.UserID {
			return nil, nil, model.NewSessionInvalidError("token pair mismatch")
		}
		identity, err := p.findIdentity(ctx, claims.Subject)
		if err != nil {
			return nil, nil, err
		}
		return identity, &model.Session{
			AccessToken:  creds.AccessToken,
			RefreshToken: creds.RefreshToken,
			UserID:       identity.ID,
			ExpiresAt:    claims.ExpiresAt.Time,
		}, nil

	case IsExpired(err):
		expired, perr := p.issuer.parseIgnoringExpiry(creds.AccessToken)
		if perr != nil || expired.Subject != stored.UserID {
			return nil, nil, model.NewSessionInvalidError("token pair mismatch")
		}
		identity, err := p.findIdentity(ctx, stored.UserID)
		if err != nil {
			return nil, nil, err
		}
		consumed, err := p.tokens.Consume(ctx, refreshHash)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to rotate refresh token: %w", err)
		}
		if consumed == nil {
			return nil, nil, model.NewSessionInvalidError("refresh token already used")
		}
		session, err := p.issueSession(ctx, identity)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("session rotated", slog.String("user_id", identity.ID))
		return identity, session, nil

	default:
		return nil, nil, model.NewSessionInvalidError(err.Error())
	}
}

// GetUser はアクセストークンを検証し、対応するidentityを返す。
func (p *Provider) GetUser(ctx context.Context, accessToken string) (*model.Identity, error) {
	if accessToken == "" {
		return nil, model.NewSessionInvalidError("missing access token")
	}
	claims, err := p.issuer.Parse(accessToken)
	if err != nil {
		return nil, model.NewSessionInvalidError(err.Error())
	}
	return p.findIdentity(ctx, claims.Subject)
}

// SignOut はリフレッシュトークンを失効させる。
// 発行済みのアクセストークンは有効期限まで検証を通る。
func (p *Provider) SignOut(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := p.tokens.DeleteByHash(ctx, HashRefreshToken(refreshToken)); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// Admin はサービスロールキーを検証し、特権操作用のハンドルを返す。
func (p *Provider) Admin(serviceKey string) (*Admin, error) {
	if p.config.ServiceRoleKey == "" || serviceKey == "" {
		return nil, model.NewServiceKeyInvalidError()
	}
	if subtle.ConstantTimeCompare([]byte(p.config.ServiceRoleKey), []byte(serviceKey)) != 1 {
		return nil, model.NewServiceKeyInvalidError()
	}
	return &Admin{provider: p}, nil
}

// createIdentity は入力を検証してidentityを永続化する。セッションは発行しない。
func (p *Provider) createIdentity(ctx context.Context, email, password string) (*model.Identity, error) {
	email = NormalizeEmail(email)
	if err := ValidateCredentials(email, password, p.config.PasswordMinLength); err != nil {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	identity := &model.Identity{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    p.now(),
	}
	if err := p.identities.Create(ctx, identity); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewEmailTakenError(email)
		}
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}
	return identity, nil
}

// undoSignUp はセッションを発行できなかったidentityを削除する。
// 削除できた場合はcauseをそのまま返し、できなかった場合はidentityが残ったことを示す不整合エラーを返す。
func (p *Provider) undoSignUp(ctx context.Context, identityID string, cause error) error {
	err := p.identities.DeleteByID(context.WithoutCancel(ctx), identityID)
	if err == nil || errors.Is(err, repository.ErrNotFound) {
		slog.Warn("sign-up undone: session could not be issued",
			slog.String("identity_id", identityID),
			slog.String("error", cause.Error()),
		)
		return cause
	}
	slog.Error("identity left without session after failed sign-up",
		slog.String("identity_id", identityID),
		slog.String("cause", cause.Error()),
		slog.String("error", err.Error()),
	)
	return model.NewSignUpIncompleteError(identityID, fmt.Sprintf("%v; delete: %v", cause, err))
}

func (p *Provider) findIdentity(ctx context.Context, id string) (*model.Identity, error) {
	identity, err := p.identities.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity == nil {
		return nil, model.NewSessionInvalidError("identity no longer exists")
	}
	return identity, nil
}

// issueSession はアクセストークンとリフレッシュトークンを発行し、リフレッシュトークンを保存する。
func (p *Provider) issueSession(ctx context.Context, identity *model.Identity) (*model.Session, error) {
	access, expiresAt, err := p.issuer.Issue(identity)
	if err != nil {
		return nil, err
	}

	refresh, err := generateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	now := p.now()
	if err := p.tokens.Create(ctx, &model.RefreshToken{
		TokenHash: HashRefreshToken(refresh),
		UserID:    identity.ID,
		ExpiresAt: now.Add(p.config.RefreshTokenTTL),
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("failed to save refresh token: %w", err)
	}

	return &model.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		UserID:       identity.ID,
		ExpiresAt:    expiresAt,
	}, nil
}

// compile-time interface check
var _ Backend = (*Provider)(nil)
