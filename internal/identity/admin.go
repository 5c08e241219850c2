package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/glucotrack/internal/model"
	"github.com/hitoshi/glucotrack/internal/repository"
)

// Admin はサービスロールでのみ許可される特権操作を提供する。
// どの操作もClientのアンビエントセッションに影響しない。
type Admin struct {
	provider *Provider
}

// CreateUser はセッションを発行せずにアカウントを作成する。
func (a *Admin) CreateUser(ctx context.Context, email, password string) (*model.Identity, error) {
	identity, err := a.provider.createIdentity(ctx, email, password)
	if err != nil {
		return nil, err
	}
	slog.Info("identity created by service role", slog.String("user_id", identity.ID))
	return identity, nil
}

// DeleteUser はアカウントとそのリフレッシュトークンを削除する。
// 既に存在しない場合も成功として扱う（冪等）。
func (a *Admin) DeleteUser(ctx context.Context, id string) error {
	if err := a.provider.tokens.DeleteByUserID(ctx, id); err != nil {
		return fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	if err := a.provider.identities.DeleteByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete identity: %w", err)
	}
	slog.Info("identity deleted by service role", slog.String("user_id", id))
	return nil
}
