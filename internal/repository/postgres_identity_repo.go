package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/glucotrack/internal/model"
)

// PostgresIdentityRepo はPostgreSQLを使用したidentityリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// Create はidentityを作成する。
func (r *PostgresIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO identities (id, email, password_hash, created_at)
		 VALUES ($1, $2, $3, $4)`,
		identity.ID, identity.Email, identity.PasswordHash, identity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create identity: %w", translatePQError(err))
	}
	return nil
}

// FindByID は指定IDのidentityを取得する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByID(ctx context.Context, id string) (*model.Identity, error) {
	return r.findOne(ctx,
		`SELECT id, email, password_hash, created_at FROM identities WHERE id = $1`, id)
}

// FindByEmail はメールアドレスでidentityを検索する。見つからない場合はnilを返す。
// メールアドレスは小文字に正規化して保存されている前提。
func (r *PostgresIdentityRepo) FindByEmail(ctx context.Context, email string) (*model.Identity, error) {
	return r.findOne(ctx,
		`SELECT id, email, password_hash, created_at FROM identities WHERE email = $1`, email)
}

func (r *PostgresIdentityRepo) findOne(ctx context.Context, query string, arg string) (*model.Identity, error) {
	identity := &model.Identity{}
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&identity.ID, &identity.Email, &identity.PasswordHash, &identity.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	return identity, nil
}

// DeleteByID は指定IDのidentityを削除する。
// 関連するrefresh_tokensはCASCADE削除される。
func (r *PostgresIdentityRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM identities WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete identity: %w", translatePQError(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("identity %s: %w", id, ErrNotFound)
	}
	return nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
