// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/glucotrack/internal/model"
)

var (
	// ErrDuplicate は一意制約違反を表す。
	ErrDuplicate = errors.New("duplicate key")
	// ErrNotFound は更新・削除対象が存在しないことを表す。
	ErrNotFound = errors.New("record not found")
	// ErrConstraint は外部キー制約またはCHECK制約違反を表す。
	ErrConstraint = errors.New("constraint violation")
)

// IdentityRepository は認証アカウントの永続化インターフェース。
type IdentityRepository interface {
	// Create はidentityを作成する。メールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, identity *model.Identity) error

	// FindByID は指定IDのidentityを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Identity, error)

	// FindByEmail はメールアドレスでidentityを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Identity, error)

	// DeleteByID は指定IDのidentityを削除する。存在しない場合はErrNotFoundを返す。
	DeleteByID(ctx context.Context, id string) error
}

// RefreshTokenRepository はリフレッシュトークンの永続化インターフェース。
type RefreshTokenRepository interface {
	// Create はリフレッシュトークンを保存する。
	Create(ctx context.Context, token *model.RefreshToken) error

	// FindByHash はハッシュでリフレッシュトークンを取得する。期限切れの場合はnilを返す。
	FindByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error)

	// Consume は有効なリフレッシュトークンを削除し、削除したトークンを返す。
	// 未登録・期限切れ・他のリクエストが先に消費した場合はnilを返す。
	// 同じトークンに対して非nilを返すのは高々1回だけ。
	Consume(ctx context.Context, tokenHash string) (*model.RefreshToken, error)

	// DeleteByHash は指定ハッシュのリフレッシュトークンを削除する。
	DeleteByHash(ctx context.Context, tokenHash string) error

	// DeleteByUserID は指定ユーザーの全リフレッシュトークンを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ProfileRepository はプロフィールの永続化インターフェース。
// 可視性ルールは適用しない。呼び出し側（storeパッケージ）で評価する。
type ProfileRepository interface {
	// Create はプロフィールを作成する。
	// ID重複はErrDuplicate、doctor_idの参照先不在やロール不正はErrConstraintを返す。
	Create(ctx context.Context, profile *model.Profile) error

	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// ListPatientsWithReadings は医師に紐づく患者とその測定値を返す。
	// 患者は氏名・ID順、測定値は作成日時の降順（同時刻はID降順）。
	ListPatientsWithReadings(ctx context.Context, doctorID string) ([]model.PatientWithReadings, error)
}

// ReadingRepository は血糖値測定の永続化インターフェース。
type ReadingRepository interface {
	// Create は測定値を作成し、採番されたIDと作成日時をreadingに設定する。
	Create(ctx context.Context, reading *model.Reading) error

	// ListByUserID はユーザーの測定値を作成日時の降順（同時刻はID降順）で返す。
	ListByUserID(ctx context.Context, userID string) ([]model.Reading, error)
}
