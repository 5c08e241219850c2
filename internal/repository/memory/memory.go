// Package memory はrepositoryインターフェースのインメモリ実装を提供する。
// ワークフローのテストでPostgreSQLの代わりに使う。
// 外部キー・CHECK制約・トリガーによる整合性チェックをPostgreSQLのスキーマと同じ規則で再現する。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/glucotrack/internal/model"
	"github.com/hitoshi/glucotrack/internal/repository"
)

// DB は全リポジトリが共有するインメモリのデータ。
type DB struct {
	mu         sync.Mutex
	identities map[string]model.Identity
	tokens     map[string]model.RefreshToken
	profiles   map[string]model.Profile
	readings   []model.Reading
	nextID     int64
	now        func() time.Time
}

// New は空のDBを生成する。
func New() *DB {
	return &DB{
		identities: make(map[string]model.Identity),
		tokens:     make(map[string]model.RefreshToken),
		profiles:   make(map[string]model.Profile),
		now:        time.Now,
	}
}

// SetClock は作成日時・有効期限判定に使う時計を差し替える。
func (db *DB) SetClock(now func() time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.now = now
}

// Identities はIdentityRepositoryを返す。
func (db *DB) Identities() *IdentityRepo { return &IdentityRepo{db: db} }

// RefreshTokens はRefreshTokenRepositoryを返す。
func (db *DB) RefreshTokens() *RefreshTokenRepo { return &RefreshTokenRepo{db: db} }

// Profiles はProfileRepositoryを返す。
func (db *DB) Profiles() *ProfileRepo { return &ProfileRepo{db: db} }

// Readings はReadingRepositoryを返す。
func (db *DB) Readings() *ReadingRepo { return &ReadingRepo{db: db} }

// IdentityCount は登録済みidentityの件数を返す。
func (db *DB) IdentityCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.identities)
}

// RefreshTokenCount は保存されているリフレッシュトークンの件数を返す。
func (db *DB) RefreshTokenCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.tokens)
}

// ProfileCount は登録済みプロフィールの件数を返す。
func (db *DB) ProfileCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.profiles)
}

// TokenCount は保存済みリフレッシュトークンの件数を返す。
func (db *DB) TokenCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.tokens)
}

// ReadingCount は登録済み測定値の件数を返す。
func (db *DB) ReadingCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.readings)
}

// IdentityRepo はIdentityRepositoryのインメモリ実装。
type IdentityRepo struct {
	db *DB
}

func (r *IdentityRepo) Create(_ context.Context, identity *model.Identity) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.identities[identity.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, existing := range r.db.identities {
		if existing.Email == identity.Email {
			return repository.ErrDuplicate
		}
	}
	r.db.identities[identity.ID] = *identity
	return nil
}

func (r *IdentityRepo) FindByID(_ context.Context, id string) (*model.Identity, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	identity, ok := r.db.identities[id]
	if !ok {
		return nil, nil
	}
	return &identity, nil
}

func (r *IdentityRepo) FindByEmail(_ context.Context, email string) (*model.Identity, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, identity := range r.db.identities {
		if identity.Email == email {
			found := identity
			return &found, nil
		}
	}
	return nil, nil
}

// DeleteByID はidentityを削除し、ON DELETE CASCADEと同様に関連行も削除する。
func (r *IdentityRepo) DeleteByID(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.identities[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.db.identities, id)
	for hash, token := range r.db.tokens {
		if token.UserID == id {
			delete(r.db.tokens, hash)
		}
	}
	delete(r.db.profiles, id)
	kept := r.db.readings[:0]
	for _, reading := range r.db.readings {
		if reading.UserID != id {
			kept = append(kept, reading)
		}
	}
	r.db.readings = kept
	return nil
}

// RefreshTokenRepo はRefreshTokenRepositoryのインメモリ実装。
type RefreshTokenRepo struct {
	db *DB
}

func (r *RefreshTokenRepo) Create(_ context.Context, token *model.RefreshToken) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.identities[token.UserID]; !ok {
		return repository.ErrConstraint
	}
	if _, ok := r.db.tokens[token.TokenHash]; ok {
		return repository.ErrDuplicate
	}
	r.db.tokens[token.TokenHash] = *token
	return nil
}

func (r *RefreshTokenRepo) FindByHash(_ context.Context, tokenHash string) (*model.RefreshToken, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	token, ok := r.db.tokens[tokenHash]
	if !ok || !token.ExpiresAt.After(r.db.now()) {
		return nil, nil
	}
	return &token, nil
}

func (r *RefreshTokenRepo) Consume(_ context.Context, tokenHash string) (*model.RefreshToken, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	token, ok := r.db.tokens[tokenHash]
	if !ok {
		return nil, nil
	}
	delete(r.db.tokens, tokenHash)
	if !token.ExpiresAt.After(r.db.now()) {
		return nil, nil
	}
	return &token, nil
}

func (r *RefreshTokenRepo) DeleteByHash(_ context.Context, tokenHash string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.tokens, tokenHash)
	return nil
}

func (r *RefreshTokenRepo) DeleteByUserID(_ context.Context, userID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for hash, token := range r.db.tokens {
		if token.UserID == userID {
			delete(r.db.tokens, hash)
		}
	}
	return nil
}

// ProfileRepo はProfileRepositoryのインメモリ実装。
// FailCreateが設定されている場合、Createは常にそのエラーを返す。
type ProfileRepo struct {
	db         *DB
	FailCreate error
}

func (r *ProfileRepo) Create(_ context.Context, profile *model.Profile) error {
	if r.FailCreate != nil {
		return r.FailCreate
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.profiles[profile.ID]; ok {
		return repository.ErrDuplicate
	}
	if _, ok := r.db.identities[profile.ID]; !ok {
		return repository.ErrConstraint
	}
	if !profile.Role.Valid() {
		return repository.ErrConstraint
	}
	if profile.DoctorID != nil {
		if profile.Role != model.RolePatient {
			return repository.ErrConstraint
		}
		doctor, ok := r.db.profiles[*profile.DoctorID]
		if !ok || doctor.Role != model.RoleDoctor {
			return repository.ErrConstraint
		}
	}

	stored := *profile
	stored.CreatedAt = r.db.now()
	if profile.DoctorID != nil {
		id := *profile.DoctorID
		stored.DoctorID = &id
	}
	r.db.profiles[profile.ID] = stored
	profile.CreatedAt = stored.CreatedAt
	return nil
}

func (r *ProfileRepo) FindByID(_ context.Context, id string) (*model.Profile, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	profile, ok := r.db.profiles[id]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}

func (r *ProfileRepo) ListPatientsWithReadings(_ context.Context, doctorID string) ([]model.PatientWithReadings, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var result []model.PatientWithReadings
	for _, profile := range r.db.profiles {
		if profile.Role != model.RolePatient || profile.DoctorID == nil || *profile.DoctorID != doctorID {
			continue
		}
		result = append(result, model.PatientWithReadings{
			Profile:  profile,
			Readings: r.db.readingsOf(profile.ID),
		})
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i].Profile, result[j].Profile
		if a.FullName != b.FullName {
			return a.FullName < b.FullName
		}
		return a.ID < b.ID
	})
	return result, nil
}

// ReadingRepo はReadingRepositoryのインメモリ実装。
// FailCreateが設定されている場合、Createは常にそのエラーを返す。
type ReadingRepo struct {
	db         *DB
	FailCreate error
	Creates    int // Createの呼び出し回数
}

func (r *ReadingRepo) Create(_ context.Context, reading *model.Reading) error {
	r.Creates++
	if r.FailCreate != nil {
		return r.FailCreate
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	owner, ok := r.db.profiles[reading.UserID]
	if !ok || owner.Role != model.RolePatient {
		return repository.ErrConstraint
	}

	r.db.nextID++
	reading.ID = r.db.nextID
	if reading.CreatedAt.IsZero() {
		reading.CreatedAt = r.db.now()
	}
	r.db.readings = append(r.db.readings, *reading)
	return nil
}

func (r *ReadingRepo) ListByUserID(_ context.Context, userID string) ([]model.Reading, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.readingsOf(userID), nil
}

// readingsOf はユーザーの測定値を作成日時の降順（同時刻はID降順）で返す。mu保持中に呼ぶこと。
func (db *DB) readingsOf(userID string) []model.Reading {
	var result []model.Reading
	for _, reading := range db.readings {
		if reading.UserID == userID {
			result = append(result, reading)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result
}

// compile-time interface check
var (
	_ repository.IdentityRepository     = (*IdentityRepo)(nil)
	_ repository.RefreshTokenRepository = (*RefreshTokenRepo)(nil)
	_ repository.ProfileRepository      = (*ProfileRepo)(nil)
	_ repository.ReadingRepository      = (*ReadingRepo)(nil)
)
