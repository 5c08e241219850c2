package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/glucotrack/internal/identity"
	"github.com/hitoshi/glucotrack/internal/metrics"
	"github.com/hitoshi/glucotrack/internal/model"
	"github.com/hitoshi/glucotrack/internal/repository/memory"
	"github.com/hitoshi/glucotrack/internal/saga"
	"github.com/hitoshi/glucotrack/internal/security"
	"github.com/hitoshi/glucotrack/internal/store"
)

const serviceKey = "service-role-key"

type orphanCounter struct {
	metrics.Nop
	orphans   int
	rollbacks []bool
}

func (o *orphanCounter) RecordOrphanedIdentity(string) { o.orphans++ }
func (o *orphanCounter) RecordRollback(ok bool)        { o.rollbacks = append(o.rollbacks, ok) }

// incompleteSignUpBackend はSignUpでidentityが残ったまま失敗したことを返すBackend。
type incompleteSignUpBackend struct {
	*identity.Provider
}

func (incompleteSignUpBackend) SignUp(context.Context, string, string) (*model.Identity, *model.Session, error) {
	return nil, nil, model.NewSignUpIncompleteError("user-left", "token store down")
}

type fixture struct {
	db       *memory.DB
	profiles *memory.ProfileRepo
	provider *identity.Provider
	store    *store.Store
	metrics  *orphanCounter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memory.New()
	profiles := db.Profiles()
	provider := identity.NewProvider(db.Identities(), db.RefreshTokens(), identity.NewTokenIssuer("secret", time.Hour), identity.Config{
		RefreshTokenTTL: 24 * time.Hour,
		ServiceRoleKey:  serviceKey,
	})
	return &fixture{
		db:       db,
		profiles: profiles,
		provider: provider,
		store:    store.New(profiles, db.Readings()),
		metrics:  &orphanCounter{},
	}
}

func (f *fixture) service(t *testing.T, withAdmin bool) *Service {
	t.Helper()
	var admin *identity.Admin
	if withAdmin {
		var err error
		admin, err = f.provider.Admin(serviceKey)
		if err != nil {
			t.Fatalf("Admin() error = %v", err)
		}
	}
	return NewService(f.provider, admin, f.store, saga.NewCompensator(2, time.Millisecond), security.NewTextSanitizer(), f.metrics, 6)
}

func errCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

func TestRegister_Success(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, false)

	result, err := svc.Register(context.Background(), RegisterRequest{
		Email:    " Dr.Who@Example.com ",
		Password: "secret1",
		FullName: "<b>Dr</b> Who",
		Role:     model.RoleDoctor,
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if result.Identity.Email != "dr.who@example.com" {
		t.Errorf("email = %q, want normalized", result.Identity.Email)
	}
	if result.Profile.FullName != "Dr Who" {
		t.Errorf("full name = %q, want sanitized", result.Profile.FullName)
	}
	if result.DashboardPath != "/dashboard-doctor" {
		t.Errorf("DashboardPath = %q", result.DashboardPath)
	}
	if result.Session == nil || result.Session.UserID != result.Identity.ID {
		t.Errorf("Session = %+v, want a session for the new identity", result.Session)
	}
	if f.db.ProfileCount() != 1 {
		t.Errorf("ProfileCount = %d, want 1", f.db.ProfileCount())
	}
}

func TestRegister_RejectsBeforeSignUp(t *testing.T) {
	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"empty name", RegisterRequest{Email: "a@example.com", Password: "secret1", FullName: "  ", Role: model.RolePatient}},
		{"unknown role", RegisterRequest{Email: "a@example.com", Password: "secret1", FullName: "A", Role: "nurse"}},
		{"bad email", RegisterRequest{Email: "nope", Password: "secret1", FullName: "A", Role: model.RolePatient}},
		{"short password", RegisterRequest{Email: "a@example.com", Password: "123", FullName: "A", Role: model.RolePatient}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.service(t, false).Register(context.Background(), tt.req)
			if errCode(err) != model.ErrCodeValidation {
				t.Errorf("Register() error = %v, want %s", err, model.ErrCodeValidation)
			}
			if f.db.IdentityCount() != 0 {
				t.Errorf("IdentityCount = %d, want 0", f.db.IdentityCount())
			}
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, false)
	req := RegisterRequest{Email: "p@example.com", Password: "secret1", FullName: "P", Role: model.RolePatient}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	_, err := svc.Register(context.Background(), req)
	if errCode(err) != model.ErrCodeEmailTaken {
		t.Errorf("Register() error = %v, want %s", err, model.ErrCodeEmailTaken)
	}
}

func TestRegister_ProfileFailureWithoutAdminReportsOrphan(t *testing.T) {
	f := newFixture(t)
	f.profiles.FailCreate = errors.New("insert failed")

	_, err := f.service(t, false).Register(context.Background(), RegisterRequest{
		Email: "p@example.com", Password: "secret1", FullName: "P", Role: model.RolePatient,
	})
	if errCode(err) != model.ErrCodeProfileCreationFailed {
		t.Fatalf("Register() error = %v, want %s", err, model.ErrCodeProfileCreationFailed)
	}
	if !model.IsConsistencyError(err) {
		t.Error("orphaned identity should be reported as a consistency error")
	}
	if f.db.IdentityCount() != 1 {
		t.Errorf("IdentityCount = %d, want 1 (orphan cannot be deleted)", f.db.IdentityCount())
	}
	if f.metrics.orphans != 1 {
		t.Errorf("orphans = %d, want 1", f.metrics.orphans)
	}
}

func TestRegister_IncompleteSignUpCountsOrphan(t *testing.T) {
	f := newFixture(t)
	svc := NewService(incompleteSignUpBackend{f.provider}, nil, f.store, saga.NewCompensator(2, time.Millisecond), security.NewTextSanitizer(), f.metrics, 6)

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email: "p@example.com", Password: "secret1", FullName: "P", Role: model.RolePatient,
	})
	if errCode(err) != model.ErrCodeSignUpIncomplete {
		t.Fatalf("Register() error = %v, want %s", err, model.ErrCodeSignUpIncomplete)
	}
	if f.metrics.orphans != 1 {
		t.Errorf("orphans = %d, want 1", f.metrics.orphans)
	}
}

func TestRegister_ProfileFailureWithAdminRollsBack(t *testing.T) {
	f := newFixture(t)
	f.profiles.FailCreate = errors.New("insert failed")

	_, err := f.service(t, true).Register(context.Background(), RegisterRequest{
		Email: "p@example.com", Password: "secret1", FullName: "P", Role: model.RolePatient,
	})
	if errCode(err) != model.ErrCodeProfileCreationFailed {
		t.Fatalf("Register() error = %v, want %s", err, model.ErrCodeProfileCreationFailed)
	}
	if f.db.IdentityCount() != 0 {
		t.Errorf("IdentityCount = %d, want 0 after rollback", f.db.IdentityCount())
	}
	if len(f.metrics.rollbacks) != 1 || !f.metrics.rollbacks[0] {
		t.Errorf("rollbacks = %v, want [true]", f.metrics.rollbacks)
	}
	if f.metrics.orphans != 0 {
		t.Errorf("orphans = %d, want 0", f.metrics.orphans)
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, false)
	ctx := context.Background()
	if _, err := svc.Register(ctx, RegisterRequest{Email: "p@example.com", Password: "secret1", FullName: "P", Role: model.RolePatient}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	result, err := svc.Login(ctx, "P@example.com", "secret1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if result.Profile.Role != model.RolePatient || result.DashboardPath != "/dashboard-patient" {
		t.Errorf("Login() = role %s path %s", result.Profile.Role, result.DashboardPath)
	}

	if _, err := svc.Login(ctx, "p@example.com", "wrong-pass"); errCode(err) != model.ErrCodeInvalidCredentials {
		t.Errorf("Login(wrong password) error = %v, want %s", err, model.ErrCodeInvalidCredentials)
	}
	if _, err := svc.Login(ctx, "", ""); errCode(err) != model.ErrCodeValidation {
		t.Errorf("Login(empty) error = %v, want %s", err, model.ErrCodeValidation)
	}
}

func TestLogin_MissingProfileSignsOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// プロフィールなしのidentityを作る
	if _, _, err := f.provider.SignUp(ctx, "ghost@example.com", "secret1"); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	svc := f.service(t, false)
	_, err := svc.Login(ctx, "ghost@example.com", "secret1")
	if errCode(err) != model.ErrCodeProfileNotFound {
		t.Fatalf("Login() error = %v, want %s", err, model.ErrCodeProfileNotFound)
	}
	// SignUp時の1件のみ残り、ログインで発行した分は破棄されている
	if got := f.db.TokenCount(); got != 1 {
		t.Errorf("TokenCount = %d, want 1", got)
	}
}

func TestRefreshLogoutMe(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, false)
	ctx := context.Background()
	registered, err := svc.Register(ctx, RegisterRequest{Email: "d@example.com", Password: "secret1", FullName: "Doc", Role: model.RoleDoctor})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	creds := registered.Session.Credentials()

	me, session, err := svc.Me(ctx, creds)
	if err != nil {
		t.Fatalf("Me() error = %v", err)
	}
	if me.Profile.FullName != "Doc" || session.UserID != registered.Identity.ID {
		t.Errorf("Me() = %+v", me.Profile)
	}

	refreshed, err := svc.Refresh(ctx, creds)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if refreshed.RefreshToken != creds.RefreshToken {
		t.Error("unexpired session should not be rotated")
	}

	if err := svc.Logout(ctx, creds.RefreshToken); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if err := svc.Logout(ctx, creds.RefreshToken); err != nil {
		t.Errorf("second Logout() error = %v, want idempotent", err)
	}
	if _, err := svc.Refresh(ctx, creds); errCode(err) != model.ErrCodeSessionInvalid {
		t.Errorf("Refresh() after logout error = %v, want %s", err, model.ErrCodeSessionInvalid)
	}
	if err := svc.Logout(ctx, ""); errCode(err) != model.ErrCodeValidation {
		t.Errorf("Logout(\"\") error = %v, want %s", err, model.ErrCodeValidation)
	}
}
