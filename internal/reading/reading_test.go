package reading

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/glucotrack/internal/analysis"
	"github.com/hitoshi/glucotrack/internal/identity"
	"github.com/hitoshi/glucotrack/internal/model"
	"github.com/hitoshi/glucotrack/internal/repository/memory"
	"github.com/hitoshi/glucotrack/internal/security"
	"github.com/hitoshi/glucotrack/internal/store"
)

// mockAnalyzer はAnalyzerのモック。
type mockAnalyzer struct {
	analyzeFn func(ctx context.Context, level int) (string, error)
	calls     int
}

func (m *mockAnalyzer) Analyze(ctx context.Context, level int) (string, error) {
	m.calls++
	return m.analyzeFn(ctx, level)
}

type fixture struct {
	db        *memory.DB
	readings  *memory.ReadingRepo
	service   *Service
	analyzer  *mockAnalyzer
	patientID string
	patient   model.Credentials
	doctor    model.Credentials
}

func newFixture(t *testing.T, analyzeFn func(context.Context, int) (string, error)) *fixture {
	t.Helper()
	ctx := context.Background()
	db := memory.New()
	provider := identity.NewProvider(db.Identities(), db.RefreshTokens(), identity.NewTokenIssuer("secret", time.Hour), identity.Config{
		RefreshTokenTTL: time.Hour,
	})
	readings := db.Readings()
	st := store.New(db.Profiles(), readings)

	doc, docSession, err := provider.SignUp(ctx, "doc@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignUp(doc) error = %v", err)
	}
	if err := st.InsertProfile(ctx, model.UserActor(doc.ID), &model.Profile{ID: doc.ID, FullName: "Doc", Role: model.RoleDoctor}); err != nil {
		t.Fatalf("doctor profile error = %v", err)
	}
	pat, patSession, err := provider.SignUp(ctx, "pat@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignUp(pat) error = %v", err)
	}
	if err := st.InsertProfile(ctx, model.UserActor(pat.ID), &model.Profile{ID: pat.ID, FullName: "Pat", Role: model.RolePatient, DoctorID: &doc.ID}); err != nil {
		t.Fatalf("patient profile error = %v", err)
	}

	analyzer := &mockAnalyzer{analyzeFn: analyzeFn}
	assessor := analysis.NewAssessor(analyzer, security.NewTextSanitizer(), nil, time.Second)

	return &fixture{
		db:        db,
		readings:  readings,
		service:   NewService(provider, st, assessor, nil),
		analyzer:  analyzer,
		patientID: pat.ID,
		patient:   patSession.Credentials(),
		doctor:    docSession.Credentials(),
	}
}

func okAnalysis(context.Context, int) (string, error) {
	return "Normal. Keep up your healthy eating pattern.", nil
}

func errCode(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

func TestSubmit_Success(t *testing.T) {
	f := newFixture(t, okAnalysis)

	result, err := f.service.Submit(context.Background(), f.patient, " 120 ")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	r := result.Reading
	if r.UserID != f.patientID || r.Level != 120 || r.ID == 0 {
		t.Errorf("reading = %+v", r)
	}
	if r.Analysis == nil || *r.Analysis != "Normal. Keep up your healthy eating pattern." {
		t.Errorf("analysis = %v", r.Analysis)
	}
	if result.Session == nil || result.Session.UserID != f.patientID {
		t.Errorf("session = %+v", result.Session)
	}
	if f.db.ReadingCount() != 1 {
		t.Errorf("ReadingCount() = %d, want 1", f.db.ReadingCount())
	}
}

func TestSubmit_AnalysisFailureStillSaves(t *testing.T) {
	f := newFixture(t, func(context.Context, int) (string, error) {
		return "", errors.New("dial tcp: connection refused")
	})

	result, err := f.service.Submit(context.Background(), f.patient, "65")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if f.db.ReadingCount() != 1 {
		t.Fatalf("ReadingCount() = %d, want exactly 1", f.db.ReadingCount())
	}
	if got := *result.Reading.Analysis; got != analysis.FallbackText {
		t.Errorf("analysis = %q, want fallback %q", got, analysis.FallbackText)
	}
	stored, _ := f.readings.ListByUserID(context.Background(), f.patientID)
	if *stored[0].Analysis != analysis.FallbackText {
		t.Errorf("stored analysis = %q", *stored[0].Analysis)
	}
}

func TestSubmit_InvalidLevelMakesNoCalls(t *testing.T) {
	for _, raw := range []string{"abc", "", "12.5", "-5", "0", "1e2"} {
		t.Run(raw, func(t *testing.T) {
			f := newFixture(t, okAnalysis)

			_, err := f.service.Submit(context.Background(), f.patient, raw)
			if errCode(err) != model.ErrCodeInvalidLevel {
				t.Fatalf("code = %q, want %q", errCode(err), model.ErrCodeInvalidLevel)
			}
			if f.analyzer.calls != 0 {
				t.Errorf("analyzer calls = %d, want 0", f.analyzer.calls)
			}
			if f.readings.Creates != 0 || f.db.ReadingCount() != 0 {
				t.Errorf("store creates = %d, readings = %d, want 0", f.readings.Creates, f.db.ReadingCount())
			}
		})
	}
}

func TestSubmit_InvalidSession(t *testing.T) {
	f := newFixture(t, okAnalysis)

	tests := []model.Credentials{
		{},
		{AccessToken: f.patient.AccessToken},
		{AccessToken: "garbage", RefreshToken: f.patient.RefreshToken},
	}
	for _, creds := range tests {
		_, err := f.service.Submit(context.Background(), creds, "100")
		if errCode(err) != model.ErrCodeSessionInvalid {
			t.Errorf("Submit(%+v) code = %q, want %q", creds, errCode(err), model.ErrCodeSessionInvalid)
		}
	}
	if f.analyzer.calls != 0 || f.readings.Creates != 0 {
		t.Errorf("calls analyzer=%d store=%d, want 0", f.analyzer.calls, f.readings.Creates)
	}
}

func TestSubmit_DoctorCannotSubmit(t *testing.T) {
	f := newFixture(t, okAnalysis)

	_, err := f.service.Submit(context.Background(), f.doctor, "100")
	if errCode(err) != model.ErrCodeForbidden {
		t.Errorf("code = %q, want %q", errCode(err), model.ErrCodeForbidden)
	}
	if f.db.ReadingCount() != 0 {
		t.Errorf("ReadingCount() = %d, want 0", f.db.ReadingCount())
	}
	if f.analyzer.calls != 0 {
		t.Errorf("analyzer calls = %d, want 0 (role is checked before analysis)", f.analyzer.calls)
	}
}

func TestSubmit_StoreFailure(t *testing.T) {
	f := newFixture(t, okAnalysis)
	f.readings.FailCreate = errors.New("connection reset")

	_, err := f.service.Submit(context.Background(), f.patient, "100")
	if errCode(err) != model.ErrCodeReadingSaveFailed {
		t.Errorf("code = %q, want %q", errCode(err), model.ErrCodeReadingSaveFailed)
	}
	if f.analyzer.calls != 1 {
		t.Errorf("analyzer calls = %d, want 1", f.analyzer.calls)
	}
}

func TestHistory_NewestFirst(t *testing.T) {
	f := newFixture(t, okAnalysis)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	clock := base
	f.db.SetClock(func() time.Time { return clock })

	for i, level := range []int{110, 65} {
		clock = base.Add(time.Duration(i) * time.Hour)
		if _, err := f.service.Submit(ctx, f.patient, strconv.Itoa(level)); err != nil {
			t.Fatalf("Submit(%d) error = %v", level, err)
		}
	}

	readings, session, err := f.service.History(ctx, f.patient)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if session == nil {
		t.Error("History() should return the session")
	}
	if len(readings) != 2 || readings[0].Level != 65 || readings[1].Level != 110 {
		t.Errorf("History() = %+v, want [65 110]", readings)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"120", 120, false},
		{" 65\n", 65, false},
		{"+90", 90, false},
		{"007", 7, false},
		{"5000", 5000, false},
		{"5001", 0, true},
		{"0", 0, true},
		{"-10", 0, true},
		{"12.5", 0, true},
		{"1e3", 0, true},
		{"abc", 0, true},
		{"", 0, true},
		{"+", 0, true},
		{"++5", 0, true},
		{"1 2", 0, true},
		{"99999999999999999999", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseLevel(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %d, want %d", tt.raw, got, tt.want)
			}
			if err != nil && errCode(err) != model.ErrCodeInvalidLevel {
				t.Errorf("code = %q", errCode(err))
			}
		})
	}
}
