package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/glucotrack/internal/model"
	"github.com/hitoshi/glucotrack/internal/repository/memory"
)

func isForbidden(err error) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeForbidden
}

// seed は医師1名と患者2名（1名は医師に紐づく）を登録したStoreを返す。
func seed(t *testing.T) (*Store, *memory.DB) {
	t.Helper()
	ctx := context.Background()
	db := memory.New()
	for _, id := range []string{"doc", "other-doc", "pat", "stranger"} {
		if err := db.Identities().Create(ctx, &model.Identity{ID: id, Email: id + "@example.com"}); err != nil {
			t.Fatalf("seed identity %s: %v", id, err)
		}
	}
	s := New(db.Profiles(), db.Readings())
	doc := "doc"
	for _, p := range []*model.Profile{
		{ID: "doc", FullName: "Dr. A", Role: model.RoleDoctor},
		{ID: "other-doc", FullName: "Dr. B", Role: model.RoleDoctor},
		{ID: "pat", FullName: "Pat", Role: model.RolePatient, DoctorID: &doc},
		{ID: "stranger", FullName: "Stranger", Role: model.RolePatient},
	} {
		if err := s.InsertProfile(ctx, model.ServiceActor(), p); err != nil {
			t.Fatalf("seed profile %s: %v", p.ID, err)
		}
	}
	return s, db
}

func TestStore_InsertProfileRules(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	for _, id := range []string{"doc", "pat", "pat2", "pat3"} {
		_ = db.Identities().Create(ctx, &model.Identity{ID: id, Email: id})
	}
	s := New(db.Profiles(), db.Readings())
	doc := "doc"
	pat := "pat"

	if err := s.InsertProfile(ctx, model.UserActor("doc"), &model.Profile{ID: "doc", FullName: "D", Role: model.RoleDoctor}); err != nil {
		t.Fatalf("own doctor profile: %v", err)
	}

	tests := []struct {
		name    string
		actor   model.Actor
		profile model.Profile
		wantErr bool
	}{
		{"own patient profile linked to doctor", model.UserActor("pat"), model.Profile{ID: "pat", FullName: "P", Role: model.RolePatient, DoctorID: &doc}, false},
		{"other user's profile", model.UserActor("doc"), model.Profile{ID: "pat2", FullName: "P", Role: model.RolePatient}, true},
		{"anonymous", model.Actor{}, model.Profile{ID: "pat2", FullName: "P", Role: model.RolePatient}, true},
		{"doctor ref to a patient", model.UserActor("pat2"), model.Profile{ID: "pat2", FullName: "P", Role: model.RolePatient, DoctorID: &pat}, true},
		{"doctor carrying a doctor ref", model.UserActor("pat3"), model.Profile{ID: "pat3", FullName: "P", Role: model.RoleDoctor, DoctorID: &doc}, true},
		{"unknown role", model.UserActor("pat3"), model.Profile{ID: "pat3", FullName: "P", Role: "nurse"}, true},
		{"service actor", model.ServiceActor(), model.Profile{ID: "pat2", FullName: "P", Role: model.RolePatient, DoctorID: &doc}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.profile
			err := s.InsertProfile(ctx, tt.actor, &p)
			if (err != nil) != tt.wantErr {
				t.Errorf("InsertProfile() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStore_GetProfileVisibility(t *testing.T) {
	s, _ := seed(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		actor   model.Actor
		id      string
		visible bool
	}{
		{"own", model.UserActor("pat"), "pat", true},
		{"linked doctor", model.UserActor("doc"), "pat", true},
		{"other doctor", model.UserActor("other-doc"), "pat", false},
		{"other patient", model.UserActor("stranger"), "pat", false},
		{"anonymous", model.Actor{}, "pat", false},
		{"service", model.ServiceActor(), "pat", true},
		{"missing", model.ServiceActor(), "nobody", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.GetProfile(ctx, tt.actor, tt.id)
			if err != nil {
				t.Fatalf("GetProfile() error = %v", err)
			}
			if (got != nil) != tt.visible {
				t.Errorf("GetProfile() = %+v, visible want %v", got, tt.visible)
			}
		})
	}
}

func TestStore_Readings(t *testing.T) {
	s, db := seed(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	if err := s.InsertReading(ctx, model.UserActor("pat"), &model.Reading{UserID: "pat", Level: 110, CreatedAt: base}); err != nil {
		t.Fatalf("InsertReading() error = %v", err)
	}
	if err := s.InsertReading(ctx, model.UserActor("pat"), &model.Reading{UserID: "pat", Level: 65, CreatedAt: base.Add(time.Hour)}); err != nil {
		t.Fatalf("InsertReading() error = %v", err)
	}

	if err := s.InsertReading(ctx, model.UserActor("doc"), &model.Reading{UserID: "pat", Level: 100}); !isForbidden(err) {
		t.Errorf("doctor writing patient reading: err = %v, want FORBIDDEN", err)
	}
	if err := s.InsertReading(ctx, model.UserActor("doc"), &model.Reading{UserID: "doc", Level: 100}); !isForbidden(err) {
		t.Errorf("doctor writing own reading: err = %v, want FORBIDDEN", err)
	}
	if db.ReadingCount() != 2 {
		t.Fatalf("ReadingCount() = %d, want 2", db.ReadingCount())
	}

	for _, actor := range []model.Actor{model.UserActor("pat"), model.UserActor("doc")} {
		readings, err := s.ListReadings(ctx, actor, "pat")
		if err != nil {
			t.Fatalf("ListReadings(%s) error = %v", actor.UserID, err)
		}
		if len(readings) != 2 || readings[0].Level != 65 {
			t.Errorf("ListReadings(%s) = %+v, want newest first", actor.UserID, readings)
		}
	}

	for _, actor := range []model.Actor{model.UserActor("other-doc"), model.UserActor("stranger"), {}} {
		if _, err := s.ListReadings(ctx, actor, "pat"); !isForbidden(err) {
			t.Errorf("ListReadings(%q) err = %v, want FORBIDDEN", actor.UserID, err)
		}
	}
}

func TestStore_ListRoster(t *testing.T) {
	s, _ := seed(t)
	ctx := context.Background()

	roster, err := s.ListRoster(ctx, model.UserActor("doc"))
	if err != nil {
		t.Fatalf("ListRoster() error = %v", err)
	}
	if len(roster) != 1 || roster[0].Profile.ID != "pat" {
		t.Errorf("ListRoster() = %+v, want only the linked patient", roster)
	}

	other, err := s.ListRoster(ctx, model.UserActor("other-doc"))
	if err != nil {
		t.Fatalf("ListRoster(other) error = %v", err)
	}
	if len(other) != 0 {
		t.Errorf("ListRoster(other) = %+v, want empty", other)
	}

	if _, err := s.ListRoster(ctx, model.UserActor("pat")); !isForbidden(err) {
		t.Errorf("patient roster err = %v, want FORBIDDEN", err)
	}
	if _, err := s.ListRoster(ctx, model.Actor{}); !isForbidden(err) {
		t.Errorf("anonymous roster err = %v, want FORBIDDEN", err)
	}
}
