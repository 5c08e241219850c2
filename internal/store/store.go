// Package store はプロフィールと測定値へのアクセスに行レベルの可視性ルールを適用する。
//
// すべての操作は明示的なmodel.Actorを受け取り、リポジトリを呼ぶ前にルールを評価する。
// 読み取りで見えない行は存在しないものとして扱い、書き込みの違反はFORBIDDENを返す。
package store

import (
	"context"
	"fmt"

	"github.com/hitoshi/glucotrack/internal/model"
	"github.com/hitoshi/glucotrack/internal/repository"
)

// Store は可視性ルール付きのデータアクセスを提供する。
type Store struct {
	profiles repository.ProfileRepository
	readings repository.ReadingRepository
}

// New はStoreを生成する。
func New(profiles repository.ProfileRepository, readings repository.ReadingRepository) *Store {
	return &Store{profiles: profiles, readings: readings}
}

// InsertProfile はプロフィールを作成する。
// 本人またはサービスロールのみが作成でき、医師参照は患者のみが持ち、参照先は医師でなければならない。
func (s *Store) InsertProfile(ctx context.Context, actor model.Actor, profile *model.Profile) error {
	if !actor.Privileged && actor.UserID != profile.ID {
		return model.NewForbiddenError("profiles can only be created by their owner")
	}
	if !profile.Role.Valid() {
		return model.NewValidationError(fmt.Sprintf("unknown role: %q", profile.Role))
	}
	if profile.DoctorID != nil {
		if profile.Role != model.RolePatient {
			return model.NewForbiddenError("only patients can reference a doctor")
		}
		doctor, err := s.profiles.FindByID(ctx, *profile.DoctorID)
		if err != nil {
			return fmt.Errorf("failed to verify doctor reference: %w", err)
		}
		if doctor == nil || doctor.Role != model.RoleDoctor {
			return model.NewForbiddenError("doctor reference must point at a doctor profile")
		}
	}

	if err := s.profiles.Create(ctx, profile); err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// GetProfile はActorから見えるプロフィールを返す。
// 本人、紐づく医師、サービスロール以外には見えず、その場合はnilを返す。
func (s *Store) GetProfile(ctx context.Context, actor model.Actor, id string) (*model.Profile, error) {
	if actor.IsAnonymous() {
		return nil, nil
	}
	profile, err := s.profiles.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("select profile: %w", err)
	}
	if profile == nil || !canSeeProfile(actor, profile) {
		return nil, nil
	}
	return profile, nil
}

// InsertReading は測定値を作成する。本人の患者プロフィールに対してのみ作成できる。
func (s *Store) InsertReading(ctx context.Context, actor model.Actor, reading *model.Reading) error {
	if actor.UserID == "" || actor.UserID != reading.UserID {
		return model.NewForbiddenError("readings can only be created by their owner")
	}
	owner, err := s.profiles.FindByID(ctx, reading.UserID)
	if err != nil {
		return fmt.Errorf("failed to verify reading owner: %w", err)
	}
	if owner == nil || owner.Role != model.RolePatient {
		return model.NewForbiddenError("readings can only be created by patients")
	}

	if err := s.readings.Create(ctx, reading); err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// ListReadings は患者の測定値を新しい順に返す。本人または紐づく医師のみ参照できる。
func (s *Store) ListReadings(ctx context.Context, actor model.Actor, userID string) ([]model.Reading, error) {
	if actor.IsAnonymous() {
		return nil, model.NewForbiddenError("authentication required")
	}
	if !actor.Privileged && actor.UserID != userID {
		owner, err := s.profiles.FindByID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("select profile: %w", err)
		}
		if owner == nil || !isLinkedDoctor(actor, owner) {
			return nil, model.NewForbiddenError("readings are visible only to the patient and their doctor")
		}
	}

	readings, err := s.readings.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("select readings: %w", err)
	}
	return readings, nil
}

// ListRoster はActorに紐づく患者とその測定値を返す。Actorは医師でなければならない。
func (s *Store) ListRoster(ctx context.Context, actor model.Actor) ([]model.PatientWithReadings, error) {
	if actor.UserID == "" {
		return nil, model.NewForbiddenError("roster requires a doctor")
	}
	doctor, err := s.profiles.FindByID(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("select profile: %w", err)
	}
	if doctor == nil || doctor.Role != model.RoleDoctor {
		return nil, model.NewForbiddenError("roster requires a doctor")
	}

	patients, err := s.profiles.ListPatientsWithReadings(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("select roster: %w", err)
	}
	return patients, nil
}

func canSeeProfile(actor model.Actor, profile *model.Profile) bool {
	return actor.Privileged || actor.UserID == profile.ID || isLinkedDoctor(actor, profile)
}

func isLinkedDoctor(actor model.Actor, patient *model.Profile) bool {
	return patient.Role == model.RolePatient && patient.DoctorID != nil && *patient.DoctorID == actor.UserID
}
