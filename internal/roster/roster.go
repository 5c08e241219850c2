// Package roster は医師向けの患者一覧とリスク集計を提供する。
package roster

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/hitoshi/glucotrack/internal/identity"
	"github.com/hitoshi/glucotrack/internal/model"
	"github.com/hitoshi/glucotrack/internal/store"
)

// Service は医師の担当患者を集計する。読み取り専用。
type Service struct {
	backend identity.Backend
	store   *store.Store
}

// NewService はServiceを生成する。
func NewService(backend identity.Backend, st *store.Store) *Service {
	return &Service{backend: backend, store: st}
}

// Roster は担当患者ごとの最新値・件数・リスク状態を返す。
func (s *Service) Roster(ctx context.Context, creds model.Credentials) ([]model.PatientSummary, *model.Session, error) {
	client, _, err := identity.Establish(ctx, s.backend, creds)
	if err != nil {
		return nil, nil, err
	}
	patients, err := s.store.ListRoster(ctx, client.Actor())
	if err != nil {
		return nil, nil, err
	}
	return Aggregate(patients), client.Session(), nil
}

// Summary は担当患者数とリスクのある患者数を返す。
func (s *Service) Summary(ctx context.Context, creds model.Credentials) (*model.RosterSummary, *model.Session, error) {
	summaries, session, err := s.Roster(ctx, creds)
	if err != nil {
		return nil, nil, err
	}
	summary := Summarize(summaries)
	return &summary, session, nil
}

// PatientReadings は担当患者1名の測定値を新しい順に返す。
// UUIDとして解釈できないIDは存在しない患者と同じくFORBIDDENを返す。
func (s *Service) PatientReadings(ctx context.Context, creds model.Credentials, patientID string) ([]model.Reading, *model.Session, error) {
	client, _, err := identity.Establish(ctx, s.backend, creds)
	if err != nil {
		return nil, nil, err
	}
	if _, err := uuid.Parse(patientID); err != nil {
		return nil, nil, model.NewForbiddenError("readings are visible only to the patient and their doctor")
	}
	readings, err := s.store.ListReadings(ctx, client.Actor(), patientID)
	if err != nil {
		return nil, nil, err
	}
	return readings, client.Session(), nil
}

// Aggregate は患者ごとの集計行を作る。
// 患者は氏名・ID順、測定値は作成日時の降順（同時刻はID降順）で並べ、先頭を最新値とする。
// 入力は変更しない。同じ入力には常に同じ出力を返す。
func Aggregate(patients []model.PatientWithReadings) []model.PatientSummary {
	ordered := make([]model.PatientWithReadings, len(patients))
	copy(ordered, patients)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].Profile, ordered[j].Profile
		if a.FullName != b.FullName {
			return a.FullName < b.FullName
		}
		return a.ID < b.ID
	})

	summaries := make([]model.PatientSummary, 0, len(ordered))
	for _, p := range ordered {
		summary := model.PatientSummary{
			PatientID:    p.Profile.ID,
			FullName:     p.Profile.FullName,
			ReadingCount: len(p.Readings),
		}
		if latest := newest(p.Readings); latest != nil {
			level := latest.Level
			at := latest.CreatedAt
			summary.LatestLevel = &level
			summary.LatestAt = &at
		}
		summary.Status, summary.Severity = model.ClassifyLatest(summary.LatestLevel)
		summaries = append(summaries, summary)
	}
	return summaries
}

// Summarize は集計行から患者数とリスクのある患者数を数える。
func Summarize(summaries []model.PatientSummary) model.RosterSummary {
	result := model.RosterSummary{TotalPatients: len(summaries)}
	for _, s := range summaries {
		if s.Status == model.RiskStatusAtRisk {
			result.AtRiskPatients++
		}
	}
	return result
}

// newest は作成日時が最も新しい測定値を返す。同時刻の場合はIDが大きい方。
func newest(readings []model.Reading) *model.Reading {
	if len(readings) == 0 {
		return nil
	}
	sorted := make([]model.Reading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
		return sorted[i].ID > sorted[j].ID
	})
	return &sorted[0]
}
