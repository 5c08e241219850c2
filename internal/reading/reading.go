// Package reading は患者による血糖値の登録と履歴参照を提供する。
package reading

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hitoshi/glucotrack/internal/identity"
	"github.com/hitoshi/glucotrack/internal/metrics"
	"github.com/hitoshi/glucotrack/internal/model"
	"github.com/hitoshi/glucotrack/internal/store"
)

// MaxLevel は受け付ける血糖値の上限（mg/dL）。
const MaxLevel = 5000

// Assessor は血糖値の所見を返す。失敗時もフォールバック文言を返し、エラーにはならない。
type Assessor interface {
	Assess(ctx context.Context, level int) string
}

// Service は測定値の登録と参照を行う。
type Service struct {
	backend  identity.Backend
	store    *store.Store
	assessor Assessor
	metrics  metrics.MetricsCollector
}

// NewService はServiceを生成する。
func NewService(backend identity.Backend, st *store.Store, assessor Assessor, collector metrics.MetricsCollector) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		backend:  backend,
		store:    st,
		assessor: assessor,
		metrics:  collector,
	}
}

// SubmitResult は登録結果。Sessionはトークンがローテーションされた場合に新しい組を持つ。
type SubmitResult struct {
	Reading *model.Reading
	Session *model.Session
}

// Submit は1件の測定値を登録する。
//
// 手順:
//  1. トークンの組からセッションを確立する
//  2. ユーザーが取得できることを確認する
//  3. 値を整数として検証する（解析サービス・ストアを呼ぶ前）
//  4. 本人のプロフィールが患者であることを確認する（解析サービスを呼ぶ前）
//  5. 所見を取得する（失敗時はフォールバック文言）
//  6. 本人の測定値として保存する
//
// 解析の失敗は保存を妨げない。保存の失敗のみがエラーになる。
func (s *Service) Submit(ctx context.Context, creds model.Credentials, rawLevel string) (*SubmitResult, error) {
	client, user, err := identity.Establish(ctx, s.backend, creds)
	if err != nil {
		return nil, err
	}

	level, err := ParseLevel(rawLevel)
	if err != nil {
		return nil, err
	}

	profile, err := s.store.GetProfile(ctx, client.Actor(), user.ID)
	if err != nil {
		return nil, model.NewReadingSaveFailedError(err.Error())
	}
	if profile == nil || profile.Role != model.RolePatient {
		return nil, model.NewForbiddenError("readings can only be submitted by patients")
	}

	analysis := s.assessor.Assess(ctx, level)

	reading := &model.Reading{
		UserID:   user.ID,
		Level:    level,
		Analysis: &analysis,
	}
	if err := s.store.InsertReading(ctx, client.Actor(), reading); err != nil {
		slog.Error("failed to save reading",
			slog.String("user_id", user.ID),
			slog.Int("level", level),
			slog.String("error", err.Error()),
		)
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		return nil, model.NewReadingSaveFailedError(err.Error())
	}

	s.metrics.RecordReadingSubmitted()
	slog.Info("reading submitted",
		slog.String("user_id", user.ID),
		slog.Int64("reading_id", reading.ID),
		slog.String("status", string(model.ClassifyLevel(level))),
	)
	return &SubmitResult{Reading: reading, Session: client.Session()}, nil
}

// History は本人の測定値を新しい順に返す。
func (s *Service) History(ctx context.Context, creds model.Credentials) ([]model.Reading, *model.Session, error) {
	client, user, err := identity.Establish(ctx, s.backend, creds)
	if err != nil {
		return nil, nil, err
	}
	readings, err := s.store.ListReadings(ctx, client.Actor(), user.ID)
	if err != nil {
		return nil, nil, err
	}
	return readings, client.Session(), nil
}

// ParseLevel は入力文字列を血糖値（mg/dL）に変換する。
// 前後の空白と先頭の"+"は許容する。小数、数値以外、0以下、MaxLevel超過は拒否する。
func ParseLevel(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	digits := strings.TrimPrefix(s, "+")
	if digits == "" {
		return 0, model.NewInvalidLevelError(raw)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, model.NewInvalidLevelError(raw)
		}
	}
	level, err := strconv.Atoi(digits)
	if err != nil || level <= 0 || level > MaxLevel {
		return 0, model.NewInvalidLevelError(raw)
	}
	return level, nil
}
