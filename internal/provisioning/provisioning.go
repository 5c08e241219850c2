// Package provisioning は医師による患者アカウントの作成を提供する。
//
// Handoffはアンビエントセッションを一時的に新しい患者へ切り替えてから医師に戻す方式、
// Privilegedはサービスロールでアカウントを作成し、プロフィール作成に失敗した場合は
// アカウントを削除して取り消す方式。どちらも1回の呼び出しで状態を順に進め、
// 到達した最も先の状態を結果として返す。
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hitoshi/glucotrack/internal/identity"
	"github.com/hitoshi/glucotrack/internal/metrics"
	"github.com/hitoshi/glucotrack/internal/model"
	"github.com/hitoshi/glucotrack/internal/security"
	"github.com/hitoshi/glucotrack/internal/store"
)

// 作成方式
const (
	ModeHandoff    = "handoff"
	ModePrivileged = "privileged"
)

// State はプロビジョニング1回分の進行状態。再入はしない。
type State string

const (
	StateIdle                   State = "Idle"
	StateDoctorVerified         State = "DoctorVerified"
	StatePatientCreated         State = "PatientCreated"
	StateProfileLinked          State = "ProfileLinked"
	StateProfileFailed          State = "ProfileFailed"
	StateSessionRestoredSuccess State = "SessionRestoredSuccess"
	StateSessionRestoredFailed  State = "SessionRestoredFailed"
	StateDone                   State = "Done"
)

// Request は新しい患者の入力値。
type Request struct {
	FullName string
	Email    string
	Password string
}

// Result はプロビジョニングの結果。
// StateはDoneに至る直前の到達状態、Traceは通過した全状態。
type Result struct {
	State      State
	Trace      []State
	PatientID  string
	RolledBack bool
	Err        error
}

// Succeeded は全ステップが成功したかを返す。
func (r Result) Succeeded() bool {
	return r.Err == nil
}

// Provisioner は患者作成の方式。
// clientには医師のセッションが確立済みであること。
// 同じclientに対して並行に呼び出してはならない。
type Provisioner interface {
	Provision(ctx context.Context, client *identity.Client, req Request) Result
	Mode() string
}

// tracker は状態遷移を記録する。
type tracker struct {
	result Result
}

func newTracker() *tracker {
	return &tracker{result: Result{State: StateIdle, Trace: []State{StateIdle}}}
}

func (t *tracker) advance(s State) {
	t.result.State = s
	t.result.Trace = append(t.result.Trace, s)
}

// finish はDoneを記録して結果を返す。Stateは直前の状態のまま残す。
func (t *tracker) finish(err error) Result {
	t.result.Trace = append(t.result.Trace, StateDone)
	t.result.Err = err
	return t.result
}

// fail は変更を行う前の失敗を返す。
func (t *tracker) fail(err error) Result {
	t.result.Err = err
	return t.result
}

// common は両方式に共通する依存と事前検証。
type common struct {
	store             *store.Store
	sanitizer         security.TextSanitizer
	metrics           metrics.MetricsCollector
	passwordMinLength int
}

// verifyDoctor はアンビエントセッションが有効で、医師プロフィールを持つことを確認する。
func (c *common) verifyDoctor(ctx context.Context, client *identity.Client) (*model.Identity, *model.Session, error) {
	snapshot := client.Session()
	if snapshot == nil {
		return nil, nil, model.NewDoctorSessionInvalidError("no active session")
	}
	doctor, err := client.GetUser(ctx)
	if err != nil {
		return nil, nil, model.NewDoctorSessionInvalidError(err.Error())
	}
	if doctor == nil {
		return nil, nil, model.NewDoctorSessionInvalidError("session has no user")
	}

	profile, err := c.store.GetProfile(ctx, model.UserActor(doctor.ID), doctor.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load doctor profile: %w", err)
	}
	if profile == nil {
		return nil, nil, model.NewProfileNotFoundError(doctor.ID)
	}
	if profile.Role != model.RoleDoctor {
		return nil, nil, model.NewForbiddenError("only doctors can add patients")
	}
	return doctor, snapshot, nil
}

// normalize は入力値を整形し、変更前に検証する。
func (c *common) normalize(req Request) (Request, error) {
	req.FullName = c.sanitizer.Sanitize(req.FullName)
	req.Email = identity.NormalizeEmail(req.Email)
	if req.FullName == "" {
		return req, model.NewValidationError("full name is required")
	}
	if err := identity.ValidateCredentials(req.Email, req.Password, c.passwordMinLength); err != nil {
		return req, err
	}
	return req, nil
}

func (c *common) patientProfile(patientID, fullName, doctorID string) *model.Profile {
	return &model.Profile{
		ID:       patientID,
		FullName: fullName,
		Role:     model.RolePatient,
		DoctorID: &doctorID,
	}
}

// providerMessage はAPIErrorならMessageを、それ以外はエラー文字列を返す。
func providerMessage(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return strings.TrimSpace(apiErr.Message)
	}
	return err.Error()
}
