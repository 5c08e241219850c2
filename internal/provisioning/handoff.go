package provisioning

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/glucotrack/internal/identity"
	"github.com/hitoshi/glucotrack/internal/metrics"
	"github.com/hitoshi/glucotrack/internal/model"
	"github.com/hitoshi/glucotrack/internal/security"
	"github.com/hitoshi/glucotrack/internal/store"
)

// Handoff はアンビエントセッションを切り替えて患者を作成する。
//
// 手順:
//  1. 医師のIDとトークンの組を退避する
//  2. SignUpで患者を作成する（アンビエントセッションは患者に切り替わる）
//  3. 患者本人として医師参照付きのプロフィールを作成する
//  4. 3の成否に関わらず、退避したトークンで医師のセッションに戻す
//  5. 3と4の両方が成功した場合のみ成功とする
//
// サービスロールを持たないため、3が失敗した場合に作成済みの患者を削除できない。
// その場合は孤立したidentityとしてERRORログとメトリクスで通知する。
type Handoff struct {
	common
}

// NewHandoff はHandoffを生成する。
func NewHandoff(st *store.Store, sanitizer security.TextSanitizer, collector metrics.MetricsCollector, passwordMinLength int) *Handoff {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if passwordMinLength <= 0 {
		passwordMinLength = identity.DefaultPasswordMinLength
	}
	return &Handoff{common{
		store:             st,
		sanitizer:         sanitizer,
		metrics:           collector,
		passwordMinLength: passwordMinLength,
	}}
}

// Mode は作成方式を返す。
func (h *Handoff) Mode() string { return ModeHandoff }

// Provision は患者を作成し、医師に紐づける。
func (h *Handoff) Provision(ctx context.Context, client *identity.Client, req Request) Result {
	t := newTracker()
	result := h.provision(ctx, client, req, t)
	h.metrics.RecordProvisioning(ModeHandoff, string(result.State))
	return result
}

func (h *Handoff) provision(ctx context.Context, client *identity.Client, req Request, t *tracker) Result {
	// 1. 医師の検証とトークンの退避
	doctor, snapshot, err := h.verifyDoctor(ctx, client)
	if err != nil {
		return t.fail(err)
	}
	doctorID := doctor.ID
	doctorCreds := snapshot.Credentials()
	t.advance(StateDoctorVerified)

	req, err = h.normalize(req)
	if err != nil {
		return t.fail(err)
	}

	// 2. 患者の作成。ここでアンビエントセッションが患者に切り替わる
	patient, err := client.SignUp(ctx, req.Email, req.Password)
	if model.IsConsistencyError(err) {
		slog.Error("patient identity orphaned: sign-up could not be undone",
			slog.String("doctor_id", doctorID),
			slog.String("error", err.Error()),
		)
		h.metrics.RecordOrphanedIdentity(ModeHandoff)
		return t.fail(err)
	}
	if err != nil {
		slog.Info("patient sign-up rejected",
			slog.String("doctor_id", doctorID),
			slog.String("error", err.Error()),
		)
		return t.fail(model.NewPatientCreationFailedError(providerMessage(err)))
	}
	t.result.PatientID = patient.ID
	t.advance(StatePatientCreated)

	// 3. プロフィールの作成（患者本人として）
	profileErr := h.store.InsertProfile(ctx, client.Actor(), h.patientProfile(patient.ID, req.FullName, doctorID))
	if profileErr != nil {
		t.advance(StateProfileFailed)
	} else {
		t.advance(StateProfileLinked)
	}

	// 4. 医師のセッションに戻す（3の結果に関わらず実行）
	restoreErr := restoreSession(ctx, client, doctorCreds, doctorID)
	if restoreErr != nil {
		t.advance(StateSessionRestoredFailed)
	} else {
		t.advance(StateSessionRestoredSuccess)
	}

	// 5. 結果の集約
	var errs []error
	if profileErr != nil {
		slog.Error("patient identity orphaned: profile creation failed",
			slog.String("identity_id", patient.ID),
			slog.String("doctor_id", doctorID),
			slog.String("error", profileErr.Error()),
		)
		h.metrics.RecordOrphanedIdentity(ModeHandoff)
		errs = append(errs, model.NewProfileCreationFailedError(patient.ID, providerMessage(profileErr)))
	}
	if restoreErr != nil {
		slog.Error("doctor session lost after provisioning",
			slog.String("doctor_id", doctorID),
			slog.String("patient_id", patient.ID),
			slog.String("error", restoreErr.Error()),
		)
		errs = append(errs, model.NewSessionRestoreFailedError(patient.ID, restoreErr.Error()))
	}
	if len(errs) > 0 {
		return t.finish(errors.Join(errs...))
	}

	slog.Info("patient provisioned",
		slog.String("mode", ModeHandoff),
		slog.String("doctor_id", doctorID),
		slog.String("patient_id", patient.ID),
	)
	return t.finish(nil)
}

// restoreSession は退避したトークンでセッションを戻し、医師として認証されることを確認する。
func restoreSession(ctx context.Context, client *identity.Client, creds model.Credentials, doctorID string) error {
	if err := client.SetSession(ctx, creds); err != nil {
		return err
	}
	user, err := client.GetUser(ctx)
	if err != nil {
		return err
	}
	if user == nil || user.ID != doctorID {
		return errors.New("restored session does not belong to the doctor")
	}
	return nil
}
