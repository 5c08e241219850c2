package provisioning

import (
	"context"
	"log/slog"

	"github.com/hitoshi/glucotrack/internal/identity"
	"github.com/hitoshi/glucotrack/internal/metrics"
	"github.com/hitoshi/glucotrack/internal/model"
	"github.com/hitoshi/glucotrack/internal/saga"
	"github.com/hitoshi/glucotrack/internal/security"
	"github.com/hitoshi/glucotrack/internal/store"
)

// Privileged はサービスロールで患者を作成する。医師のアンビエントセッションには触れない。
// プロフィール作成に失敗した場合は作成済みidentityの削除を補償処理として実行する。
type Privileged struct {
	common
	admin       *identity.Admin
	compensator *saga.Compensator
}

// NewPrivileged はPrivilegedを生成する。
func NewPrivileged(
	admin *identity.Admin,
	st *store.Store,
	compensator *saga.Compensator,
	sanitizer security.TextSanitizer,
	collector metrics.MetricsCollector,
	passwordMinLength int,
) *Privileged {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if passwordMinLength <= 0 {
		passwordMinLength = identity.DefaultPasswordMinLength
	}
	return &Privileged{
		common: common{
			store:             st,
			sanitizer:         sanitizer,
			metrics:           collector,
			passwordMinLength: passwordMinLength,
		},
		admin:       admin,
		compensator: compensator,
	}
}

// Mode は作成方式を返す。
func (p *Privileged) Mode() string { return ModePrivileged }

// Provision は患者を作成し、医師に紐づける。
func (p *Privileged) Provision(ctx context.Context, client *identity.Client, req Request) Result {
	t := newTracker()
	result := p.provision(ctx, client, req, t)
	p.metrics.RecordProvisioning(ModePrivileged, string(result.State))
	return result
}

func (p *Privileged) provision(ctx context.Context, client *identity.Client, req Request, t *tracker) Result {
	doctor, _, err := p.verifyDoctor(ctx, client)
	if err != nil {
		return t.fail(err)
	}
	t.advance(StateDoctorVerified)

	req, err = p.normalize(req)
	if err != nil {
		return t.fail(err)
	}

	patient, err := p.admin.CreateUser(ctx, req.Email, req.Password)
	if err != nil {
		return t.fail(model.NewPatientCreationFailedError(providerMessage(err)))
	}
	t.result.PatientID = patient.ID
	t.advance(StatePatientCreated)

	profileErr := p.store.InsertProfile(ctx, model.ServiceActor(), p.patientProfile(patient.ID, req.FullName, doctor.ID))
	if profileErr == nil {
		t.advance(StateProfileLinked)
		slog.Info("patient provisioned",
			slog.String("mode", ModePrivileged),
			slog.String("doctor_id", doctor.ID),
			slog.String("patient_id", patient.ID),
		)
		return t.finish(nil)
	}
	t.advance(StateProfileFailed)

	undoErr := p.compensator.Undo(ctx, "delete patient identity", func(ctx context.Context) error {
		return p.admin.DeleteUser(ctx, patient.ID)
	})
	if undoErr != nil {
		p.metrics.RecordRollback(false)
		p.metrics.RecordOrphanedIdentity(ModePrivileged)
		slog.Error("patient identity orphaned: rollback failed",
			slog.String("identity_id", patient.ID),
			slog.String("doctor_id", doctor.ID),
			slog.String("profile_error", profileErr.Error()),
			slog.String("error", undoErr.Error()),
		)
		return t.finish(model.NewRollbackFailedError(patient.ID, undoErr.Error()))
	}

	p.metrics.RecordRollback(true)
	t.result.RolledBack = true
	slog.Warn("patient identity rolled back after profile failure",
		slog.String("identity_id", patient.ID),
		slog.String("error", profileErr.Error()),
	)
	return t.finish(model.NewProfileCreationRolledBackError(providerMessage(profileErr)))
}
