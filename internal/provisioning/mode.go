package provisioning

import (
	"fmt"
	"log/slog"

	"github.com/hitoshi/glucotrack/internal/identity"
	"github.com/hitoshi/glucotrack/internal/metrics"
	"github.com/hitoshi/glucotrack/internal/saga"
	"github.com/hitoshi/glucotrack/internal/security"
	"github.com/hitoshi/glucotrack/internal/store"
)

// Deps はProvisionerの生成に必要な依存。
type Deps struct {
	Provider          *identity.Provider
	ServiceRoleKey    string
	Store             *store.Store
	Compensator       *saga.Compensator
	Sanitizer         security.TextSanitizer
	Metrics           metrics.MetricsCollector
	PasswordMinLength int
}

// New は指定された方式のProvisionerを生成する。
// privilegedはサービスロールキーが有効な場合のみ選択でき、それ以外は起動エラーとする。
func New(mode string, deps Deps) (Provisioner, error) {
	switch mode {
	case "", ModeHandoff:
		slog.Warn("provisioning runs in handoff mode: identities orphaned by a failed profile insert cannot be rolled back")
		return NewHandoff(deps.Store, deps.Sanitizer, deps.Metrics, deps.PasswordMinLength), nil

	case ModePrivileged:
		admin, err := deps.Provider.Admin(deps.ServiceRoleKey)
		if err != nil {
			return nil, fmt.Errorf("privileged provisioning requires a valid SERVICE_ROLE_KEY: %w", err)
		}
		compensator := deps.Compensator
		if compensator == nil {
			compensator = saga.NewCompensator(saga.DefaultAttempts, saga.DefaultBackoff)
		}
		return NewPrivileged(admin, deps.Store, compensator, deps.Sanitizer, deps.Metrics, deps.PasswordMinLength), nil

	default:
		return nil, fmt.Errorf("unknown provisioning mode: %q (allowed: %s, %s)", mode, ModeHandoff, ModePrivileged)
	}
}
