package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentsquads/fleet/controlplane"
	"github.com/google/uuid"
)

const migrationSubdomainSuffix = "-migration"

// Migrate moves a tenant to another server with minimal downtime:
// provision a new instance there, verify it is running, switch the public
// domain over, then tear down the source. The source is never touched
// before the cut-over, so a failed migration always leaves the tenant with
// a running instance.
//
// On failure before the cut-over the freshly created target is
// deprovisioned (best effort) and the original error is returned with
// status "rollback". A secondary rollback failure is logged but never
// masks the root cause.
func (o *Orchestrator) Migrate(ctx context.Context, tenant TenantConfig, sourceAppUUID, targetServerUUID string) (MigrateResult, error) {
	res := MigrateResult{TenantID: tenant.TenantID, SourceAppUUID: sourceAppUUID, Status: StatusFailed}
	runID := uuid.NewString()[:8]
	log := o.log.With("tenant", tenant.TenantID, "run", runID)

	if tenant.TenantID == "" || tenant.Subdomain == "" {
		err := fmt.Errorf("tenant id and subdomain are required")
		res.Error = err.Error()
		return res, err
	}
	if sourceAppUUID == "" || targetServerUUID == "" {
		err := fmt.Errorf("source app uuid and target server uuid are required")
		res.Error = err.Error()
		return res, err
	}

	log.Info("migration started", "source", sourceAppUUID, "target_server", targetServerUUID)

	// The target comes up under a temporary subdomain so it cannot collide
	// with the still-live source DNS entry.
	provisioned, err := o.provisionOn(ctx, tenant, targetServerUUID, tenant.Subdomain+migrationSubdomainSuffix)
	res.TargetAppUUID = provisioned.AppUUID
	if err != nil {
		return o.rollback(ctx, log, res, fmt.Errorf("provision target: %w", err))
	}

	if err := o.waitForRunning(ctx, provisioned.AppUUID); err != nil {
		return o.rollback(ctx, log, res, err)
	}
	log.Info("target healthy", "target", provisioned.AppUUID)

	// Cut-over instant: the target takes the tenant's real domain.
	realFQDN := o.TenantURL(tenant.Subdomain)
	if _, err := o.cp.UpdateApplication(ctx, provisioned.AppUUID, controlplane.UpdateApplicationRequest{Domains: realFQDN}); err != nil {
		return o.rollback(ctx, log, res, fmt.Errorf("switch domain: %w", err))
	}
	log.Info("domain switched", "target", provisioned.AppUUID, "fqdn", realFQDN)

	if _, err := o.Deprovision(ctx, tenant.TenantID, sourceAppUUID); err != nil {
		// The target is already serving the real domain; destroying it now
		// would take the tenant offline. The stale source is left for the
		// operator.
		res.Error = fmt.Errorf("remove source: %w", err).Error()
		log.Error("source teardown failed after cut-over", "source", sourceAppUUID, "err", err)
		o.journal.Record(ctx, "migrate", tenant.TenantID, provisioned.AppUUID, res.Status, res.Error)
		return res, fmt.Errorf("remove source: %w", err)
	}

	res.Status = StatusMigrated
	res.URL = realFQDN
	log.Info("migration complete", "source", sourceAppUUID, "target", provisioned.AppUUID)
	o.journal.Record(ctx, "migrate", tenant.TenantID, provisioned.AppUUID, res.Status, realFQDN)
	return res, nil
}

// waitForRunning polls the control-plane status (not just HTTP health)
// until the application reports running or the retry budget is exhausted.
func (o *Orchestrator) waitForRunning(ctx context.Context, appUUID string) error {
	for attempt := 1; attempt <= o.s.MigrationPollRetries; attempt++ {
		app, err := o.cp.GetApplication(ctx, appUUID)
		if err == nil && NormalizeState(app.Status) == StateRunning {
			return nil
		}
		if err != nil {
			o.log.Warn("status poll failed", "app", appUUID, "attempt", attempt, "err", err)
		}
		if attempt == o.s.MigrationPollRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.s.PollInterval):
		}
	}
	return &HealthTimeoutError{
		URL:     appUUID,
		Elapsed: time.Duration(o.s.MigrationPollRetries) * o.s.PollInterval,
	}
}

func (o *Orchestrator) rollback(ctx context.Context, log *slog.Logger, res MigrateResult, cause error) (MigrateResult, error) {
	res.Status = StatusRollback
	res.Error = cause.Error()
	log.Error("migration failed, rolling back", "target", res.TargetAppUUID, "err", cause)

	if res.TargetAppUUID != "" {
		if _, err := o.Deprovision(ctx, res.TenantID, res.TargetAppUUID); err != nil {
			log.Error("rollback deprovision failed", "target", res.TargetAppUUID, "err", err)
		} else {
			log.Info("rollback complete", "target", res.TargetAppUUID)
		}
	}

	o.journal.Record(ctx, "migrate", res.TenantID, res.TargetAppUUID, res.Status, res.Error)
	return res, cause
}
