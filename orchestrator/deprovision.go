package orchestrator

import (
	"context"
	"fmt"
	"time"
)

// Deprovision gracefully stops then deletes a tenant's application. A stop
// failure (already stopped, never started) is logged and never blocks the
// delete; only the delete step decides the outcome. The control plane
// removes the application's volumes along with it.
func (o *Orchestrator) Deprovision(ctx context.Context, tenantID, appUUID string) (DeprovisionResult, error) {
	res := DeprovisionResult{TenantID: tenantID, AppUUID: appUUID, Status: StatusFailed}

	if appUUID == "" {
		err := fmt.Errorf("app uuid is required")
		res.Error = err.Error()
		return res, err
	}

	o.log.Info("deprovisioning tenant", "tenant", tenantID, "app", appUUID)

	if _, err := o.cp.StopApplication(ctx, appUUID); err != nil {
		o.log.Warn("stop before delete failed, continuing", "tenant", tenantID, "app", appUUID, "err", err)
	} else {
		// Let in-flight requests drain before the instance disappears.
		select {
		case <-ctx.Done():
			res.Error = ctx.Err().Error()
			return res, ctx.Err()
		case <-time.After(o.s.StopGracePeriod):
		}
	}

	if err := o.cp.DeleteApplication(ctx, appUUID); err != nil {
		res.Error = err.Error()
		o.log.Error("delete application failed", "tenant", tenantID, "app", appUUID, "err", err)
		o.journal.Record(ctx, "deprovision", tenantID, appUUID, res.Status, res.Error)
		return res, fmt.Errorf("delete application: %w", err)
	}

	res.Status = StatusDeprovisioned
	o.log.Info("tenant deprovisioned", "tenant", tenantID, "app", appUUID)
	o.journal.Record(ctx, "deprovision", tenantID, appUUID, res.Status, "")
	return res, nil
}
