package orchestrator

import (
	"context"
	"fmt"

	"github.com/agentsquads/fleet/controlplane"
)

// Provision turns a TenantConfig into a running application and returns
// its public URL. Steps run strictly in order: create (deployment
// deferred), push environment, configure health policy and limits, start.
//
// Any step failure aborts the rest and is reported in the result; no
// cleanup is attempted here. A half-created application is left for
// operator inspection or a later Deprovision call rather than risking a
// cleanup bug compounding the original failure.
func (o *Orchestrator) Provision(ctx context.Context, tenant TenantConfig) (ProvisionResult, error) {
	res := ProvisionResult{TenantID: tenant.TenantID, Status: StatusFailed}

	if tenant.TenantID == "" {
		return o.provisionFailed(ctx, res, fmt.Errorf("tenant id is required"))
	}
	if tenant.Subdomain == "" {
		return o.provisionFailed(ctx, res, fmt.Errorf("subdomain is required"))
	}

	return o.provisionOn(ctx, tenant, o.s.ServerUUID, tenant.Subdomain)
}

// provisionOn is the shared core used by Provision and the migrator, which
// places the new instance on a different server under a temporary
// subdomain.
func (o *Orchestrator) provisionOn(ctx context.Context, tenant TenantConfig, serverUUID, subdomain string) (ProvisionResult, error) {
	res := ProvisionResult{TenantID: tenant.TenantID, Status: StatusFailed}

	image := tenant.Image
	if image == "" {
		image = o.s.Image
	}
	tag := tenant.Tag
	if tag == "" {
		tag = o.s.Tag
	}
	memory := tenant.MemoryLimit
	if memory == "" {
		memory = o.s.MemoryLimit
	}

	fqdn := o.TenantURL(subdomain)
	name := AppName(tenant.TenantID)

	o.log.Info("provisioning tenant", "tenant", tenant.TenantID, "name", name, "fqdn", fqdn, "server", serverUUID)

	app, err := o.cp.CreateApplication(ctx, controlplane.CreateApplicationRequest{
		ServerUUID:      serverUUID,
		ProjectUUID:     o.s.ProjectUUID,
		EnvironmentName: o.s.EnvironmentName,
		Image:           image,
		Tag:             tag,
		Name:            name,
		Description:     "agent instance for tenant " + tenant.TenantID,
		Domains:         fqdn,
		InstantDeploy:   false,
	})
	if err != nil {
		return o.provisionFailed(ctx, res, fmt.Errorf("create application: %w", err))
	}
	res.AppUUID = app.UUID

	if err := o.cp.UpdateEnvVarsBulk(ctx, app.UUID, buildEnvVars(tenant)); err != nil {
		return o.provisionFailed(ctx, res, fmt.Errorf("set environment: %w", err))
	}

	healthEnabled := true
	if _, err := o.cp.UpdateApplication(ctx, app.UUID, controlplane.UpdateApplicationRequest{
		HealthCheckEnabled:  &healthEnabled,
		HealthCheckPath:     healthCheckPath,
		HealthCheckInterval: healthCheckEvery,
		LimitsMemory:        memory,
	}); err != nil {
		return o.provisionFailed(ctx, res, fmt.Errorf("configure application: %w", err))
	}

	if _, err := o.cp.StartApplication(ctx, app.UUID); err != nil {
		return o.provisionFailed(ctx, res, fmt.Errorf("start application: %w", err))
	}

	res.Status = StatusProvisioned
	res.URL = fqdn
	o.log.Info("tenant provisioned", "tenant", tenant.TenantID, "app", app.UUID, "url", fqdn)
	o.journal.Record(ctx, "provision", tenant.TenantID, res.AppUUID, res.Status, fqdn)
	return res, nil
}

func (o *Orchestrator) provisionFailed(ctx context.Context, res ProvisionResult, err error) (ProvisionResult, error) {
	res.Error = err.Error()
	o.log.Error("provisioning failed", "tenant", res.TenantID, "app", res.AppUUID, "err", err)
	o.journal.Record(ctx, "provision", res.TenantID, res.AppUUID, res.Status, res.Error)
	return res, err
}

// VerifyTenant waits for a freshly provisioned tenant to answer its health
// endpoint. Kept separate from Provision so callers decide whether to
// block on readiness.
func (o *Orchestrator) VerifyTenant(ctx context.Context, tenantID, url string) error {
	if err := o.prober.WaitForHealthy(ctx, url, o.s.HealthTimeout); err != nil {
		o.log.Error("tenant failed readiness check", "tenant", tenantID, "url", url, "err", err)
		o.journal.Record(ctx, "verify", tenantID, "", StatusFailed, err.Error())
		return err
	}
	o.log.Info("tenant healthy", "tenant", tenantID, "url", url)
	o.journal.Record(ctx, "verify", tenantID, "", "healthy", url)
	return nil
}
