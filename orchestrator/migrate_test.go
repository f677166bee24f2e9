package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func migrationFixture(t *testing.T) (*fakePlane, *Orchestrator, string) {
	t.Helper()
	plane := newFakePlane()
	o := New(plane, testSettings(), nil, nil)

	src, err := o.Provision(context.Background(), TenantConfig{TenantID: "t1", Subdomain: "acme"})
	if err != nil {
		t.Fatalf("provision source: %v", err)
	}
	plane.mu.Lock()
	plane.calls = nil
	plane.mu.Unlock()
	return plane, o, src.AppUUID
}

func TestMigrateHappyPath(t *testing.T) {
	t.Parallel()
	plane, o, sourceUUID := migrationFixture(t)

	res, err := o.Migrate(context.Background(), TenantConfig{TenantID: "t1", Subdomain: "acme"}, sourceUUID, "srv-2")
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if res.Status != StatusMigrated {
		t.Fatalf("Status = %q, want migrated", res.Status)
	}
	if res.TargetAppUUID == "" || res.TargetAppUUID == sourceUUID {
		t.Fatalf("TargetAppUUID = %q", res.TargetAppUUID)
	}
	if res.URL != "https://acme.agents.example.com" {
		t.Fatalf("URL = %q", res.URL)
	}

	// Source removed, target carries the real domain.
	if _, ok := plane.apps[sourceUUID]; ok {
		t.Fatal("source application still exists")
	}
	target, ok := plane.apps[res.TargetAppUUID]
	if !ok {
		t.Fatal("target application missing")
	}
	if target.FQDN != "https://acme.agents.example.com" {
		t.Fatalf("target FQDN = %q, want real domain after cut-over", target.FQDN)
	}
}

func TestMigrateTargetProvisionedUnderTemporarySubdomain(t *testing.T) {
	t.Parallel()
	plane, o, sourceUUID := migrationFixture(t)

	var createdFQDN string
	// Capture the domain the target was created with before cut-over.
	plane.statusF = func(uuid string) string {
		plane.mu.Lock()
		if app, ok := plane.apps[uuid]; ok && createdFQDN == "" {
			createdFQDN = app.FQDN
		}
		plane.mu.Unlock()
		return "running"
	}

	if _, err := o.Migrate(context.Background(), TenantConfig{TenantID: "t1", Subdomain: "acme"}, sourceUUID, "srv-2"); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !strings.Contains(createdFQDN, "acme-migration.") {
		t.Fatalf("target created with FQDN %q, want temporary -migration subdomain", createdFQDN)
	}
}

func TestMigrateRollbackWhenTargetNeverRuns(t *testing.T) {
	t.Parallel()
	plane, o, sourceUUID := migrationFixture(t)

	// The target never leaves starting.
	plane.statusF = func(uuid string) string {
		if uuid == sourceUUID {
			return "running"
		}
		return "starting"
	}

	res, err := o.Migrate(context.Background(), TenantConfig{TenantID: "t1", Subdomain: "acme"}, sourceUUID, "srv-2")
	if err == nil {
		t.Fatal("Migrate() should fail when target never runs")
	}
	if res.Status != StatusRollback {
		t.Fatalf("Status = %q, want rollback", res.Status)
	}
	var timeoutErr *HealthTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("error type = %T, want *HealthTimeoutError", err)
	}

	// The target must be deleted, the source never stopped or deleted.
	if _, ok := plane.apps[res.TargetAppUUID]; ok {
		t.Fatal("target application survived rollback")
	}
	if _, ok := plane.apps[sourceUUID]; !ok {
		t.Fatal("source application was removed during rollback")
	}
	for _, call := range plane.calls {
		if call == "stop "+sourceUUID || call == "delete "+sourceUUID {
			t.Fatalf("source was touched: %q", call)
		}
	}
}

func TestMigrateRollbackWhenTargetProvisionFails(t *testing.T) {
	t.Parallel()
	plane, o, sourceUUID := migrationFixture(t)
	plane.failOn["create"] = errors.New("no capacity")

	res, err := o.Migrate(context.Background(), TenantConfig{TenantID: "t1", Subdomain: "acme"}, sourceUUID, "srv-2")
	if err == nil {
		t.Fatal("Migrate() should fail")
	}
	if res.Status != StatusRollback {
		t.Fatalf("Status = %q, want rollback", res.Status)
	}
	if _, ok := plane.apps[sourceUUID]; !ok {
		t.Fatal("source application was removed")
	}
}

func TestMigrateSourceTeardownFailureKeepsTarget(t *testing.T) {
	t.Parallel()
	plane, o, sourceUUID := migrationFixture(t)
	plane.failOn["delete"] = errors.New("delete refused")

	res, err := o.Migrate(context.Background(), TenantConfig{TenantID: "t1", Subdomain: "acme"}, sourceUUID, "srv-2")
	if err == nil {
		t.Fatal("Migrate() should report source teardown failure")
	}
	if res.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", res.Status)
	}
	// The cut-over already happened: the target must not be rolled back.
	if _, ok := plane.apps[res.TargetAppUUID]; !ok {
		t.Fatal("target application was removed after cut-over")
	}
}

func TestMigrateValidatesInput(t *testing.T) {
	t.Parallel()
	o := New(newFakePlane(), testSettings(), nil, nil)
	ctx := context.Background()

	if _, err := o.Migrate(ctx, TenantConfig{TenantID: "t1", Subdomain: "a"}, "", "srv-2"); err == nil {
		t.Fatal("Migrate() without source uuid should fail")
	}
	if _, err := o.Migrate(ctx, TenantConfig{TenantID: "t1", Subdomain: "a"}, "app-1", ""); err == nil {
		t.Fatal("Migrate() without target server should fail")
	}
	if _, err := o.Migrate(ctx, TenantConfig{}, "app-1", "srv-2"); err == nil {
		t.Fatal("Migrate() without tenant config should fail")
	}
}
