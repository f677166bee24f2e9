package orchestrator

import (
	"context"
	"errors"
	"testing"
)

func provisionTestTenant(t *testing.T, o *Orchestrator, plane *fakePlane) ProvisionResult {
	t.Helper()
	res, err := o.Provision(context.Background(), TenantConfig{TenantID: "t1", Subdomain: "acme"})
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	return res
}

func TestDeprovisionHappyPath(t *testing.T) {
	t.Parallel()
	plane := newFakePlane()
	o := New(plane, testSettings(), nil, nil)
	app := provisionTestTenant(t, o, plane)

	res, err := o.Deprovision(context.Background(), "t1", app.AppUUID)
	if err != nil {
		t.Fatalf("Deprovision() error = %v", err)
	}
	if res.Status != StatusDeprovisioned {
		t.Fatalf("Status = %q, want deprovisioned", res.Status)
	}
	if _, ok := plane.apps[app.AppUUID]; ok {
		t.Fatal("application still exists after deprovision")
	}
}

func TestDeprovisionStopFailureDoesNotBlockDelete(t *testing.T) {
	t.Parallel()
	plane := newFakePlane()
	o := New(plane, testSettings(), nil, nil)
	app := provisionTestTenant(t, o, plane)

	plane.failOn["stop"] = errors.New("already stopped")

	res, err := o.Deprovision(context.Background(), "t1", app.AppUUID)
	if err != nil {
		t.Fatalf("Deprovision() error = %v", err)
	}
	if res.Status != StatusDeprovisioned {
		t.Fatalf("Status = %q, want deprovisioned despite stop failure", res.Status)
	}

	ops := plane.callOps()
	sawDelete := false
	for _, op := range ops {
		if op == "delete" {
			sawDelete = true
		}
	}
	if !sawDelete {
		t.Fatalf("delete was not attempted, calls = %v", ops)
	}
}

func TestDeprovisionDeleteFailure(t *testing.T) {
	t.Parallel()
	plane := newFakePlane()
	o := New(plane, testSettings(), nil, nil)
	app := provisionTestTenant(t, o, plane)

	plane.failOn["delete"] = errors.New("control plane error")

	res, err := o.Deprovision(context.Background(), "t1", app.AppUUID)
	if err == nil {
		t.Fatal("Deprovision() should fail when delete fails")
	}
	if res.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", res.Status)
	}
	if res.Error == "" {
		t.Fatal("Error should be populated")
	}
}

func TestDeprovisionRequiresAppUUID(t *testing.T) {
	t.Parallel()
	o := New(newFakePlane(), testSettings(), nil, nil)
	if _, err := o.Deprovision(context.Background(), "t1", ""); err == nil {
		t.Fatal("Deprovision() without app uuid should fail")
	}
}
