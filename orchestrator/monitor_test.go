package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentsquads/fleet/controlplane"
)

func monitorSettings() MonitorSettings {
	return MonitorSettings{
		Concurrency:  4,
		CheckTimeout: time.Second,
	}
}

func addApp(plane *fakePlane, name, fqdn, status string) string {
	plane.mu.Lock()
	defer plane.mu.Unlock()
	plane.nextID++
	uuid := fmt.Sprintf("app-%d", plane.nextID)
	plane.apps[uuid] = &controlplane.Application{UUID: uuid, Name: name, FQDN: fqdn, Status: status}
	return uuid
}

func TestMonitorClassification(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	plane := newFakePlane()
	addApp(plane, "agent-tenant-a", healthy.URL, "running")
	addApp(plane, "agent-tenant-b", unhealthy.URL, "running")
	addApp(plane, "agent-tenant-c", "https://c.example.com", "stopped")
	addApp(plane, "coolify-proxy", "https://proxy.example.com", "running")

	m := NewMonitor(plane, NewProber(time.Millisecond), monitorSettings(), nil)
	report, err := m.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	// The unmanaged application must be filtered out.
	if report.TotalTenants != 3 {
		t.Fatalf("TotalTenants = %d, want 3", report.TotalTenants)
	}
	if report.Healthy+report.Unhealthy != report.TotalTenants {
		t.Fatalf("healthy %d + unhealthy %d != total %d", report.Healthy, report.Unhealthy, report.TotalTenants)
	}
	if report.Healthy != 1 || report.Unhealthy != 2 {
		t.Fatalf("healthy/unhealthy = %d/%d, want 1/2", report.Healthy, report.Unhealthy)
	}

	byName := map[string]TenantHealth{}
	for _, tenant := range report.Tenants {
		byName[tenant.Name] = tenant
	}

	a := byName["agent-tenant-a"]
	if !a.Healthy || a.HTTPStatus != http.StatusOK {
		t.Fatalf("tenant a = %+v, want healthy 200", a)
	}
	if a.ResponseTimeMs < 0 {
		t.Fatalf("tenant a response time = %d", a.ResponseTimeMs)
	}

	b := byName["agent-tenant-b"]
	if b.Healthy {
		t.Fatal("tenant b should be unhealthy")
	}
	if b.Error != "HTTP 503" {
		t.Fatalf("tenant b error = %q, want HTTP 503", b.Error)
	}

	c := byName["agent-tenant-c"]
	if c.Healthy {
		t.Fatal("tenant c should be unhealthy")
	}
	if c.Error != "status: stopped" {
		t.Fatalf("tenant c error = %q, want status: stopped", c.Error)
	}
	// Non-running tenants are not probed over HTTP.
	if c.HTTPStatus != 0 {
		t.Fatalf("tenant c http status = %d, want 0", c.HTTPStatus)
	}
}

func TestMonitorPreservesDiscoveryOrder(t *testing.T) {
	plane := newFakePlane()
	names := []string{"agent-tenant-x", "agent-tenant-y", "agent-tenant-z"}
	for _, name := range names {
		addApp(plane, name, "https://unreachable.invalid", "stopped")
	}

	m := NewMonitor(plane, NewProber(time.Millisecond), monitorSettings(), nil)
	report, err := m.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	for i, name := range names {
		if report.Tenants[i].Name != name {
			t.Fatalf("Tenants[%d] = %q, want %q", i, report.Tenants[i].Name, name)
		}
	}
}

func TestMonitorSendsAlertForUnhealthyFleet(t *testing.T) {
	var alerts atomic.Int32
	var payload alertPayload
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		alerts.Add(1)
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode alert: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer webhook.Close()

	plane := newFakePlane()
	addApp(plane, "agent-tenant-down", "https://down.example.com", "stopped")

	s := monitorSettings()
	s.WebhookURL = webhook.URL
	m := NewMonitor(plane, NewProber(time.Millisecond), s, nil)
	if _, err := m.Check(context.Background()); err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	if alerts.Load() != 1 {
		t.Fatalf("alerts = %d, want 1", alerts.Load())
	}
	if !strings.Contains(payload.Text, "1 of 1 tenants unhealthy") {
		t.Fatalf("alert text = %q", payload.Text)
	}
	if payload.Report.Unhealthy != 1 {
		t.Fatalf("alert report unhealthy = %d", payload.Report.Unhealthy)
	}
}

func TestMonitorAlertFailureDoesNotFailCheck(t *testing.T) {
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer webhook.Close()

	plane := newFakePlane()
	addApp(plane, "agent-tenant-down", "https://down.example.com", "stopped")

	s := monitorSettings()
	s.WebhookURL = webhook.URL
	m := NewMonitor(plane, NewProber(time.Millisecond), s, nil)
	report, err := m.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() should not fail on alert delivery, got %v", err)
	}
	if report.Unhealthy != 1 {
		t.Fatalf("Unhealthy = %d, want 1", report.Unhealthy)
	}
}

func TestMonitorHealthyFleetSendsNoAlert(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	var alerts atomic.Int32
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		alerts.Add(1)
	}))
	defer webhook.Close()

	plane := newFakePlane()
	addApp(plane, "agent-tenant-up", healthy.URL, "running")

	s := monitorSettings()
	s.WebhookURL = webhook.URL
	m := NewMonitor(plane, NewProber(time.Millisecond), s, nil)
	if _, err := m.Check(context.Background()); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if alerts.Load() != 0 {
		t.Fatalf("alerts = %d, want 0 for a healthy fleet", alerts.Load())
	}
}
