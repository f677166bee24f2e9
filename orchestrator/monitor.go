package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/agentsquads/fleet/controlplane"
)

const (
	alertRequestTimeout = 10 * time.Second
	reportChannel       = "fleet:health:report"
)

// TenantHealth is the per-tenant entry of a fleet sweep.
type TenantHealth struct {
	AppUUID            string `json:"app_uuid"`
	Name               string `json:"name"`
	FQDN               string `json:"fqdn"`
	ControlPlaneStatus string `json:"control_plane_status"`
	Healthy            bool   `json:"healthy"`
	HTTPStatus         int    `json:"http_status,omitempty"`
	ResponseTimeMs     int64  `json:"response_time_ms,omitempty"`
	Error              string `json:"error,omitempty"`
}

// HealthReport aggregates one sweep. Tenants appear in discovery order
// from the control plane's list call.
type HealthReport struct {
	ReportID     string         `json:"report_id"`
	Timestamp    time.Time      `json:"timestamp"`
	TotalTenants int            `json:"total_tenants"`
	Healthy      int            `json:"healthy"`
	Unhealthy    int            `json:"unhealthy"`
	Tenants      []TenantHealth `json:"tenants"`
}

// MonitorSettings tunes the fleet sweep.
type MonitorSettings struct {
	// Concurrency bounds the fan-out; zero means unbounded.
	Concurrency int

	// CheckTimeout bounds each per-tenant HTTP probe.
	CheckTimeout time.Duration

	// WebhookURL receives an alert POST when any tenant is unhealthy.
	// Empty disables alerting.
	WebhookURL string
}

// Monitor performs read-only sweeps of every managed tenant application.
// Safe to invoke on a schedule or on demand.
type Monitor struct {
	cp     ControlPlane
	prober *Prober
	s      MonitorSettings
	rdb    *redis.Client
	client *http.Client
	log    *slog.Logger
}

// NewMonitor builds a Monitor. rdb may be nil to disable report publishing.
func NewMonitor(cp ControlPlane, prober *Prober, s MonitorSettings, rdb *redis.Client) *Monitor {
	if s.CheckTimeout <= 0 {
		s.CheckTimeout = probeRequestTimeout
	}
	if prober == nil {
		prober = NewProber(defaultPollInterval)
	}
	return &Monitor{
		cp:     cp,
		prober: prober,
		s:      s,
		rdb:    rdb,
		client: &http.Client{Timeout: alertRequestTimeout},
		log:    slog.Default().With("component", "monitor"),
	}
}

// Check sweeps the fleet once. Tenants are checked concurrently; the
// report preserves discovery order. Alert and publish failures are logged
// but never fail the sweep.
func (m *Monitor) Check(ctx context.Context) (HealthReport, error) {
	apps, err := m.cp.ListApplications(ctx)
	if err != nil {
		return HealthReport{}, fmt.Errorf("list applications: %w", err)
	}

	managed := make([]controlplane.Application, 0, len(apps))
	for _, app := range apps {
		if IsManagedName(app.Name) {
			managed = append(managed, app)
		}
	}

	results := make([]TenantHealth, len(managed))
	var wg sync.WaitGroup
	var sem chan struct{}
	if m.s.Concurrency > 0 {
		sem = make(chan struct{}, m.s.Concurrency)
	}

	for i, app := range managed {
		wg.Add(1)
		go func(i int, app controlplane.Application) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			results[i] = m.checkTenant(ctx, app)
		}(i, app)
	}
	wg.Wait()

	report := HealthReport{
		ReportID:     uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		TotalTenants: len(results),
		Tenants:      results,
	}
	for _, t := range results {
		if t.Healthy {
			report.Healthy++
		} else {
			report.Unhealthy++
		}
	}

	m.log.Info("fleet sweep complete", "total", report.TotalTenants, "healthy", report.Healthy, "unhealthy", report.Unhealthy)

	if report.Unhealthy > 0 && m.s.WebhookURL != "" {
		if err := m.sendAlert(ctx, report); err != nil {
			m.log.Warn("alert delivery failed", "err", err)
		}
	}
	m.publish(ctx, report)

	return report, nil
}

// checkTenant classifies one application: a non-running control-plane
// status is unhealthy by itself; otherwise a single HTTP probe decides.
func (m *Monitor) checkTenant(ctx context.Context, app controlplane.Application) TenantHealth {
	health := TenantHealth{
		AppUUID:            app.UUID,
		Name:               app.Name,
		FQDN:               app.FQDN,
		ControlPlaneStatus: app.Status,
	}

	state := NormalizeState(app.Status)
	if state != StateRunning {
		health.Error = "status: " + state
		return health
	}

	res, err := m.prober.CheckOnce(ctx, app.FQDN, m.s.CheckTimeout)
	if err != nil {
		health.Error = err.Error()
		return health
	}

	health.HTTPStatus = res.Status
	health.ResponseTimeMs = res.ResponseTime.Milliseconds()
	if res.Status >= 200 && res.Status < 300 {
		health.Healthy = true
		return health
	}
	health.Error = fmt.Sprintf("HTTP %d", res.Status)
	return health
}

// alertPayload is what the webhook receives: a human-readable summary plus
// the full report.
type alertPayload struct {
	Text   string       `json:"text"`
	Report HealthReport `json:"report"`
}

func (m *Monitor) sendAlert(ctx context.Context, report HealthReport) error {
	text := fmt.Sprintf("%d of %d tenants unhealthy", report.Unhealthy, report.TotalTenants)
	for _, t := range report.Tenants {
		if !t.Healthy {
			text += fmt.Sprintf("\n- %s: %s", t.Name, t.Error)
		}
	}

	body, err := json.Marshal(alertPayload{Text: text, Report: report})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.s.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

func (m *Monitor) publish(ctx context.Context, report HealthReport) {
	if m.rdb == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		m.log.Warn("encode report for publish", "err", err)
		return
	}
	if err := m.rdb.Publish(ctx, reportChannel, payload).Err(); err != nil {
		m.log.Warn("publish report failed", "err", err)
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Check(ctx); err != nil {
				m.log.Error("fleet sweep failed", "err", err)
			}
		}
	}
}
