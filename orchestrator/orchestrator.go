// Package orchestrator turns signup events into running, network-addressable,
// health-verified agent instances, and can later migrate or tear them down.
// It keeps no durable state: every status query goes back to the control
// plane, so each operation is crash-safe and restartable.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/agentsquads/fleet/controlplane"
)

// ControlPlane is the narrow surface the lifecycle components need. The
// HTTP client in package controlplane implements it, as does the local
// docker driver in package dockerplane.
type ControlPlane interface {
	CreateApplication(ctx context.Context, req controlplane.CreateApplicationRequest) (controlplane.Application, error)
	GetApplication(ctx context.Context, uuid string) (controlplane.Application, error)
	ListApplications(ctx context.Context) ([]controlplane.Application, error)
	UpdateApplication(ctx context.Context, uuid string, req controlplane.UpdateApplicationRequest) (controlplane.Application, error)
	DeleteApplication(ctx context.Context, uuid string) error
	UpdateEnvVarsBulk(ctx context.Context, uuid string, envs []controlplane.EnvVar) error
	StartApplication(ctx context.Context, uuid string) (controlplane.LifecycleResponse, error)
	StopApplication(ctx context.Context, uuid string) (controlplane.LifecycleResponse, error)
	RestartApplication(ctx context.Context, uuid string) (controlplane.LifecycleResponse, error)
	ApplicationLogs(ctx context.Context, uuid string, lines int) (string, error)
}

// TenantConfig is the immutable input produced by the external
// signup/billing system. APIKeys are opaque secrets and are never logged.
type TenantConfig struct {
	TenantID    string            `json:"tenant_id"`
	Subdomain   string            `json:"subdomain"`
	Channels    []string          `json:"channels"`
	Model       string            `json:"model"`
	APIKeys     map[string]string `json:"api_keys"`
	Image       string            `json:"image,omitempty"`
	Tag         string            `json:"tag,omitempty"`
	MemoryLimit string            `json:"memory_limit,omitempty"`
}

// Normalized application statuses.
const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopped  = "stopped"
	StateFailed   = "failed"
	StateUnknown  = "unknown"
)

// Operation result statuses.
const (
	StatusProvisioned   = "provisioned"
	StatusDeprovisioned = "deprovisioned"
	StatusMigrated      = "migrated"
	StatusRollback      = "rollback"
	StatusFailed        = "failed"
)

// ProvisionResult is handed back to the external system, which owns the
// durable tenant-to-instance mapping.
type ProvisionResult struct {
	TenantID string `json:"tenant_id"`
	AppUUID  string `json:"app_uuid"`
	URL      string `json:"url"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// DeprovisionResult reports a teardown attempt.
type DeprovisionResult struct {
	TenantID string `json:"tenant_id"`
	AppUUID  string `json:"app_uuid"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// MigrateResult reports a host-to-host move.
type MigrateResult struct {
	TenantID       string `json:"tenant_id"`
	SourceAppUUID  string `json:"source_app_uuid"`
	TargetAppUUID  string `json:"target_app_uuid"`
	URL            string `json:"url,omitempty"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

// Settings carries the operational knobs injected from configuration.
// They describe where tenants deploy, which is external to any tenant's
// own config.
type Settings struct {
	ServerUUID      string
	ProjectUUID     string
	EnvironmentName string
	BaseDomain      string

	Image       string
	Tag         string
	MemoryLimit string

	StopGracePeriod      time.Duration
	PollInterval         time.Duration
	HealthTimeout        time.Duration
	MigrationPollRetries int
}

// Orchestrator composes the provisioner, deprovisioner and migrator on top
// of one ControlPlane.
type Orchestrator struct {
	cp      ControlPlane
	prober  *Prober
	journal *Journal
	s       Settings
	log     *slog.Logger
}

const (
	appNamePrefix    = "agent-tenant-"
	healthCheckPath  = "/health"
	healthCheckEvery = 30

	defaultStopGrace     = 5 * time.Second
	defaultPollInterval  = 3 * time.Second
	defaultHealthTimeout = 120 * time.Second
	defaultPollRetries   = 20
)

// New builds an Orchestrator. journal may be nil to disable the audit trail.
func New(cp ControlPlane, s Settings, prober *Prober, journal *Journal) *Orchestrator {
	if s.StopGracePeriod <= 0 {
		s.StopGracePeriod = defaultStopGrace
	}
	if s.PollInterval <= 0 {
		s.PollInterval = defaultPollInterval
	}
	if s.HealthTimeout <= 0 {
		s.HealthTimeout = defaultHealthTimeout
	}
	if s.MigrationPollRetries <= 0 {
		s.MigrationPollRetries = defaultPollRetries
	}
	if prober == nil {
		prober = NewProber(s.PollInterval)
	}
	return &Orchestrator{
		cp:      cp,
		prober:  prober,
		journal: journal,
		s:       s,
		log:     slog.Default().With("component", "orchestrator"),
	}
}

// Prober returns the health prober shared with the fleet monitor.
func (o *Orchestrator) Prober() *Prober {
	return o.prober
}

// ControlPlane returns the underlying control plane handle.
func (o *Orchestrator) ControlPlane() ControlPlane {
	return o.cp
}

var tenantNameSanitizer = regexp.MustCompile(`[^a-z0-9-]`)

// AppName derives the application name for a tenant. The derivation is
// deterministic so repeated calls for one tenant always collide by name,
// which lets operators spot duplicates.
func AppName(tenantID string) string {
	id := strings.ToLower(strings.TrimSpace(tenantID))
	return appNamePrefix + tenantNameSanitizer.ReplaceAllString(id, "-")
}

// IsManagedName reports whether an application name follows the tenant
// naming convention, distinguishing managed tenants from other
// control-plane resources.
func IsManagedName(name string) bool {
	return strings.HasPrefix(name, appNamePrefix)
}

// TenantIDFromName extracts the tenant id from a managed application name.
func TenantIDFromName(name string) string {
	return strings.TrimPrefix(name, appNamePrefix)
}

// TenantURL computes the public URL for a subdomain.
func (o *Orchestrator) TenantURL(subdomain string) string {
	return fmt.Sprintf("https://%s.%s", strings.TrimSpace(subdomain), o.s.BaseDomain)
}

// NormalizeState maps a raw control-plane status onto the orchestrator's
// vocabulary. Control planes report composites like "running (healthy)".
func NormalizeState(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexAny(s, " :("); i > 0 {
		s = s[:i]
	}
	switch s {
	case "running":
		return StateRunning
	case "starting", "restarting", "deploying":
		return StateStarting
	case "stopped", "exited", "paused":
		return StateStopped
	case "failed", "degraded", "dead":
		return StateFailed
	default:
		return StateUnknown
	}
}

var envKeySanitizer = regexp.MustCompile(`[^A-Z0-9]`)

const apiKeyEnvPrefix = "AGENT_KEY_"

// envKeyName normalizes a credential name into an environment variable
// key: upper-cased, non-alphanumerics stripped, namespace prefix applied.
func envKeyName(name string) string {
	key := envKeySanitizer.ReplaceAllString(strings.ToUpper(strings.TrimSpace(name)), "")
	return apiKeyEnvPrefix + key
}

// buildEnvVars assembles the deploy-time environment for a tenant. All
// values are literal so secrets are exempt from template interpolation.
func buildEnvVars(tenant TenantConfig) []controlplane.EnvVar {
	envs := []controlplane.EnvVar{
		{Key: "TENANT_ID", Value: tenant.TenantID, IsLiteral: true},
		{Key: "AGENT_MODEL", Value: tenant.Model, IsLiteral: true},
		{Key: "AGENT_CHANNELS", Value: strings.Join(tenant.Channels, ","), IsLiteral: true},
	}
	names := make([]string, 0, len(tenant.APIKeys))
	for name := range tenant.APIKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		envs = append(envs, controlplane.EnvVar{Key: envKeyName(name), Value: tenant.APIKeys[name], IsLiteral: true})
	}
	return envs
}
