// Package config loads orchestrator configuration from an optional TOML
// file with environment variable overrides. Environment always wins so a
// deployment can pin a file and still tweak single values per host.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultListenAddr       = ":8080"
	defaultImage            = "agentsquads/agent"
	defaultImageTag         = "latest"
	defaultMemoryLimit      = "512m"
	defaultEnvironmentName  = "production"
	defaultRequestTimeout   = 30 * time.Second
	defaultMaxAttempts      = 3
	defaultPollInterval     = 3 * time.Second
	defaultHealthTimeout    = 120 * time.Second
	defaultMigrationRetries = 20
	defaultMonitorLimit     = 8
)

// Plane driver names accepted in PlaneDriver.
const (
	DriverControlPlane = "controlplane"
	DriverDocker       = "docker"
)

// Config carries every tunable the orchestrator needs. Where to deploy
// (server/project identifiers) is operational configuration and deliberately
// not part of any per-tenant request payload.
type Config struct {
	// PlaneDriver selects the deployment backend: "controlplane" for the
	// remote HTTP control plane, "docker" for the local engine.
	PlaneDriver string `toml:"plane_driver"`

	// Control plane connection.
	ControlPlaneURL   string `toml:"control_plane_url"`
	ControlPlaneToken string `toml:"control_plane_token"`

	// Placement: which server/project/environment new tenants land on.
	ServerUUID      string `toml:"server_uuid"`
	ProjectUUID     string `toml:"project_uuid"`
	EnvironmentName string `toml:"environment_name"`

	// Public addressing.
	BaseDomain string `toml:"base_domain"`

	// Tenant image defaults, overridable per TenantConfig.
	Image       string `toml:"image"`
	ImageTag    string `toml:"image_tag"`
	MemoryLimit string `toml:"memory_limit"`

	// Admin HTTP API.
	ListenAddr    string   `toml:"listen_addr"`
	ServiceAPIKey string   `toml:"service_api_key"`
	JWTSecret     string   `toml:"jwt_secret"`
	WebOrigins    []string `toml:"web_origins"`

	// Optional collaborators. Empty disables the feature.
	HealthWebhookURL string `toml:"health_webhook_url"`
	RedisURL         string `toml:"redis_url"`
	DatabaseURL      string `toml:"database_url"`

	// Control-plane client behavior. Durations are expressed as Go
	// duration strings ("30s") in the TOML file.
	RequestTimeout time.Duration `toml:"-"`
	MaxAttempts    int           `toml:"max_attempts"`

	// Health probing and migration polling.
	HealthPollInterval   time.Duration `toml:"-"`
	HealthTimeout        time.Duration `toml:"-"`
	MigrationPollRetries int           `toml:"migration_poll_retries"`

	// Fleet monitor fan-out bound. Zero means unbounded.
	MonitorConcurrency int `toml:"monitor_concurrency"`

	// MonitorInterval enables the periodic fleet sweep when non-zero.
	MonitorInterval time.Duration `toml:"-"`
}

// Load builds a Config from defaults, an optional TOML file, and finally
// environment variables.
func Load(path string) (Config, error) {
	cfg := Config{
		PlaneDriver:          DriverControlPlane,
		EnvironmentName:      defaultEnvironmentName,
		Image:                defaultImage,
		ImageTag:             defaultImageTag,
		MemoryLimit:          defaultMemoryLimit,
		ListenAddr:           defaultListenAddr,
		RequestTimeout:       defaultRequestTimeout,
		MaxAttempts:          defaultMaxAttempts,
		HealthPollInterval:   defaultPollInterval,
		HealthTimeout:        defaultHealthTimeout,
		MigrationPollRetries: defaultMigrationRetries,
		MonitorConcurrency:   defaultMonitorLimit,
	}

	if path == "" {
		path = strings.TrimSpace(os.Getenv("FLEET_CONFIG"))
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file %s: %w", path, err)
		}
		if err := decodeFileDurations(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeFileDurations handles duration fields separately: toml has no native
// duration type, so the file carries them as Go duration strings.
func decodeFileDurations(path string, cfg *Config) error {
	var raw struct {
		RequestTimeout     string `toml:"request_timeout"`
		HealthPollInterval string `toml:"health_poll_interval"`
		HealthTimeout      string `toml:"health_timeout"`
		MonitorInterval    string `toml:"monitor_interval"`
	}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}

	for _, f := range []struct {
		raw string
		dst *time.Duration
		key string
	}{
		{raw: raw.RequestTimeout, dst: &cfg.RequestTimeout, key: "request_timeout"},
		{raw: raw.HealthPollInterval, dst: &cfg.HealthPollInterval, key: "health_poll_interval"},
		{raw: raw.HealthTimeout, dst: &cfg.HealthTimeout, key: "health_timeout"},
		{raw: raw.MonitorInterval, dst: &cfg.MonitorInterval, key: "monitor_interval"},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("invalid %s in %s: %w", f.key, path, err)
		}
		*f.dst = d
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.PlaneDriver, "PLANE_DRIVER")
	setString(&cfg.ControlPlaneURL, "CONTROL_PLANE_URL")
	setString(&cfg.ControlPlaneToken, "CONTROL_PLANE_TOKEN")
	setString(&cfg.ServerUUID, "SERVER_UUID")
	setString(&cfg.ProjectUUID, "PROJECT_UUID")
	setString(&cfg.EnvironmentName, "ENVIRONMENT_NAME")
	setString(&cfg.BaseDomain, "BASE_DOMAIN")
	setString(&cfg.Image, "TENANT_IMAGE")
	setString(&cfg.ImageTag, "TENANT_IMAGE_TAG")
	setString(&cfg.MemoryLimit, "TENANT_MEMORY_LIMIT")
	setString(&cfg.ListenAddr, "LISTEN_ADDR")
	setString(&cfg.ServiceAPIKey, "SERVICE_API_KEY")
	setString(&cfg.JWTSecret, "API_JWT_SECRET")
	if v := strings.TrimSpace(os.Getenv("WEB_ORIGINS")); v != "" {
		parts := strings.Split(v, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
		cfg.WebOrigins = origins
	}
	setString(&cfg.HealthWebhookURL, "HEALTH_WEBHOOK_URL")
	setString(&cfg.RedisURL, "REDIS_URL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setDuration(&cfg.RequestTimeout, "CONTROL_PLANE_TIMEOUT")
	setInt(&cfg.MaxAttempts, "CONTROL_PLANE_MAX_ATTEMPTS")
	setDuration(&cfg.HealthPollInterval, "HEALTH_POLL_INTERVAL")
	setDuration(&cfg.HealthTimeout, "HEALTH_TIMEOUT")
	setInt(&cfg.MigrationPollRetries, "MIGRATION_POLL_RETRIES")
	setInt(&cfg.MonitorConcurrency, "MONITOR_CONCURRENCY")
	setDuration(&cfg.MonitorInterval, "MONITOR_INTERVAL")
}

// Validate reports the first missing required field. The docker driver
// needs no control-plane connection or placement identifiers.
func (c Config) Validate() error {
	switch c.PlaneDriver {
	case DriverControlPlane, DriverDocker:
	default:
		return fmt.Errorf("unknown plane driver %q", c.PlaneDriver)
	}
	if c.PlaneDriver == DriverDocker {
		if strings.TrimSpace(c.BaseDomain) == "" {
			return fmt.Errorf("base domain is required")
		}
		if c.MaxAttempts < 1 {
			return fmt.Errorf("max attempts must be at least 1")
		}
		return nil
	}
	switch {
	case strings.TrimSpace(c.ControlPlaneURL) == "":
		return fmt.Errorf("control plane url is required")
	case strings.TrimSpace(c.ControlPlaneToken) == "":
		return fmt.Errorf("control plane token is required")
	case strings.TrimSpace(c.ServerUUID) == "":
		return fmt.Errorf("server uuid is required")
	case strings.TrimSpace(c.ProjectUUID) == "":
		return fmt.Errorf("project uuid is required")
	case strings.TrimSpace(c.BaseDomain) == "":
		return fmt.Errorf("base domain is required")
	case c.MaxAttempts < 1:
		return fmt.Errorf("max attempts must be at least 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func setDuration(dst *time.Duration, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}
