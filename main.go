package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/agentsquads/fleet/config"
	"github.com/agentsquads/fleet/controlplane"
	"github.com/agentsquads/fleet/dockerplane"
	"github.com/agentsquads/fleet/orchestrator"
	"github.com/agentsquads/fleet/routes"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(*configPath); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	plane, err := buildPlane(cfg)
	if err != nil {
		return err
	}

	var journal *orchestrator.Journal
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		journal = orchestrator.NewJournal(db)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	prober := orchestrator.NewProber(cfg.HealthPollInterval)
	orch := orchestrator.New(plane, orchestrator.Settings{
		ServerUUID:           cfg.ServerUUID,
		ProjectUUID:          cfg.ProjectUUID,
		EnvironmentName:      cfg.EnvironmentName,
		BaseDomain:           cfg.BaseDomain,
		Image:                cfg.Image,
		Tag:                  cfg.ImageTag,
		MemoryLimit:          cfg.MemoryLimit,
		PollInterval:         cfg.HealthPollInterval,
		HealthTimeout:        cfg.HealthTimeout,
		MigrationPollRetries: cfg.MigrationPollRetries,
	}, prober, journal)

	monitor := orchestrator.NewMonitor(plane, prober, orchestrator.MonitorSettings{
		Concurrency: cfg.MonitorConcurrency,
		WebhookURL:  cfg.HealthWebhookURL,
	}, rdb)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	deps := routes.Deps{
		Orch:          orch,
		Monitor:       monitor,
		ServiceAPIKey: cfg.ServiceAPIKey,
		JWTSecret:     cfg.JWTSecret,
	}
	routes.MountTenantRoutes(mux, deps)
	routes.MountLogRoutes(mux, deps, cfg.WebOrigins)

	handler := applyRequestBodyLimit(applyAuth(mux, cfg.ServiceAPIKey, cfg.JWTSecret))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MonitorInterval > 0 {
		go monitor.Run(ctx, cfg.MonitorInterval)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("fleet orchestrator listening", "addr", cfg.ListenAddr, "driver", cfg.PlaneDriver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildPlane(cfg config.Config) (orchestrator.ControlPlane, error) {
	if cfg.PlaneDriver == config.DriverDocker {
		plane, err := dockerplane.New()
		if err != nil {
			return nil, fmt.Errorf("docker driver: %w", err)
		}
		return plane, nil
	}

	return controlplane.New(controlplane.Config{
		BaseURL:     cfg.ControlPlaneURL,
		Token:       cfg.ControlPlaneToken,
		Timeout:     cfg.RequestTimeout,
		MaxAttempts: cfg.MaxAttempts,
	}), nil
}
