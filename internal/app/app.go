package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/forgehost/internal/audit"
	"github.com/wisbric/forgehost/internal/config"
	"github.com/wisbric/forgehost/internal/httpserver"
	"github.com/wisbric/forgehost/internal/platform"
	"github.com/wisbric/forgehost/internal/seed"
	"github.com/wisbric/forgehost/internal/telemetry"
	"github.com/wisbric/forgehost/pkg/action"
	"github.com/wisbric/forgehost/pkg/billing"
	"github.com/wisbric/forgehost/pkg/billingapi"
	"github.com/wisbric/forgehost/pkg/executor"
	"github.com/wisbric/forgehost/pkg/lifecycle"
	"github.com/wisbric/forgehost/pkg/opsnotify"
	"github.com/wisbric/forgehost/pkg/provision"
	"github.com/wisbric/forgehost/pkg/proxyconfig"
	"github.com/wisbric/forgehost/pkg/store"
	"github.com/wisbric/forgehost/pkg/workspaceapi"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the mode selected by cfg.Mode: "api" (HTTP
// server), "worker" (lifecycle controller), "seed" (migrations only), or
// "seed-demo" (migrations plus a demo company/user/template).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting forgehost", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(telemetry.All()...)
	metricsReg.MustRegister(httpserver.MetricsCollector())

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, db, rdb)
	case "seed":
		return seed.Run(ctx, db, cfg.DatabaseURL, cfg.MigrationsDir, logger)
	case "seed-demo":
		return seed.RunDemo(ctx, db, cfg.DatabaseURL, cfg.MigrationsDir, logger)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// buildCollaborators wires the stores, engine, and provisioner shared by the
// api and worker modes.
func buildCollaborators(cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) (*provision.Provisioner, *opsnotify.Notifier, *store.WorkspaceStore, *store.MetricsStore) {
	workspaces := store.NewWorkspaceStore(db)
	companies := store.NewCompanyStore(db)
	users := store.NewUserStore(db)
	templates := store.NewTemplateStore(db)
	executions := store.NewExecutionStore(db)
	metrics := store.NewMetricsStore(db)

	registry := action.NewDefaultRegistry()
	exec := executor.New(registry, executions, workspaces, logger)

	proxy := proxyconfig.New(cfg.ProxyConfigPath, cfg.WorkspaceDomain, cfg.BaseURL+"/api/auth/verify", "secure-headers", "workspace-rate-limit")

	notifier := opsnotify.New(cfg.SlackBotToken, cfg.SlackOpsChannel, logger)
	if notifier.IsEnabled() {
		logger.Info("slack ops notifications enabled", "channel", cfg.SlackOpsChannel)
	} else {
		logger.Info("slack ops notifications disabled (SLACK_BOT_TOKEN not set)")
	}

	provisioner := provision.New(db, rdb, workspaces, companies, users, templates, executions, exec, proxy, notifier, logger, provision.Config{
		PortMin:          cfg.PortRangeMin,
		PortMax:          cfg.PortRangeMax,
		BaseDir:          cfg.WorkspaceBaseDir,
		CodeServerBin:    cfg.CodeServerBin,
		SystemdUnitDir:   cfg.SystemdUnitDir,
		SystemdDropinDir: cfg.SystemdDropinDir,
		WorkspaceDomain:  cfg.WorkspaceDomain,
		BaseURL:          cfg.BaseURL,
	})

	return provisioner, notifier, workspaces, metrics
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	provisioner, _, workspaces, _ := buildCollaborators(cfg, logger, db, rdb)
	companies := store.NewCompanyStore(db)
	users := store.NewUserStore(db)
	payments := store.NewBillingStore(db)

	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	dispatcher := provision.NewDispatcher(provisioner, cfg.ProvisionWorkers)
	defer dispatcher.Close()

	srv := httpserver.NewServer(httpserver.ServerConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}, logger, db, rdb, metricsReg)

	srv.Router.Get("/status", srv.HandleStatus)
	srv.APIRouter.Get("/status", srv.HandleStatus)

	wsHandler := workspaceapi.NewHandler(logger, auditWriter, provisioner, dispatcher, workspaces, companies, users, store.NewExecutionStore(db))
	srv.APIRouter.Mount("/workspaces", wsHandler.Routes())

	// Forward-auth check is a CSRF-exempt, unauthenticated route: the
	// reverse proxy calls it on every request to a workspace subdomain,
	// before the caller has necessarily proven anything beyond a cookie the
	// front-end already validated (spec §6, §9).
	srv.Router.Get("/api/auth/verify", wsHandler.ForwardAuthHandler(cfg.BaseURL+"/login"))

	paytrCreds := billing.Credentials{
		MerchantID:   cfg.PaytrMerchantID,
		MerchantKey:  cfg.PaytrMerchantKey,
		MerchantSalt: cfg.PaytrMerchantSalt,
		TestMode:     cfg.PaytrTestMode,
	}
	verifier := billing.New(db, paytrCreds, logger)
	billingHandler := billingapi.NewHandler(logger, verifier, payments, users)
	srv.APIRouter.Mount("/billing", billingHandler.Routes())
	srv.Router.Post("/billing/callback", billingHandler.CallbackRoute())

	auditHandler := audit.NewHandler(db, logger)
	srv.APIRouter.Mount("/audit-log", auditHandler.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) error {
	logger.Info("lifecycle worker started")

	provisioner, notifier, workspaces, metrics := buildCollaborators(cfg, logger, db, rdb)
	controller := lifecycle.New(provisioner, workspaces, metrics, notifier, logger, cfg.MetricsRetentionDays)

	sched, err := controller.Schedule(ctx, cfg.AutoStopCron, cfg.MetricsCron, cfg.MetricsRetentionCron)
	if err != nil {
		return fmt.Errorf("scheduling lifecycle controller: %w", err)
	}

	<-ctx.Done()
	<-sched.Stop().Done()
	return nil
}
