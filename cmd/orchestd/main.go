// Orchestd is the intelligent task orchestration daemon.
//
// The daemon turns operator commands into risk-scored execution plans,
// gates them behind approval and role authorization, executes them against
// MCP tool servers, and recovers from step failures with pre-captured
// snapshots.
//
// Configuration is loaded from ~/.config/orchestd/config.yaml with
// ORCHESTD_* environment overrides. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	orchestd
//
//	# Configure via environment
//	ORCHESTD_SERVER_PORT=9090 ORCHESTD_LOGGING_LEVEL=debug orchestd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestd/internal/archive"
	"github.com/fyrsmithlabs/orchestd/internal/authz"
	"github.com/fyrsmithlabs/orchestd/internal/backup"
	"github.com/fyrsmithlabs/orchestd/internal/capability"
	"github.com/fyrsmithlabs/orchestd/internal/config"
	"github.com/fyrsmithlabs/orchestd/internal/executor"
	"github.com/fyrsmithlabs/orchestd/internal/intent"
	"github.com/fyrsmithlabs/orchestd/internal/logging"
	"github.com/fyrsmithlabs/orchestd/internal/notify"
	"github.com/fyrsmithlabs/orchestd/internal/plan"
	"github.com/fyrsmithlabs/orchestd/internal/recovery"
	"github.com/fyrsmithlabs/orchestd/internal/risk"
	"github.com/fyrsmithlabs/orchestd/internal/server"
	"github.com/fyrsmithlabs/orchestd/internal/session"
	"github.com/fyrsmithlabs/orchestd/internal/telemetry"
	"github.com/fyrsmithlabs/orchestd/internal/tool"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/orchestd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  orchestd           Start the orchestration daemon\n")
			fmt.Fprintf(os.Stderr, "  orchestd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Daemon error: %v", err)
	}

	log.Println("Daemon shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("orchestd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the orchestration daemon and blocks until the context is
// cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Initialize logger and telemetry
//  3. Connect tool servers and discover capabilities
//  4. Wire authorization, backup, archive, and notification stores
//  5. Assemble planner, executor, recovery coordinator, and session
//  6. Start the HTTP approval surface
//  7. Perform graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info(ctx, "starting orchestd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Int("tool_servers", len(cfg.Discovery.Servers)),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	tel, err := telemetry.New(ctx, &telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if degraded, reason := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded", zap.String("reason", reason))
	}

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info(ctx, "dependencies initialized",
		zap.Int("capabilities", len(deps.registry.Snapshot())),
		zap.Bool("nats_notifications", deps.natsNotifier != nil),
		zap.Bool("authz_enforced", len(deps.gate.Rules()) > 0))

	svcs := initServices(cfg, deps, logger)

	srv, err := server.NewServer(svcs.session, logger, &server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Background maintenance: capability rediscovery and backup retention.
	go refreshLoop(ctx, cfg, deps, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "server shutdown failed", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
	}
	return nil
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	mcpClient    *tool.MCPClient
	registry     *capability.Registry
	gate         *authz.Authorizer
	backups      *backup.FileStore
	archives     *archive.Store
	fanout       *notify.Fanout
	natsNotifier *notify.NATSNotifier
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.mcpClient != nil {
		_ = d.mcpClient.Close()
	}
	if d.gate != nil {
		_ = d.gate.Close()
	}
	if d.natsNotifier != nil {
		d.natsNotifier.Close()
	}
}

// services holds the assembled orchestration pipeline.
type services struct {
	session *session.Session
}

// initLogger initializes the structured logger. The OTEL log bridge stays
// disabled until an OTLP logs exporter is wired into telemetry.
func initLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Stdout: true,
		Fields: map[string]string{"service": "orchestd"},
	}, nil)
}

// initDependencies connects tool servers, loads the permission table, and
// opens the backup, archive, and notification channels.
//
// Tool server connection failures are logged and skipped so the daemon can
// start with a partial catalog; discovery retries on the refresh interval.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	mcpClient := tool.NewMCPClient(cfg.Discovery.Servers,
		cfg.Executor.InvokeRate, cfg.Executor.InvokeBurst, logger)
	if err := mcpClient.Connect(ctx); err != nil {
		logger.Warn(ctx, "some tool servers unavailable", zap.Error(err))
	}

	registry := capability.NewRegistry(logger)
	if err := registry.Refresh(ctx, mcpClient.Sources()); err != nil {
		logger.Warn(ctx, "capability discovery incomplete", zap.Error(err))
	}

	gate, err := authz.NewAuthorizer(cfg.Authz.PermissionsFile, cfg.Authz.WatchReload, logger)
	if err != nil {
		_ = mcpClient.Close()
		return nil, fmt.Errorf("failed to load permission table: %w", err)
	}

	backups, err := backup.NewFileStore(dataDir(cfg.Backup.Dir, "backups"), logger)
	if err != nil {
		_ = mcpClient.Close()
		_ = gate.Close()
		return nil, fmt.Errorf("failed to open backup store: %w", err)
	}
	if err := backups.DiscardOlderThan(cfg.Backup.Retention.Duration()); err != nil {
		logger.Warn(ctx, "backup retention sweep failed", zap.Error(err))
	}

	archives, err := archive.NewStore(dataDir(cfg.Recovery.ArchiveDir, "archive"))
	if err != nil {
		_ = mcpClient.Close()
		_ = gate.Close()
		return nil, fmt.Errorf("failed to open archive store: %w", err)
	}

	channels := []notify.Notifier{notify.NewLogNotifier(logger)}
	var natsNotifier *notify.NATSNotifier
	if cfg.Notify.NATS.URL != "" {
		natsNotifier, err = notify.NewNATSNotifier(
			cfg.Notify.NATS.URL, cfg.Notify.NATS.Subject, cfg.Notify.NATS.Credentials.Value())
		if err != nil {
			logger.Warn(ctx, "nats notification channel unavailable", zap.Error(err))
		} else {
			channels = append(channels, natsNotifier)
			logger.Info(ctx, "nats notifications enabled",
				zap.String("subject", cfg.Notify.NATS.Subject))
		}
	}

	return &dependencies{
		mcpClient:    mcpClient,
		registry:     registry,
		gate:         gate,
		backups:      backups,
		archives:     archives,
		fanout:       notify.NewFanout(logger, channels...),
		natsNotifier: natsNotifier,
	}, nil
}

// initServices assembles the planner, executor, recovery coordinator, and
// session over the shared dependencies.
func initServices(cfg *config.Config, deps *dependencies, logger *logging.Logger) *services {
	coordinator := recovery.NewCoordinator(recovery.Config{
		TotalBudget:    cfg.Recovery.TotalBudget.Duration(),
		VerifyInterval: cfg.Recovery.VerifyInterval.Duration(),
		VerifyTimeout:  cfg.Recovery.VerifyTimeout.Duration(),
	}, deps.backups, deps.archives, deps.fanout, nil, nil, nil, logger)

	store := plan.NewStore()
	exec := executor.New(executor.Config{
		MaxWorkers:   cfg.Executor.MaxWorkers,
		StepTimeout:  cfg.Executor.StepTimeout.Duration(),
		MaxRetries:   cfg.Executor.MaxRetries,
		RetryBackoff: cfg.Executor.RetryBackoff.Duration(),
	}, store, deps.mcpClient, deps.gate, deps.backups, coordinator, logger)

	generator := plan.NewGenerator(risk.NewModel(), logger).
		WithMinConfidence(cfg.Planner.MinConfidence)

	return &services{
		session: session.New(intent.NewAnalyzer(), generator, deps.registry, store, exec, logger),
	}
}

// refreshLoop rediscovers tool capabilities and sweeps expired backups on
// the configured interval.
func refreshLoop(ctx context.Context, cfg *config.Config, deps *dependencies, logger *logging.Logger) {
	interval := cfg.Discovery.RefreshInterval.Duration()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := deps.registry.Refresh(ctx, deps.mcpClient.Sources()); err != nil {
				logger.Warn(ctx, "capability refresh failed", zap.Error(err))
			}
			if err := deps.backups.DiscardOlderThan(cfg.Backup.Retention.Duration()); err != nil {
				logger.Warn(ctx, "backup retention sweep failed", zap.Error(err))
			}
		}
	}
}

// dataDir resolves a configured directory, falling back to a path under
// the user data directory.
func dataDir(configured, name string) string {
	if configured != "" {
		return configured
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "orchestd", name)
	}
	return filepath.Join(home, ".local", "share", "orchestd", name)
}
