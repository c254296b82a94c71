package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the orchestd daemon.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Discovery DiscoveryConfig `koanf:"discovery"`
	Planner   PlannerConfig   `koanf:"planner"`
	Executor  ExecutorConfig  `koanf:"executor"`
	Recovery  RecoveryConfig  `koanf:"recovery"`
	Authz     AuthzConfig     `koanf:"authz"`
	Backup    BackupConfig    `koanf:"backup"`
	Notify    NotifyConfig    `koanf:"notify"`
}

// ServerConfig configures the HTTP approval surface.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ReadTimeout     Duration `koanf:"read_timeout"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
	Endpoint    string `koanf:"endpoint"`
	Insecure    bool   `koanf:"insecure"`
}

// ToolServerConfig describes one tool service reachable over MCP stdio.
type ToolServerConfig struct {
	Name    string   `koanf:"name"`
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
	Env     []string `koanf:"env"`
}

// DiscoveryConfig configures capability discovery.
type DiscoveryConfig struct {
	Servers         []ToolServerConfig `koanf:"servers"`
	RefreshInterval Duration           `koanf:"refresh_interval"`
}

// PlannerConfig configures plan generation.
type PlannerConfig struct {
	// MinConfidence is the intent confidence threshold below which
	// generation fails with an ambiguous-intent error.
	MinConfidence float64 `koanf:"min_confidence"`
}

// ExecutorConfig configures plan execution.
type ExecutorConfig struct {
	MaxWorkers   int      `koanf:"max_workers"`
	StepTimeout  Duration `koanf:"step_timeout"`
	MaxRetries   int      `koanf:"max_retries"`
	RetryBackoff Duration `koanf:"retry_backoff"`
	// InvokeRate limits tool invocations per second across all workers.
	// Zero disables rate limiting.
	InvokeRate  float64 `koanf:"invoke_rate"`
	InvokeBurst int     `koanf:"invoke_burst"`
}

// RecoveryConfig configures the failure recovery sequence.
type RecoveryConfig struct {
	// TotalBudget bounds the wall time of a full recovery pass.
	TotalBudget    Duration `koanf:"total_budget"`
	VerifyInterval Duration `koanf:"verify_interval"`
	VerifyTimeout  Duration `koanf:"verify_timeout"`
	ArchiveDir     string   `koanf:"archive_dir"`
}

// AuthzConfig configures role-based authorization.
type AuthzConfig struct {
	PermissionsFile string `koanf:"permissions_file"`
	// WatchReload reloads the permission table on file change.
	// Reload only affects steps not yet dispatched.
	WatchReload bool `koanf:"watch_reload"`
}

// BackupConfig configures pre-mutation snapshots.
type BackupConfig struct {
	Dir       string   `koanf:"dir"`
	Retention Duration `koanf:"retention"`
}

// NATSConfig configures the NATS notification channel.
type NATSConfig struct {
	URL         string `koanf:"url"`
	Subject     string `koanf:"subject"`
	Credentials Secret `koanf:"credentials"`
}

// NotifyConfig configures notification fan-out.
type NotifyConfig struct {
	NATS NATSConfig `koanf:"nats"`
}

// NewDefaultConfig returns a configuration with production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8420,
			ReadTimeout:     Duration(10 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "orchestd",
			Endpoint:    "localhost:4317",
			Insecure:    true,
		},
		Discovery: DiscoveryConfig{
			RefreshInterval: Duration(5 * time.Minute),
		},
		Planner: PlannerConfig{
			MinConfidence: 0.5,
		},
		Executor: ExecutorConfig{
			MaxWorkers:   4,
			StepTimeout:  Duration(2 * time.Minute),
			MaxRetries:   2,
			RetryBackoff: Duration(2 * time.Second),
			InvokeRate:   10,
			InvokeBurst:  20,
		},
		Recovery: RecoveryConfig{
			TotalBudget:    Duration(5 * time.Second),
			VerifyInterval: Duration(200 * time.Millisecond),
			VerifyTimeout:  Duration(2 * time.Second),
			ArchiveDir:     "",
		},
		Authz: AuthzConfig{
			PermissionsFile: "",
			WatchReload:     true,
		},
		Backup: BackupConfig{
			Dir:       "",
			Retention: Duration(7 * 24 * time.Hour),
		},
		Notify: NotifyConfig{
			NATS: NATSConfig{
				Subject: "orchestd.notifications",
			},
		},
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", c.Server.Port)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.Planner.MinConfidence < 0 || c.Planner.MinConfidence > 1 {
		return fmt.Errorf("planner.min_confidence must be in [0, 1], got %v", c.Planner.MinConfidence)
	}
	if c.Executor.MaxWorkers < 1 {
		return fmt.Errorf("executor.max_workers must be >= 1, got %d", c.Executor.MaxWorkers)
	}
	if c.Executor.MaxRetries < 0 {
		return fmt.Errorf("executor.max_retries must be >= 0, got %d", c.Executor.MaxRetries)
	}
	if c.Executor.StepTimeout.Duration() <= 0 {
		return fmt.Errorf("executor.step_timeout must be > 0")
	}
	if c.Recovery.TotalBudget.Duration() <= 0 {
		return fmt.Errorf("recovery.total_budget must be > 0")
	}
	if c.Recovery.VerifyInterval.Duration() <= 0 {
		return fmt.Errorf("recovery.verify_interval must be > 0")
	}
	for i, srv := range c.Discovery.Servers {
		if srv.Name == "" {
			return fmt.Errorf("discovery.servers[%d].name is required", i)
		}
		if srv.Command == "" {
			return fmt.Errorf("discovery.servers[%d].command is required", i)
		}
	}
	return nil
}

// applyDefaults fills zero values with defaults after unmarshaling.
func applyDefaults(cfg *Config) {
	def := NewDefaultConfig()

	if cfg.Server.Host == "" {
		cfg.Server.Host = def.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = def.Server.ReadTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = def.Telemetry.ServiceName
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = def.Telemetry.Endpoint
	}
	if cfg.Discovery.RefreshInterval == 0 {
		cfg.Discovery.RefreshInterval = def.Discovery.RefreshInterval
	}
	if cfg.Planner.MinConfidence == 0 {
		cfg.Planner.MinConfidence = def.Planner.MinConfidence
	}
	if cfg.Executor.MaxWorkers == 0 {
		cfg.Executor.MaxWorkers = def.Executor.MaxWorkers
	}
	if cfg.Executor.StepTimeout == 0 {
		cfg.Executor.StepTimeout = def.Executor.StepTimeout
	}
	if cfg.Executor.MaxRetries == 0 {
		cfg.Executor.MaxRetries = def.Executor.MaxRetries
	}
	if cfg.Executor.RetryBackoff == 0 {
		cfg.Executor.RetryBackoff = def.Executor.RetryBackoff
	}
	if cfg.Executor.InvokeBurst == 0 {
		cfg.Executor.InvokeBurst = def.Executor.InvokeBurst
	}
	if cfg.Recovery.TotalBudget == 0 {
		cfg.Recovery.TotalBudget = def.Recovery.TotalBudget
	}
	if cfg.Recovery.VerifyInterval == 0 {
		cfg.Recovery.VerifyInterval = def.Recovery.VerifyInterval
	}
	if cfg.Recovery.VerifyTimeout == 0 {
		cfg.Recovery.VerifyTimeout = def.Recovery.VerifyTimeout
	}
	if cfg.Backup.Retention == 0 {
		cfg.Backup.Retention = def.Backup.Retention
	}
	if cfg.Notify.NATS.Subject == "" {
		cfg.Notify.NATS.Subject = def.Notify.NATS.Subject
	}
}
