package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8420, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 4, cfg.Executor.MaxWorkers)
	assert.Equal(t, 5*time.Second, cfg.Recovery.TotalBudget.Duration())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "confidence out of range",
			mutate:  func(c *Config) { c.Planner.MinConfidence = 1.5 },
			wantErr: "planner.min_confidence",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Executor.MaxWorkers = 0 },
			wantErr: "executor.max_workers",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Executor.MaxRetries = -1 },
			wantErr: "executor.max_retries",
		},
		{
			name:    "zero recovery budget",
			mutate:  func(c *Config) { c.Recovery.TotalBudget = 0 },
			wantErr: "recovery.total_budget",
		},
		{
			name: "tool server without command",
			mutate: func(c *Config) {
				c.Discovery.Servers = []ToolServerConfig{{Name: "kubernetes"}}
			},
			wantErr: "discovery.servers[0].command",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ORCHESTD_SERVER_PORT", "server.port"},
		{"ORCHESTD_EXECUTOR_MAX_WORKERS", "executor.max_workers"},
		{"ORCHESTD_RECOVERY_TOTAL_BUDGET", "recovery.total_budget"},
		{"ORCHESTD_AUTHZ_PERMISSIONS_FILE", "authz.permissions_file"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, envTransform(tt.in))
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("bogus")))
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("hunter2")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `"[REDACTED]"`, string(data))

	empty := Secret("")
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}
