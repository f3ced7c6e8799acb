package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "braind", cfg.Observability.ServiceName)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, "brain.cycle", cfg.NATS.CycleSubjectPrefix)
	assert.Equal(t, "brain.alerts", cfg.NATS.AlertSubjectPrefix)
	assert.Equal(t, float64(75), cfg.Executor.DefaultThreshold)
	assert.Equal(t, float64(5), cfg.Executor.ThresholdStep)
	assert.Equal(t, "medium", cfg.Executor.DefaultBanSeverity)
	assert.Equal(t, 10, cfg.Override.MinJustificationLength)
	assert.Equal(t, 5, cfg.Feedback.MinSampleSize)
	assert.Equal(t, 3, cfg.Kernel.BanRatePerHour)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "8081")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("EXECUTOR_THRESHOLD_STEP", "2.5")
	t.Setenv("NATS_ENABLED", "true")

	cfg := Load()

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 2.5, cfg.Executor.ThresholdStep)
	assert.True(t, cfg.NATS.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *Config) { c.Server.ShutdownTimeout = 0 },
			wantErr: "shutdown timeout",
		},
		{
			name:    "unknown store backend",
			mutate:  func(c *Config) { c.Store.Backend = "postgres" },
			wantErr: "unknown store backend",
		},
		{
			name: "sqlite without data dir",
			mutate: func(c *Config) {
				c.Store.Backend = "sqlite"
				c.Store.DataDir = ""
			},
			wantErr: "data dir required",
		},
		{
			name: "nats enabled without url",
			mutate: func(c *Config) {
				c.NATS.Enabled = true
				c.NATS.URL = ""
			},
			wantErr: "NATS URL required",
		},
		{
			name:    "bad ban severity",
			mutate:  func(c *Config) { c.Executor.DefaultBanSeverity = "extreme" },
			wantErr: "unknown default ban severity",
		},
		{
			name:    "non-positive threshold step",
			mutate:  func(c *Config) { c.Executor.ThresholdStep = 0 },
			wantErr: "threshold step",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("hunter2")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())

	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(b))

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.Error(t, d.UnmarshalText([]byte("-5s")))
	require.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}
