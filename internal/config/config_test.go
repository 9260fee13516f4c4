package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero owner quota",
			mutate:  func(c *Config) { c.Engine.MaxSessionsPerOwner = 0 },
			wantErr: "max_sessions_per_owner",
		},
		{
			name:    "zero backend limit",
			mutate:  func(c *Config) { c.Engine.MaxConcurrentBackend = 0 },
			wantErr: "max_concurrent_backend",
		},
		{
			name:    "negative idle timeout",
			mutate:  func(c *Config) { c.Engine.SessionIdleTimeout = -time.Second },
			wantErr: "session_idle_timeout",
		},
		{
			name:    "zero token budget",
			mutate:  func(c *Config) { c.Fusion.TokenBudget = 0 },
			wantErr: "token_budget",
		},
		{
			name:    "history share above one",
			mutate:  func(c *Config) { c.Fusion.HistoryShare = 1.5 },
			wantErr: "history_share",
		},
		{
			name:    "bad history policy",
			mutate:  func(c *Config) { c.Fusion.HistoryUnavailable = "retry" },
			wantErr: "history_unavailable",
		},
		{
			name:    "default not in catalog",
			mutate:  func(c *Config) { c.Models.Default = "unknown-model" },
			wantErr: "catalog",
		},
		{
			name: "provider without key",
			mutate: func(c *Config) {
				c.Providers = []ProviderProfile{{ID: "p1", Provider: "anthropic"}}
			},
			wantErr: "api_key",
		},
		{
			name: "unknown provider kind",
			mutate: func(c *Config) {
				c.Providers = []ProviderProfile{{ID: "p1", Provider: "cohere", APIKey: "k"}}
			},
			wantErr: "invalid provider",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Gateway.Port = 0 },
			wantErr: "port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolveModel(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, cfg.Models.Default, cfg.ResolveModel(""))
	assert.Equal(t, "claude-sonnet-4", cfg.ResolveModel("sonnet"))
	assert.Equal(t, "gpt-4o", cfg.ResolveModel("gpt-4o"))
	assert.Equal(t, "made-up", cfg.ResolveModel("made-up"))
}

func TestLoader_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Engine.MaxSessionsPerOwner, cfg.Engine.MaxSessionsPerOwner)
	assert.NotEmpty(t, cfg.Logging.File)
	assert.NotEmpty(t, cfg.Memory.DBPath)
	assert.NotEmpty(t, cfg.Memory.SharedNotesDir)
}

func TestLoader_LoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mira.json")

	raw := `{
		"engine": {"max_sessions_per_owner": 3},
		"gateway": {"port": 9999, "shared_secret": "s3cret"},
		"data_dir": "` + dir + `"
	}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Engine.MaxSessionsPerOwner)
	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "s3cret", cfg.Gateway.SharedSecret)
	// Defaults survive partial files.
	assert.Equal(t, 2048, cfg.Fusion.TokenBudget)
	assert.Equal(t, filepath.Join(dir, "mira.log"), cfg.Logging.File)
}

func TestLoader_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mira.json")
	loader := NewLoader(path)

	cfg := DefaultConfig()
	cfg.Engine.MaxSessionsPerOwner = 5
	cfg.Gateway.SharedSecret = "round-trip"

	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.Engine.MaxSessionsPerOwner)
	assert.Equal(t, "round-trip", loaded.Gateway.SharedSecret)
}
