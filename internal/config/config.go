package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main Mira configuration
type Config struct {
	// Engine limits and policies
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Context assembly
	Fusion FusionConfig `json:"fusion" mapstructure:"fusion"`

	// Model catalog
	Models ModelsConfig `json:"models" mapstructure:"models"`

	// Backend provider credentials
	Providers []ProviderProfile `json:"providers" mapstructure:"providers"`

	// Memory stores
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`

	// Gateway server
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// EngineConfig bounds session and turn concurrency
type EngineConfig struct {
	MaxSessionsPerOwner    int           `json:"max_sessions_per_owner" mapstructure:"max_sessions_per_owner"`
	MaxConcurrentBackend   int           `json:"max_concurrent_backend" mapstructure:"max_concurrent_backend"`
	SessionIdleTimeout     time.Duration `json:"session_idle_timeout" mapstructure:"session_idle_timeout"`
	EvictSchedule          string        `json:"evict_schedule" mapstructure:"evict_schedule"` // cron spec
	AdapterTimeout         time.Duration `json:"adapter_timeout" mapstructure:"adapter_timeout"`
	HistoryWindow          int           `json:"history_window" mapstructure:"history_window"`
	KeepPartialTranscripts bool          `json:"keep_partial_transcripts" mapstructure:"keep_partial_transcripts"`
}

// FusionConfig tunes context assembly
type FusionConfig struct {
	TokenBudget      int     `json:"token_budget" mapstructure:"token_budget"`
	HistoryShare     float64 `json:"history_share" mapstructure:"history_share"`
	HistoryBias      float64 `json:"history_bias" mapstructure:"history_bias"`
	MinSnippetChars  int     `json:"min_snippet_chars" mapstructure:"min_snippet_chars"`
	ProviderLimit    int     `json:"provider_limit" mapstructure:"provider_limit"`
	ProviderMinScore float64 `json:"provider_min_score" mapstructure:"provider_min_score"`
	// What to do when the history store is unreachable: "proceed" runs the
	// turn context-less, "fail" rejects it.
	HistoryUnavailable string `json:"history_unavailable" mapstructure:"history_unavailable"`
}

// ModelsConfig holds the model catalog
type ModelsConfig struct {
	Default string            `json:"default" mapstructure:"default"`
	Aliases map[string]string `json:"aliases" mapstructure:"aliases"`
	// Catalog maps a model id to the adapter that serves it.
	Catalog map[string]string `json:"catalog" mapstructure:"catalog"`
}

// ProviderProfile represents a backend provider credential
type ProviderProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai, scripted
	APIKey   string `json:"api_key" mapstructure:"api_key"`
}

// MemoryConfig holds memory store configuration
type MemoryConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	// SharedNotesDir holds notes visible to every owner; PrivateNotesDir
	// holds one subdirectory of notes per owner.
	SharedNotesDir  string `json:"shared_notes_dir" mapstructure:"shared_notes_dir"`
	PrivateNotesDir string `json:"private_notes_dir" mapstructure:"private_notes_dir"`
	DBPath          string `json:"db_path" mapstructure:"db_path"`
	// EmbeddingModel and EmbeddingKey enable the vector leg; without a key
	// recall runs keyword-only.
	EmbeddingModel string `json:"embedding_model" mapstructure:"embedding_model"`
	EmbeddingKey   string `json:"embedding_key" mapstructure:"embedding_key"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
	// Per-owner turn submission limits.
	RequestsPerMinute  int `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrentTurns int `json:"max_concurrent_turns" mapstructure:"max_concurrent_turns"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxSessionsPerOwner:  8,
			MaxConcurrentBackend: 32,
			SessionIdleTimeout:   30 * time.Minute,
			EvictSchedule:        "@every 1m",
			AdapterTimeout:       30 * time.Second,
			HistoryWindow:        20,
		},
		Fusion: FusionConfig{
			TokenBudget:        2048,
			HistoryShare:       0.3,
			HistoryBias:        0.2,
			MinSnippetChars:    48,
			ProviderLimit:      10,
			ProviderMinScore:   0.35,
			HistoryUnavailable: "proceed",
		},
		Models: ModelsConfig{
			Default: "claude-sonnet-4",
			Aliases: map[string]string{
				"sonnet": "claude-sonnet-4",
				"opus":   "claude-opus-4",
				"gpt4o":  "gpt-4o",
			},
			Catalog: map[string]string{
				"claude-sonnet-4": "anthropic",
				"claude-opus-4":   "anthropic",
				"gpt-4o":          "openai",
				"gpt-4o-mini":     "openai",
			},
		},
		Memory: MemoryConfig{
			Enabled:        true,
			EmbeddingModel: "text-embedding-3-small",
		},
		Gateway: GatewayConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			RequestsPerMinute:  60,
			MaxConcurrentTurns: 4,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Engine.MaxSessionsPerOwner <= 0 {
		return fmt.Errorf("engine.max_sessions_per_owner must be positive")
	}
	if c.Engine.MaxConcurrentBackend <= 0 {
		return fmt.Errorf("engine.max_concurrent_backend must be positive")
	}
	if c.Engine.SessionIdleTimeout <= 0 {
		return fmt.Errorf("engine.session_idle_timeout must be positive")
	}
	if c.Engine.AdapterTimeout <= 0 {
		return fmt.Errorf("engine.adapter_timeout must be positive")
	}
	if c.Engine.HistoryWindow < 0 {
		return fmt.Errorf("engine.history_window cannot be negative")
	}

	if c.Fusion.TokenBudget <= 0 {
		return fmt.Errorf("fusion.token_budget must be positive")
	}
	if c.Fusion.HistoryShare < 0 || c.Fusion.HistoryShare > 1 {
		return fmt.Errorf("fusion.history_share must be in [0,1]")
	}
	if c.Fusion.HistoryUnavailable != "proceed" && c.Fusion.HistoryUnavailable != "fail" {
		return fmt.Errorf("fusion.history_unavailable must be 'proceed' or 'fail', got %q", c.Fusion.HistoryUnavailable)
	}

	if c.Models.Default == "" {
		return fmt.Errorf("models.default is required")
	}
	if len(c.Models.Catalog) == 0 {
		return fmt.Errorf("models.catalog must list at least one model")
	}
	if _, ok := c.Models.Catalog[c.Models.Default]; !ok {
		return fmt.Errorf("models.default %q is not in the catalog", c.Models.Default)
	}

	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider %d: ID is required", i)
		}
		if p.Provider != "anthropic" && p.Provider != "openai" && p.Provider != "scripted" {
			return fmt.Errorf("provider %s: invalid provider %s (must be: anthropic, openai, scripted)", p.ID, p.Provider)
		}
		if p.Provider != "scripted" && p.APIKey == "" {
			return fmt.Errorf("provider %s: api_key is required", p.ID)
		}
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be a valid port, got %d", c.Gateway.Port)
	}

	return nil
}

// ResolveModel expands an alias into a catalog model id. Unknown names pass
// through unchanged so the registry can reject them.
func (c *Config) ResolveModel(name string) string {
	if name == "" {
		return c.Models.Default
	}
	if resolved, ok := c.Models.Aliases[name]; ok {
		return resolved
	}
	return name
}
