package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/mira/internal/config"
	"github.com/harun/mira/internal/logger"
	"github.com/harun/mira/pkg/backend"
	"github.com/harun/mira/pkg/fusion"
	"github.com/harun/mira/pkg/gateway"
	"github.com/harun/mira/pkg/history"
	"github.com/harun/mira/pkg/memory"
	"github.com/harun/mira/pkg/orchestrator"
	"github.com/harun/mira/pkg/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Mira engine",
	Long: `Run the Mira engine in the foreground.
The engine serves turn streams over HTTP until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Gateway.SharedSecret == "" {
		return fmt.Errorf("gateway.shared_secret is required to serve")
	}

	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()
	log := lg.GetZerolog()

	pidFile := getPIDFilePath()
	if isRunning(pidFile) {
		return fmt.Errorf("engine is already running (PID file: %s)", pidFile)
	}
	if err := writePIDFile(pidFile); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer os.Remove(pidFile)

	registry, err := buildRegistry(cfg, log)
	if err != nil {
		return err
	}

	historyStore, err := history.NewStore(filepath.Join(cfg.DataDir, "history"))
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer historyStore.Close()

	var memoryStore *memory.Store
	var private, shared memory.Provider
	if cfg.Memory.Enabled {
		var embedder memory.EmbeddingProvider
		if cfg.Memory.EmbeddingKey != "" {
			embedder = memory.NewOpenAIEmbedder(cfg.Memory.EmbeddingKey, cfg.Memory.EmbeddingModel)
		}
		memoryStore, err = memory.NewStore(memory.StoreConfig{
			SharedDir:         cfg.Memory.SharedNotesDir,
			PrivateDir:        cfg.Memory.PrivateNotesDir,
			DBPath:            cfg.Memory.DBPath,
			Logger:            log,
			EmbeddingProvider: embedder,
		})
		if err != nil {
			return fmt.Errorf("failed to open memory store: %w", err)
		}
		defer memoryStore.Close()
		private = memory.Scoped(memoryStore, memory.ScopePrivate)
		shared = memory.Scoped(memoryStore, memory.ScopeShared)
	}

	fusionEngine := fusion.NewEngine(historyStore, private, shared, fusion.Config{
		TokenBudget:        cfg.Fusion.TokenBudget,
		HistoryShare:       cfg.Fusion.HistoryShare,
		HistoryBias:        cfg.Fusion.HistoryBias,
		MinSnippetChars:    cfg.Fusion.MinSnippetChars,
		HistoryWindow:      cfg.Engine.HistoryWindow,
		ProviderLimit:      cfg.Fusion.ProviderLimit,
		ProviderMinScore:   cfg.Fusion.ProviderMinScore,
		HistoryUnavailable: cfg.Fusion.HistoryUnavailable,
	}, log)

	runner := orchestrator.New(fusionEngine, historyStore, orchestrator.Config{
		AdapterTimeout:         cfg.Engine.AdapterTimeout,
		KeepPartialTranscripts: cfg.Engine.KeepPartialTranscripts,
	}, log)

	manager := session.NewManager(session.Config{
		MaxSessionsPerOwner:  cfg.Engine.MaxSessionsPerOwner,
		MaxConcurrentBackend: cfg.Engine.MaxConcurrentBackend,
		SessionIdleTimeout:   cfg.Engine.SessionIdleTimeout,
		EvictSchedule:        cfg.Engine.EvictSchedule,
		DefaultModel:         cfg.Models.Default,
	}, registry, runner, log)
	if err := manager.Start(); err != nil {
		return fmt.Errorf("failed to start session manager: %w", err)
	}
	defer manager.Stop()

	server, err := gateway.NewServer(gateway.Config{
		Port:               cfg.Gateway.Port,
		SharedSecret:       cfg.Gateway.SharedSecret,
		RequestsPerMinute:  cfg.Gateway.RequestsPerMinute,
		MaxConcurrentTurns: cfg.Gateway.MaxConcurrentTurns,
		Sessions:           manager,
		Memory:             memoryStore,
		Logger:             log,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	log.Info().
		Int("port", cfg.Gateway.Port).
		Str("default_model", cfg.Models.Default).
		Bool("memory", memoryStore != nil).
		Msg("Mira engine started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	return server.Stop()
}

// buildRegistry instantiates one adapter per configured provider and binds
// the model catalog onto them. Catalog entries without a configured provider
// are skipped so one missing credential does not take the engine down.
func buildRegistry(cfg *config.Config, log zerolog.Logger) (*backend.Registry, error) {
	registry := backend.NewRegistry()

	for _, p := range cfg.Providers {
		switch p.Provider {
		case "anthropic":
			registry.RegisterAdapter(backend.NewAnthropicAdapter(p.APIKey))
		case "openai":
			registry.RegisterAdapter(backend.NewOpenAIAdapter(p.APIKey))
		case "scripted":
			registry.RegisterAdapter(backend.NewScriptedAdapter("scripted"))
		default:
			return nil, fmt.Errorf("provider %s: unknown provider %s", p.ID, p.Provider)
		}
	}

	bound := 0
	for model, adapterName := range cfg.Models.Catalog {
		if err := registry.BindModel(model, adapterName); err != nil {
			log.Warn().Str("model", model).Str("adapter", adapterName).Msg("Skipping model without a configured provider")
			continue
		}
		bound++
	}
	if bound == 0 {
		return nil, fmt.Errorf("no catalog model has a configured provider")
	}
	if _, err := registry.Resolve(cfg.Models.Default); err != nil {
		return nil, fmt.Errorf("default model %s has no configured provider", cfg.Models.Default)
	}

	return registry, nil
}

func getPIDFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/mira.pid"
	}
	return filepath.Join(home, ".mira", "mira.pid")
}

func writePIDFile(pidFile string) error {
	if err := os.MkdirAll(filepath.Dir(pidFile), 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644)
}

func isRunning(pidFile string) bool {
	pid, err := readPID(pidFile)
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so probe with signal 0.
	return process.Signal(syscall.Signal(0)) == nil
}

func readPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}

	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}
