package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/grahak-ai/grahak/internal/config"
	"github.com/grahak-ai/grahak/internal/logger"
	"github.com/grahak-ai/grahak/internal/server"
	"github.com/grahak-ai/grahak/internal/tracing"
	"github.com/grahak-ai/grahak/pkg/affinity"
	"github.com/grahak-ai/grahak/pkg/agent"
	"github.com/grahak-ai/grahak/pkg/chatstore"
	"github.com/grahak-ai/grahak/pkg/fallback"
	"github.com/grahak-ai/grahak/pkg/lookup"
	"github.com/grahak-ai/grahak/pkg/provider"
	"github.com/grahak-ai/grahak/pkg/tools"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat API server",
	Long: `Load configuration, open the lock and history stores, build the
provider registry and serve the chat API until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}

	appLogger, err := logger.New(logger.Config{
		Level:     level,
		File:      cfg.Logging.File,
		Console:   true,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer appLogger.Close()
	log := appLogger.GetZerolog()

	if err := tracing.InitOpenTelemetry("grahakd"); err != nil {
		log.Warn().Err(err).Msg("Tracing initialization failed, continuing without it")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tracing.ShutdownOpenTelemetry(shutdownCtx)
	}()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	regs := make([]provider.Registration, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		regs = append(regs, provider.Registration{
			ID: provider.ID(p.ID),
			Settings: provider.Settings{
				APIKey:  p.APIKey,
				Model:   p.Model,
				Timeout: cfg.Agent.ProviderTimeout,
			},
			Priority: p.Priority,
			Premium:  p.Premium,
		})
	}
	registry, err := provider.NewRegistry(regs)
	if err != nil {
		return fmt.Errorf("failed to build provider registry: %w", err)
	}

	locks, err := affinity.NewSQLiteStore(affinity.Config{
		DBPath:   filepath.Join(cfg.DataDir, "locks.db"),
		Registry: registry,
		TTL:      cfg.Affinity.TTL,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("failed to open lock store: %w", err)
	}
	defer locks.Close()

	sweeper := affinity.NewSweeper(locks, cfg.Affinity.SweepInterval, log)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start lock sweeper: %w", err)
	}
	defer sweeper.Stop()

	chat, err := chatstore.NewSQLiteStore(filepath.Join(cfg.DataDir, "chat.db"), log)
	if err != nil {
		return fmt.Errorf("failed to open chat store: %w", err)
	}
	defer chat.Close()

	toolRegistry := tools.NewRegistry(cfg.Agent.ToolTimeout, log)
	lookupClient := lookup.NewClient(lookup.Config{
		GoldRatesURL: cfg.Lookup.GoldRatesURL,
		ChallanURL:   cfg.Lookup.ChallanURL,
		PNRURL:       cfg.Lookup.PNRURL,
		Timeout:      cfg.Lookup.Timeout,
		Logger:       log,
	})
	if err := lookup.Register(toolRegistry, lookupClient); err != nil {
		return fmt.Errorf("failed to register lookup tools: %w", err)
	}

	runner, err := agent.NewRunner(agent.Config{
		Chain:        fallback.New(registry, log),
		Affinity:     locks,
		Chat:         chat,
		Tools:        toolRegistry,
		Providers:    registry,
		Logger:       log,
		MaxHops:      cfg.Agent.MaxHops,
		MaxTokens:    cfg.Agent.MaxTokens,
		Temperature:  cfg.Agent.Temperature,
		SystemPrompt: cfg.Agent.SystemPrompt,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent runner: %w", err)
	}

	srv, err := server.New(server.Config{
		Host:   cfg.Server.Host,
		Port:   cfg.Server.Port,
		Runner: runner,
		Chat:   chat,
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("version", version).
		Int("providers", len(cfg.Providers)).
		Msg("Grahakd starting")

	return srv.ListenAndServe(ctx)
}
