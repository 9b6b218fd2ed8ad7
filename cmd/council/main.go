// Command council runs the session orchestration service: an HTTP API and
// WebSocket event stream over a roster of ten collaborating AI personas.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/council-ai/council/pkg/api"
	"github.com/council-ai/council/pkg/config"
	"github.com/council-ai/council/pkg/database"
	"github.com/council-ai/council/pkg/engine"
	"github.com/council-ai/council/pkg/events"
	"github.com/council-ai/council/pkg/llm"
	"github.com/council-ai/council/pkg/memory"
	"github.com/council-ai/council/pkg/orchestrator"
	"github.com/council-ai/council/pkg/repository"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repo     *repository.Store
		bus      events.Broadcaster
		manager  = events.NewConnectionManager()
		listener *events.NotifyListener
		db       *sql.DB
	)

	if cfg.DatabaseURL != "" {
		db, err = database.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := database.Migrate(db); err != nil {
			return err
		}

		repo = repository.NewPostgresStore(db)
		bus = events.NewPublisher(db)
		manager.SetCatchupQuerier(events.NewEventStore(db))

		listener = events.NewNotifyListener(cfg.DatabaseURL, manager)
		if err := listener.Start(ctx); err != nil {
			return err
		}
		defer listener.Stop()
		manager.SetListener(listener)
	} else {
		slog.Warn("No database configured, running in-memory; state is lost on restart")
		repo = repository.NewInMemoryStore()
		bus = events.NewLocalBroadcaster(manager)
	}

	personaConfigs, err := config.LoadPersonaOverrides(cfg.PersonaConfigPath)
	if err != nil {
		return err
	}
	if err := repo.PersonaConfigs.Seed(ctx, personaConfigs); err != nil {
		return fmt.Errorf("seed persona configs: %w", err)
	}

	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  cfg.LLMAPIKey,
		BaseURL: cfg.LLMBaseURL,
		Timeout: cfg.LLMTimeout,
	})
	if err != nil {
		return fmt.Errorf("create llm client: %w", err)
	}

	memories := memory.NewStore(repo.Memories, cfg.MaxIdentifierTokens, cfg.MaxContentTokens)
	eng := engine.New(client, repo.Messages, memories, cfg.ConversationWindow)
	orch := orchestrator.New(repo, eng, memories, bus, orchestrator.Config{
		MaxDepth:       cfg.MaxDepth,
		StuckLimit:     cfg.StuckLimit,
		RecentMemories: cfg.RecentMemories,
	})

	server := api.NewServer(cfg.ListenAddr(), orch, repo, manager)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	orch.Stop()

	slog.Info("Shutdown complete")
	return nil
}
