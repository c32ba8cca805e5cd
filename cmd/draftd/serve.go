package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/draftd/internal/assembler"
	"github.com/fyrsmithlabs/draftd/internal/chat"
	"github.com/fyrsmithlabs/draftd/internal/config"
	"github.com/fyrsmithlabs/draftd/internal/embeddings"
	"github.com/fyrsmithlabs/draftd/internal/generation"
	"github.com/fyrsmithlabs/draftd/internal/httpapi"
	"github.com/fyrsmithlabs/draftd/internal/index"
	"github.com/fyrsmithlabs/draftd/internal/logging"
	"github.com/fyrsmithlabs/draftd/internal/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the draftd server",
	Long: `Start the HTTP server: project and document management, similarity
search, and the cancellable chat event stream.

Examples:
  # Start with defaults
  draftd serve

  # Use a specific config file
  draftd serve --config ./draftd.yaml`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting draftd",
		zap.String("version", version),
		zap.String("embeddings_provider", cfg.Embeddings.Provider),
		zap.String("generation_provider", cfg.Generation.Provider))

	deps, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	srv, err := httpapi.NewServer(deps.chat, deps.indexer, deps.store, deps.registry, logger, cfg.Server)
	if err != nil {
		return fmt.Errorf("initializing server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadWithFile(configPath)
	}
	return config.Load()
}

// services holds the wired dependency graph. Everything is constructed once
// at startup and shared read-only afterwards.
type services struct {
	store    *index.Store
	provider embeddings.Provider
	indexer  *index.Indexer
	chat     *chat.Service
	registry *stream.Registry
}

func buildServices(cfg *config.Config, logger *zap.Logger) (*services, error) {
	dataDir, err := config.ExpandPath(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving store path: %w", err)
	}

	store, err := index.NewStore(dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	provider, err := embeddings.NewProvider(cfg.Embeddings, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("initializing embeddings provider: %w", err)
	}

	driver, err := generation.NewDriver(cfg.Generation, logger)
	if err != nil {
		provider.Close()
		store.Close()
		return nil, fmt.Errorf("initializing generation driver: %w", err)
	}

	indexer := index.NewIndexer(store, provider, cfg.Retrieval, logger)
	asm := assembler.New(store, cfg.Context, logger)

	return &services{
		store:    store,
		provider: provider,
		indexer:  indexer,
		chat:     chat.NewService(indexer, asm, driver, store, logger),
		registry: stream.NewRegistry(logger),
	}, nil
}

func (s *services) close(logger *zap.Logger) {
	if err := s.provider.Close(); err != nil {
		logger.Warn("closing embeddings provider", zap.Error(err))
	}
	if err := s.store.Close(); err != nil {
		logger.Warn("closing store", zap.Error(err))
	}
}
