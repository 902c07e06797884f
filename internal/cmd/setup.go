package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/runger/livesearch/internal/config"
	"github.com/runger/livesearch/internal/github"
	"github.com/runger/livesearch/internal/storage"
)

// app bundles what every search command needs: config, a logger, the
// result cache and the remote fetcher.
type app struct {
	cfg     *config.Config
	paths   *config.Paths
	logger  *slog.Logger
	store   *storage.SQLiteStore
	fetcher *github.Client
}

// loadConfig loads ./.env (when present) into the environment and then the
// config file, so .env values act as environment overrides.
func loadConfig() (*config.Config, *config.Paths, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, config.DefaultPaths(), nil
}

// newLogger returns a text logger at the configured level.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// openApp loads config and opens the store and fetcher, logging to logOut.
// Callers must Close the returned app.
func openApp(logOut io.Writer) (*app, error) {
	cfg, paths, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cfg, paths, newLogger(cfg, logOut))
}

// newApp opens the store and builds the fetcher for cfg.
func newApp(cfg *config.Config, paths *config.Paths, logger *slog.Logger) (*app, error) {
	store, err := openStore(cfg, paths, logger)
	if err != nil {
		return nil, err
	}

	fetcher, err := github.NewClient(github.Options{
		BaseURL:       cfg.Fetch.BaseURL,
		Timeout:       cfg.FetchTimeout(),
		RatePerMinute: cfg.Fetch.RatePerMinute,
		Burst:         cfg.Fetch.Burst,
		Token:         cfg.Fetch.Token,
		UserAgent:     cfg.Fetch.UserAgent,
		Logger:        logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{cfg: cfg, paths: paths, logger: logger, store: store, fetcher: fetcher}, nil
}

// openStore opens the result cache, creating its directory if needed.
func openStore(cfg *config.Config, paths *config.Paths, logger *slog.Logger) (*storage.SQLiteStore, error) {
	dbPath := cfg.DatabasePath(paths)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	store, err := storage.NewSQLiteStore(dbPath, storage.Options{
		BusyTimeoutMs: cfg.Store.BusyTimeoutMs,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return store, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close cache", "error", err)
	}
}

// resolveLanguage returns flagValue, or the first configured language.
func (a *app) resolveLanguage(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return a.cfg.Search.Languages[0].ID
}

// commandContext returns the command's context, or Background when the
// command was invoked directly rather than through Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
