package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rugwirobaker/irrigate/internal/config"
	"github.com/rugwirobaker/irrigate/internal/eventlog"
	"github.com/rugwirobaker/irrigate/internal/eventlog/sqlite"
	"github.com/rugwirobaker/irrigate/internal/flag"
)

// loadConfig layers defaults, the --config file, the environment and the
// command-line flags, in that order.
func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg := config.Default()

	if path := flag.GetString(ctx, "config"); path != "" {
		var err error
		if cfg, err = config.FromFile(path); err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
	}

	if err := cfg.OverrideWithEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg.OverrideWithFlags(ctx)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openJournal opens the configured event log backend.
func openJournal(cfg *config.Config, logger *slog.Logger) (eventlog.Journal, error) {
	switch cfg.EventLog.Backend {
	case config.BackendSQLite:
		if err := ensureDir(cfg.EventLog.DB); err != nil {
			return nil, err
		}
		journal, err := sqlite.New(cfg.EventLog.DB, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open event database: %w", err)
		}
		return journal, nil
	default:
		if err := ensureDir(cfg.EventLog.Path); err != nil {
			return nil, err
		}
		return eventlog.NewFileJournal(cfg.EventLog.Path), nil
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
