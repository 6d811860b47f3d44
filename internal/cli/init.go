// Package cli provides common CLI initialization utilities.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"haushalt/internal/config"
	"haushalt/internal/log"
	"haushalt/internal/storage"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig() *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cfg
}

// SetupLogger builds the process logger from cfg and installs it as the
// slog default. cfg must have been validated.
func SetupLogger(cfg *config.Config) *log.Logger {
	level, _ := log.ParseLevel(cfg.LogLevel)
	logger := log.New(log.Config{
		Level:     level,
		Format:    cfg.LogFormat,
		Component: log.ComponentApp,
		Output:    os.Stdout,
	})
	log.SetDefault(logger)
	return logger
}

// OpenPersister returns the persister for the configured data backend.
func OpenPersister(cfg *config.Config) (storage.Persister, error) {
	switch cfg.DataBackend {
	case config.BackendSQLite:
		return storage.NewSQLitePersister(cfg.SQLiteDBPath)
	default:
		return storage.NewFilePersister(cfg.DBPath)
	}
}

// OpenStore opens and loads the document store with the configured backend.
// The persister is released when loading fails.
func OpenStore(ctx context.Context, cfg *config.Config, logger *log.Logger, opts ...storage.Option) (*storage.Store, error) {
	p, err := OpenPersister(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.DataBackend, err)
	}

	opts = append([]storage.Option{
		storage.WithLockTimeout(cfg.LockTimeout),
		storage.WithLogger(logger.WithComponent(log.ComponentStorage).Slog()),
	}, opts...)

	store, err := storage.Open(ctx, p, opts...)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("load %s: %w", p.Location(), err)
	}
	return store, nil
}
