// Package driver opens the store.Store selected by configuration.
package driver

import (
	"context"
	"fmt"

	"github.com/samuelrizzo/github-unwrapped/internal/config"
	"github.com/samuelrizzo/github-unwrapped/internal/store"
	"github.com/samuelrizzo/github-unwrapped/internal/store/postgres"
	"github.com/samuelrizzo/github-unwrapped/internal/store/sqlite"
)

// Open connects to the configured backend and bootstraps its schema.
func Open(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	var (
		s   store.Store
		err error
	)

	switch cfg.Driver {
	case "", "postgres":
		s, err = postgres.Connect(ctx, cfg.DatabaseURL)
	case "sqlite":
		s, err = sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate %s store: %w", cfg.Driver, err)
	}
	return s, nil
}
