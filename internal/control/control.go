// Package control wires configuration into the store, engine, lock and servers
// around a batch.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/vietddude/scribe/internal/core/config"
	"github.com/vietddude/scribe/internal/infra/engine"
	"github.com/vietddude/scribe/internal/infra/engine/browser"
	"github.com/vietddude/scribe/internal/infra/engine/fake"
	"github.com/vietddude/scribe/internal/infra/engine/vertex"
	redisclient "github.com/vietddude/scribe/internal/infra/redis"
	"github.com/vietddude/scribe/internal/infra/storage"
	"github.com/vietddude/scribe/internal/infra/storage/memory"
	"github.com/vietddude/scribe/internal/infra/storage/sqlstore"
)

// OpenStore returns the SQL store when a database is configured, otherwise an
// in-memory store with no history. The *sqlstore.DB is nil for the memory store.
func OpenStore(ctx context.Context, cfg sqlstore.Config) (storage.Store, *sqlstore.DB, error) {
	if !cfg.Enabled() {
		slog.Info("No database configured, run history is kept in memory")
		return memory.NewMemoryStorage(), nil, nil
	}

	db, err := sqlstore.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init db: %w", err)
	}
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to migrate db: %w", err)
		}
	}
	slog.Info("Using SQL storage", "driver", db.Driver())
	return db, db, nil
}

// NewEngine builds the configured engine. It is not started.
func NewEngine(cfg *config.AppConfig) (engine.Engine, error) {
	switch cfg.Engine.Type {
	case config.EngineBrowser:
		bc := cfg.Engine.Browser
		bc.DebugDir = cfg.Debug.Dir
		return browser.New(bc), nil
	case config.EngineVertex:
		return vertex.New(cfg.Engine.Vertex), nil
	case config.EngineFake:
		return fake.New(), nil
	default:
		return nil, fmt.Errorf("unknown engine type %q", cfg.Engine.Type)
	}
}

// NewLock returns a Redis session lock, or a no-op lock without Redis.
// The browser profile names the session since two browsers cannot share it.
func NewLock(ctx context.Context, cfg *config.AppConfig) (redisclient.Locker, *redisclient.Client, error) {
	if !cfg.Redis.Enabled() {
		return redisclient.NoopLock{}, nil, nil
	}
	client, err := redisclient.NewClient(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}

	session := cfg.Engine.Type + ":" + cfg.Pipeline.Name
	if cfg.Engine.Type == config.EngineBrowser && cfg.Engine.Browser.ProfileDir != "" {
		if abs, err := filepath.Abs(cfg.Engine.Browser.ProfileDir); err == nil {
			session = "browser:" + abs
		}
	}
	return client.NewSessionLock(session), client, nil
}
