// Package sqlstore implements the run store on PostgreSQL or SQLite through sqlx.
package sqlstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers "postgres"
	"github.com/sethvargo/go-retry"
	_ "modernc.org/sqlite" // registers "sqlite"

	"github.com/vietddude/scribe/internal/infra/storage"
	"github.com/vietddude/scribe/internal/processing/metrics"
)

// Supported drivers.
const (
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Config holds database connection configuration.
type Config struct {
	Driver         string `yaml:"driver"`
	URL            string `yaml:"url"`
	MaxConns       int    `yaml:"max_conns"`
	MinConns       int    `yaml:"min_conns"`
	AutoMigrate    bool   `yaml:"auto_migrate"`
	ConnectRetries uint64 `yaml:"connect_retries"`
}

// Enabled reports whether a database is configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}

// DB wraps the database connection and implements storage.Store.
type DB struct {
	*sqlx.DB
	driver string
	now    func() time.Time
}

var _ storage.Store = (*DB)(nil)

// Open connects to the configured database, retrying the initial ping.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverPgx
	}

	dsn := cfg.URL
	switch driver {
	case DriverPgx, DriverPostgres:
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// One writer; the file is locked per connection.
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.MaxConns)
		} else {
			db.SetMaxOpenConns(10)
		}
		if cfg.MinConns > 0 {
			db.SetMaxIdleConns(cfg.MinConns)
		} else {
			db.SetMaxIdleConns(2)
		}
		db.SetConnMaxLifetime(time.Hour)
		db.SetConnMaxIdleTime(30 * time.Minute)
	}

	retries := cfg.ConnectRetries
	if retries == 0 {
		retries = 3
	}
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			slog.Debug("Database ping failed", "driver", driver, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, driver: driver, now: func() time.Time { return time.Now().UTC() }}, nil
}

// sqliteDSN enables foreign keys and a busy timeout unless the DSN sets pragmas itself.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Driver returns the database/sql driver name in use.
func (db *DB) Driver() string {
	return db.driver
}

// Begin starts a new unit of work.
func (db *DB) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	return db.NewUnitOfWork(ctx)
}

// StartMetricsCollector starts a background goroutine to collect DB metrics.
func (db *DB) StartMetricsCollector(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := db.Stats()
				if stats.MaxOpenConnections > 0 {
					usage := float64(stats.InUse) / float64(stats.MaxOpenConnections) * 100
					metrics.DBConnectionPoolUsage.Set(usage)
				}
			}
		}
	}()
}

// Health checks if the database is healthy.
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}
