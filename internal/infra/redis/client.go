// Package redis provides a Redis backed lock that keeps one process per browser profile.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// ErrLockHeld is returned when another process owns the session lock.
var ErrLockHeld = errors.New("session lock held by another process")

const defaultLockTTL = 30 * time.Second

// Config holds Redis connection configuration.
type Config struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// Enabled reports whether Redis is configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}

// Client wraps the Redis connection.
type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewClient creates a new Redis client and waits for the server to answer.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	backoff := retry.WithMaxRetries(3, retry.NewExponential(250*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pctx).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Client{rdb: rdb, ttl: ttl}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func lockKey(session string) string {
	return fmt.Sprintf("scribe:session:%s", session)
}

// Locker guards the single browser session a batch drives.
type Locker interface {
	// Acquire takes the lock or returns ErrLockHeld.
	Acquire(ctx context.Context) error
	// Hold refreshes the lock until ctx is done.
	Hold(ctx context.Context)
	// Release frees the lock if this process still owns it.
	Release(ctx context.Context) error
}

// SessionLock is a SET NX lock with an owner token so only the owner can refresh or release it.
type SessionLock struct {
	rdb   *redis.Client
	key   string
	owner string
	ttl   time.Duration
}

var _ Locker = (*SessionLock)(nil)

// NewSessionLock creates a lock for the named session, typically the browser profile dir.
func (c *Client) NewSessionLock(session string) *SessionLock {
	return &SessionLock{
		rdb:   c.rdb,
		key:   lockKey(session),
		owner: uuid.NewString(),
		ttl:   c.ttl,
	}
}

func (l *SessionLock) Acquire(ctx context.Context) error {
	ok, err := l.rdb.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("setnx failed: %w", err)
	}
	if !ok {
		holder, _ := l.rdb.Get(ctx, l.key).Result()
		return fmt.Errorf("%w: %s (owner %s)", ErrLockHeld, l.key, holder)
	}
	return nil
}

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Refresh extends the TTL. It returns ErrLockHeld when ownership was lost.
func (l *SessionLock) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.rdb, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s lost", ErrLockHeld, l.key)
	}
	return nil
}

func (l *SessionLock) Hold(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Refresh(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("Failed to refresh session lock", "key", l.key, "error", err)
			}
		}
	}
}

func (l *SessionLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("release failed: %w", err)
	}
	return nil
}

// NoopLock is used when Redis is not configured.
type NoopLock struct{}

var _ Locker = NoopLock{}

func (NoopLock) Acquire(ctx context.Context) error { return nil }

func (NoopLock) Hold(ctx context.Context) { <-ctx.Done() }

func (NoopLock) Release(ctx context.Context) error { return nil }
