package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestNoopLock(t *testing.T) {
	var l Locker = NoopLock{}
	ctx, cancel := context.WithCancel(context.Background())

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	done := make(chan struct{})
	go func() {
		l.Hold(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Hold did not return after cancel")
	}
	if err := l.Release(context.Background()); err != nil {
		t.Errorf("Release failed: %v", err)
	}
}

func TestConfigEnabled(t *testing.T) {
	if (Config{}).Enabled() {
		t.Error("empty config should be disabled")
	}
	if !(Config{URL: "redis://localhost:6379/0"}).Enabled() {
		t.Error("config with URL should be enabled")
	}
}

func TestNewClient_BadURL(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{URL: "not a url"}); err == nil {
		t.Error("expected parse error")
	}
}

// Runs against a real server when SCRIBE_TEST_REDIS_URL is set.
func TestSessionLock(t *testing.T) {
	url := os.Getenv("SCRIBE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SCRIBE_TEST_REDIS_URL not set")
	}
	ctx := context.Background()

	c, err := NewClient(ctx, Config{URL: url, LockTTL: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer c.Close()

	session := "test-" + time.Now().Format("150405.000000")
	first := c.NewSessionLock(session)
	second := c.NewSessionLock(session)

	if err := first.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	if err := second.Acquire(ctx); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	if err := second.Refresh(ctx); !errors.Is(err, ErrLockHeld) {
		t.Errorf("non-owner refresh should fail, got %v", err)
	}
	if err := first.Refresh(ctx); err != nil {
		t.Errorf("owner refresh failed: %v", err)
	}

	// A non-owner release leaves the lock in place.
	_ = second.Release(ctx)
	if err := second.Acquire(ctx); !errors.Is(err, ErrLockHeld) {
		t.Errorf("lock released by non-owner")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := second.Acquire(ctx); err != nil {
		t.Errorf("Acquire after release failed: %v", err)
	}
	_ = second.Release(ctx)
}
