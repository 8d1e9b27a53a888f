// Package fake provides a deterministic engine for tests and dry runs.
package fake

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vietddude/scribe/internal/infra/engine"
)

// Engine returns a canned transcript per file. Failures can be scripted per
// file base name and are consumed in order, one per OCR call.
type Engine struct {
	Latency    time.Duration
	RecoverErr error

	mu       sync.Mutex
	started  bool
	failures map[string][]error
	calls    map[string]int
	recovers int
}

var _ engine.Engine = (*Engine)(nil)

// New creates a fake engine.
func New() *Engine {
	return &Engine{
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// FailWith queues errors for the next OCR calls on the named file.
func (e *Engine) FailWith(name string, errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[name] = append(e.failures[name], errs...)
}

func (e *Engine) Name() string { return "fake" }

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = true
	return nil
}

func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = false
	return nil
}

func (e *Engine) OCR(ctx context.Context, path, prompt string) (*engine.Result, error) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil, engine.ErrNotStarted
	}
	name := filepath.Base(path)
	e.calls[name]++
	var scripted error
	if q := e.failures[name]; len(q) > 0 {
		scripted, e.failures[name] = q[0], q[1:]
	}
	e.mu.Unlock()

	if e.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.Latency):
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if scripted != nil {
		return nil, scripted
	}

	return &engine.Result{
		Text: fmt.Sprintf("transcript of %s", name),
		Data: map[string]any{
			"source": name,
			"bytes":  info.Size(),
			"prompt": prompt,
		},
	}, nil
}

func (e *Engine) Recover(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recovers++
	return e.RecoverErr
}

// Calls returns how many OCR calls the named file received.
func (e *Engine) Calls(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[name]
}

// Recoveries returns how many times Recover was called.
func (e *Engine) Recoveries() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recovers
}
