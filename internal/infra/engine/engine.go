// Package engine defines the transcription engine boundary.
package engine

import (
	"context"
	"errors"
)

var (
	// ErrNotStarted is returned when OCR is called before Start.
	ErrNotStarted = errors.New("engine not started")

	// ErrTimeout is returned when a UI or API wait exceeds its budget.
	ErrTimeout = errors.New("engine timeout")

	// ErrTargetClosed is returned when the browser target or session went away.
	ErrTargetClosed = errors.New("target closed")

	// ErrUnavailable is returned when the backend is temporarily unavailable.
	ErrUnavailable = errors.New("service temporarily unavailable")

	// ErrLoginRequired is returned when the session is not authenticated.
	ErrLoginRequired = errors.New("login required")

	// ErrInvalidInput is returned when the input file cannot be transcribed.
	ErrInvalidInput = errors.New("invalid input format")
)

// Result is the outcome of a successful transcription.
type Result struct {
	Text string
	Data map[string]any
}

// Engine performs one transcription attempt per call.
type Engine interface {
	// Start prepares the engine session.
	Start(ctx context.Context) error

	// Stop releases the engine session. Safe to call more than once.
	Stop(ctx context.Context) error

	// OCR transcribes the file at path using prompt.
	OCR(ctx context.Context, path, prompt string) (*Result, error)

	// Recover makes a best-effort attempt to bring the session back to a usable state.
	Recover(ctx context.Context) error

	// Name identifies the engine in logs and metadata.
	Name() string
}
