package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/scribe/internal/core/domain"
)

var (
	// ErrRunNotFound is returned when a run id does not exist
	ErrRunNotFound = errors.New("run not found")

	// ErrDocumentNotFound is returned when a document id does not exist
	ErrDocumentNotFound = errors.New("document not found")

	// ErrUnitClosed is returned when a committed or rolled back unit is reused
	ErrUnitClosed = errors.New("unit of work already completed")
)

// RunRepository persists documents, runs and steps. It never deletes.
type RunRepository interface {
	// GetOrCreateDocument upserts a document by source path and returns its id.
	// The content hash is refreshed on every call.
	GetOrCreateDocument(ctx context.Context, path, sha256 string) (int64, error)

	// GetLatestRun returns the newest run of a document under pipeline, or nil.
	GetLatestRun(ctx context.Context, docID int64, pipeline string) (*domain.RunSnapshot, error)

	// CreateRun inserts a run row and records the pipeline context on its document.
	CreateRun(ctx context.Context, run domain.NewRun) (int64, error)

	// MarkRunStatus updates status and the non-nil fields of upd.
	// processing sets started_at; done and failed set finished_at.
	MarkRunStatus(ctx context.Context, runID int64, status domain.RunStatus, upd domain.RunUpdate) error

	// MarkStep appends a step event to a run.
	MarkStep(ctx context.Context, runID int64, name domain.StepName, status domain.StepStatus, errMsg *string) error
}

// UnitOfWork is a RunRepository bound to one transaction.
type UnitOfWork interface {
	RunRepository

	// Commit makes all writes of the unit durable.
	Commit() error

	// Rollback discards the unit. Safe to call multiple times and after Commit.
	Rollback() error
}

// RunFilter narrows ListRuns results. Zero values match everything.
type RunFilter struct {
	Pipeline string
	Status   domain.RunStatus
	Since    time.Time
	Limit    uint64
}

// RunReader serves the operator commands.
type RunReader interface {
	// ListRuns returns runs newest first, joined with their document path.
	ListRuns(ctx context.Context, f RunFilter) ([]*domain.Run, error)

	// ListSteps returns the steps of a run in creation order.
	ListSteps(ctx context.Context, runID int64) ([]*domain.Step, error)

	// CountByStatus returns the number of runs per status for a pipeline.
	CountByStatus(ctx context.Context, pipeline string) (map[domain.RunStatus]int, error)

	// ResetStale marks queued and processing runs created before cutoff as failed.
	// It returns the number of runs changed.
	ResetStale(ctx context.Context, pipeline string, cutoff time.Time) (int64, error)
}

// Store opens units of work and serves reads.
type Store interface {
	RunReader

	// Begin starts a new unit of work.
	Begin(ctx context.Context) (UnitOfWork, error)

	// Close releases the underlying resources.
	Close() error
}
