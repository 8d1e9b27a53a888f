package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/scribe/internal/core/domain"
	"github.com/vietddude/scribe/internal/infra/storage"
)

func TestUnitOfWork_CommitAndRollback(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	uow, _ := store.Begin(ctx)
	docID, _ := uow.GetOrCreateDocument(ctx, "/in/a.png", "aaa")
	runID, err := uow.CreateRun(ctx, domain.NewRun{DocID: docID, Pipeline: "p", Status: domain.RunStatusQueued, AttemptNo: 1})
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	_ = uow.Rollback()

	if runs, _ := store.ListRuns(ctx, storage.RunFilter{}); len(runs) != 0 {
		t.Fatalf("rolled back run is visible: %+v", runs)
	}

	uow, _ = store.Begin(ctx)
	docID, _ = uow.GetOrCreateDocument(ctx, "/in/a.png", "aaa")
	runID, _ = uow.CreateRun(ctx, domain.NewRun{DocID: docID, Pipeline: "p", Status: domain.RunStatusQueued, AttemptNo: 1})
	_ = uow.MarkRunStatus(ctx, runID, domain.RunStatusProcessing, domain.RunUpdate{})
	_ = uow.MarkStep(ctx, runID, domain.StepEngineStart, domain.StepStatusStarted, nil)
	if err := uow.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := uow.Commit(); !errors.Is(err, storage.ErrUnitClosed) {
		t.Errorf("expected ErrUnitClosed on second commit, got %v", err)
	}

	runs, _ := store.ListRuns(ctx, storage.RunFilter{Pipeline: "p"})
	if len(runs) != 1 || runs[0].Status != domain.RunStatusProcessing || runs[0].StartedAt == nil {
		t.Fatalf("unexpected runs: %+v", runs)
	}
	steps, _ := store.ListSteps(ctx, runID)
	if len(steps) != 1 {
		t.Errorf("expected 1 step, got %d", len(steps))
	}
}

func TestGetLatestRun_PerPipeline(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	uow, _ := store.Begin(ctx)
	defer uow.Rollback()

	docID, _ := uow.GetOrCreateDocument(ctx, "/in/a.png", "")
	first, _ := uow.CreateRun(ctx, domain.NewRun{DocID: docID, Pipeline: "p1", Status: domain.RunStatusQueued, AttemptNo: 1})
	kind := domain.ErrorKindPermanent
	_ = uow.MarkRunStatus(ctx, first, domain.RunStatusFailed, domain.RunUpdate{ErrorKind: &kind})
	_, _ = uow.CreateRun(ctx, domain.NewRun{DocID: docID, Pipeline: "p2", Status: domain.RunStatusQueued, AttemptNo: 1})

	last, err := uow.GetLatestRun(ctx, docID, "p1")
	if err != nil {
		t.Fatalf("GetLatestRun failed: %v", err)
	}
	want := domain.RunSnapshot{RunID: first, Status: domain.RunStatusFailed, AttemptNo: 1, ErrorKind: domain.ErrorKindPermanent}
	if last == nil || *last != want {
		t.Errorf("expected %+v, got %+v", want, last)
	}
	if none, _ := uow.GetLatestRun(ctx, docID, "p3"); none != nil {
		t.Errorf("expected no run for p3, got %+v", none)
	}
}

func TestCreateRun_UnknownParent(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	uow, _ := store.Begin(ctx)
	defer uow.Rollback()

	docID, _ := uow.GetOrCreateDocument(ctx, "/in/a.png", "")
	parent := int64(77)
	_, err := uow.CreateRun(ctx, domain.NewRun{DocID: docID, Pipeline: "p", Status: domain.RunStatusQueued, AttemptNo: 2, ParentRunID: &parent})
	if !errors.Is(err, storage.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestResetStale(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	uow, _ := store.Begin(ctx)
	docID, _ := uow.GetOrCreateDocument(ctx, "/in/a.png", "")
	runID, _ := uow.CreateRun(ctx, domain.NewRun{DocID: docID, Pipeline: "p", Status: domain.RunStatusQueued, AttemptNo: 1})
	_ = uow.Commit()

	n, _ := store.ResetStale(ctx, "p", time.Now().Add(-time.Hour))
	if n != 0 {
		t.Errorf("fresh run should not be reset, got %d", n)
	}
	n, _ = store.ResetStale(ctx, "p", time.Now().Add(time.Hour))
	if n != 1 {
		t.Fatalf("expected 1 reset, got %d", n)
	}

	counts, _ := store.CountByStatus(ctx, "p")
	if counts[domain.RunStatusFailed] != 1 {
		t.Errorf("expected run %d failed, counts %v", runID, counts)
	}
}

func TestMarkRunStatus_ReentryKeepsStartedAt(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := t0
	store.now = func() time.Time { return clock }

	uow, _ := store.Begin(ctx)
	docID, _ := uow.GetOrCreateDocument(ctx, "/in/a.png", "aaa")
	runID, _ := uow.CreateRun(ctx, domain.NewRun{DocID: docID, Pipeline: "p", Status: domain.RunStatusQueued, AttemptNo: 1})
	_ = uow.MarkRunStatus(ctx, runID, domain.RunStatusProcessing, domain.RunUpdate{})
	clock = t0.Add(time.Minute)
	_ = uow.MarkRunStatus(ctx, runID, domain.RunStatusProcessing, domain.RunUpdate{})
	if err := uow.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	runs, _ := store.ListRuns(ctx, storage.RunFilter{Pipeline: "p"})
	if len(runs) != 1 || runs[0].StartedAt == nil {
		t.Fatalf("unexpected runs: %+v", runs)
	}
	if !runs[0].StartedAt.Equal(t0) {
		t.Errorf("expected started_at %v after re-entry, got %v", t0, runs[0].StartedAt)
	}
}
