package report

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vietddude/scribe/internal/core/domain"
	"github.com/vietddude/scribe/internal/infra/storage"
	"github.com/vietddude/scribe/internal/infra/storage/memory"
)

func seed(t *testing.T, store *memory.MemoryStorage) {
	t.Helper()
	ctx := context.Background()
	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	docID, err := uow.GetOrCreateDocument(ctx, "/in/a.png", "abc")
	if err != nil {
		t.Fatal(err)
	}
	runID, err := uow.CreateRun(ctx, domain.NewRun{
		DocID: docID, Pipeline: "ocr", Status: domain.RunStatusQueued, AttemptNo: 1, InvocationID: "inv-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	kind := domain.ErrorKindTransient
	msg := "engine timed out"
	if err := uow.MarkStep(ctx, runID, domain.StepEngineStart, domain.StepStatusStarted, nil); err != nil {
		t.Fatal(err)
	}
	if err := uow.MarkStep(ctx, runID, domain.StepEngineFinish, domain.StepStatusFailed, &msg); err != nil {
		t.Fatal(err)
	}
	if err := uow.MarkRunStatus(ctx, runID, domain.RunStatusFailed, domain.RunUpdate{ErrorKind: &kind, ErrorMessage: &msg}); err != nil {
		t.Fatal(err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestBuild(t *testing.T) {
	store := memory.NewMemoryStorage()
	seed(t, store)

	f, n, err := Build(context.Background(), store, storage.RunFilter{Pipeline: "ocr"}, true)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if n != 1 {
		t.Fatalf("expected 1 run, got %d", n)
	}

	rows, err := f.GetRows(RunsSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header and 1 row, got %d rows", len(rows))
	}
	if diff := cmp.Diff(runHeaders, rows[0]); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	got := rows[1]
	if got[1] != "/in/a.png" || got[4] != "failed" || got[7] != "transient" || got[9] != "engine timed out" {
		t.Errorf("unexpected run row: %v", got)
	}

	steps, err := f.GetRows(StepsSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected header and 2 steps, got %d rows", len(steps))
	}
	if steps[1][1] != "engine_start" || steps[2][2] != "failed" {
		t.Errorf("unexpected steps: %v", steps[1:])
	}
}

func TestBuild_WithoutSteps(t *testing.T) {
	store := memory.NewMemoryStorage()
	seed(t, store)

	f, _, err := Build(context.Background(), store, storage.RunFilter{}, false)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if idx, _ := f.GetSheetIndex(StepsSheet); idx != -1 {
		t.Error("steps sheet should be absent")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 3); got != "abc..." {
		t.Errorf("got %v", got)
	}
	if got := truncate("", 3); got != "" {
		t.Errorf("got %v", got)
	}
	if got := truncate(int64(7), 3); got != int64(7) {
		t.Errorf("non-strings pass through, got %v", got)
	}
}
