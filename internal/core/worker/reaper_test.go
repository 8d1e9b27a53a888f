package worker

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubResetter struct {
	pipeline string
	cutoff   time.Time
	n        int64
	err      error
	calls    int
}

func (s *stubResetter) ResetStale(ctx context.Context, pipeline string, cutoff time.Time) (int64, error) {
	s.calls++
	s.pipeline, s.cutoff = pipeline, cutoff
	return s.n, s.err
}

func TestReaper_Disabled(t *testing.T) {
	store := &stubResetter{n: 3}
	r := NewReaper("ocr", 0, store)
	if got := r.Reap(context.Background()); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
	if store.calls != 0 {
		t.Error("disabled reaper must not touch the store")
	}
}

func TestReaper_Cutoff(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &stubResetter{n: 2}
	r := NewReaper("ocr", time.Hour, store)
	r.now = func() time.Time { return now }

	if got := r.Reap(context.Background()); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
	if store.pipeline != "ocr" {
		t.Errorf("expected pipeline ocr, got %q", store.pipeline)
	}
	if want := now.Add(-time.Hour); !store.cutoff.Equal(want) {
		t.Errorf("expected cutoff %v, got %v", want, store.cutoff)
	}
}

func TestReaper_StoreError(t *testing.T) {
	store := &stubResetter{err: errors.New("locked")}
	r := NewReaper("ocr", time.Minute, store)
	if got := r.Reap(context.Background()); got != 0 {
		t.Errorf("expected 0 on error, got %d", got)
	}
}
