package lifecycle

import (
	"errors"
	"testing"

	"github.com/vietddude/scribe/internal/core/domain"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{domain.RunStatusQueued, domain.RunStatusProcessing, true},
		{domain.RunStatusQueued, domain.RunStatusFailed, true},
		{domain.RunStatusQueued, domain.RunStatusDone, false},
		{domain.RunStatusProcessing, domain.RunStatusProcessing, true},
		{domain.RunStatusProcessing, domain.RunStatusDone, true},
		{domain.RunStatusProcessing, domain.RunStatusFailed, true},
		{domain.RunStatusDone, domain.RunStatusProcessing, false},
		{domain.RunStatusFailed, domain.RunStatusProcessing, false},
		{domain.RunStatusSkipped, domain.RunStatusQueued, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTracker_RecoveryPath(t *testing.T) {
	tr := NewTracker(7)

	steps := []State{
		domain.RunStatusProcessing,
		domain.RunStatusProcessing,
		domain.RunStatusDone,
	}
	for _, s := range steps {
		if _, err := tr.Advance(s, "test"); err != nil {
			t.Fatalf("Advance(%s) failed: %v", s, err)
		}
	}

	if tr.Current() != domain.RunStatusDone {
		t.Errorf("expected done, got %s", tr.Current())
	}
	if got := tr.Path(); got != "queued>processing>processing>done" {
		t.Errorf("unexpected path %q", got)
	}
}

func TestTracker_RejectsTerminalExit(t *testing.T) {
	tr := NewTracker(1)
	_, _ = tr.Advance(domain.RunStatusProcessing, "")
	_, _ = tr.Advance(domain.RunStatusFailed, "")

	_, err := tr.Advance(domain.RunStatusProcessing, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if tr.Current() != domain.RunStatusFailed {
		t.Errorf("state changed after rejected transition: %s", tr.Current())
	}
}

func TestTracker_Path(t *testing.T) {
	tr := NewTracker(1)
	if got := tr.Path(); got != "queued" {
		t.Errorf("expected queued, got %q", got)
	}

	for _, s := range []State{domain.RunStatusProcessing, domain.RunStatusProcessing, domain.RunStatusFailed} {
		if _, err := tr.Advance(s, ""); err != nil {
			t.Fatalf("Advance(%s) failed: %v", s, err)
		}
	}
	if got := tr.Path(); got != "queued>processing>processing>failed" {
		t.Errorf("unexpected path %q", got)
	}
}
