// Package lifecycle defines the run status state machine.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/scribe/internal/core/domain"
)

// State is an alias for domain.RunStatus for internal use.
type State = domain.RunStatus

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed run status transitions.
// Key is the current state, value is the list of valid next states.
// processing -> processing is the re-entry after an in-attempt recovery.
var ValidTransitions = map[State][]State{
	domain.RunStatusQueued: {domain.RunStatusProcessing, domain.RunStatusFailed},
	domain.RunStatusProcessing: {
		domain.RunStatusProcessing,
		domain.RunStatusDone,
		domain.RunStatusFailed,
	},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	validTargets, ok := ValidTransitions[from]
	if !ok {
		return false
	}

	for _, target := range validTargets {
		if target == to {
			return true
		}
	}
	return false
}

// Check returns ErrInvalidTransition wrapped with the offending states.
func Check(from, to State) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Transition represents a state change with metadata.
type Transition struct {
	RunID     int64
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// NewTransition creates a new transition record.
func NewTransition(runID int64, from, to State, reason string) Transition {
	return Transition{
		RunID:     runID,
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}

// Tracker follows the status of a single run and rejects illegal moves.
type Tracker struct {
	runID   int64
	current State
	history []Transition
}

// NewTracker starts tracking a freshly created queued run.
func NewTracker(runID int64) *Tracker {
	return &Tracker{runID: runID, current: domain.RunStatusQueued}
}

// Current returns the status the run is in.
func (t *Tracker) Current() State {
	return t.current
}

// Advance moves the run to next, recording the transition.
func (t *Tracker) Advance(next State, reason string) (Transition, error) {
	tr := NewTransition(t.runID, t.current, next, reason)
	if !tr.IsValid() {
		return tr, Check(t.current, next)
	}
	t.current = next
	t.history = append(t.history, tr)
	return tr, nil
}

// Path renders the statuses visited so far, e.g. "queued>processing>failed".
func (t *Tracker) Path() string {
	if len(t.history) == 0 {
		return string(t.current)
	}
	parts := make([]string, 0, len(t.history)+1)
	parts = append(parts, string(t.history[0].From))
	for _, tr := range t.history {
		parts = append(parts, string(tr.To))
	}
	return strings.Join(parts, ">")
}
