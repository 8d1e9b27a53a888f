package retry

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vietddude/scribe/internal/core/domain"
)

func ptr(v int64) *int64 { return &v }

func snap(id int64, status domain.RunStatus, attempt int, kind domain.ErrorKind) *domain.RunSnapshot {
	return &domain.RunSnapshot{RunID: id, Status: status, AttemptNo: attempt, ErrorKind: kind}
}

// =============================================================================
// Decision Table
// =============================================================================

func TestDecide(t *testing.T) {
	base := DefaultConfig()
	resume := base
	resume.Resume = true
	retryFailed := base
	retryFailed.RetryFailed = true
	force := base
	force.Force = true
	transientOnly := retryFailed
	transientOnly.ErrorKinds = []domain.ErrorKind{domain.ErrorKindTransient}

	tests := []struct {
		name string
		last *domain.RunSnapshot
		cfg  Config
		want Decision
	}{
		{
			name: "no history processes first attempt",
			cfg:  Config{},
			want: Decision{ShouldProcess: true, Reason: ReasonNew, AttemptNo: 1},
		},
		{
			name: "no history with retry-failed skips",
			cfg:  retryFailed,
			want: Decision{Reason: ReasonNoHistory, AttemptNo: 1},
		},
		{
			name: "done is skipped",
			last: snap(5, domain.RunStatusDone, 1, ""),
			cfg:  resume,
			want: Decision{Reason: ReasonAlreadyDone, AttemptNo: 2, ParentRunID: ptr(5)},
		},
		{
			name: "force revives done",
			last: snap(5, domain.RunStatusDone, 1, ""),
			cfg:  force,
			want: Decision{ShouldProcess: true, Reason: ReasonForced, AttemptNo: 2, ParentRunID: ptr(5)},
		},
		{
			name: "skipped stays skipped on resume",
			last: snap(6, domain.RunStatusSkipped, 1, ""),
			cfg:  resume,
			want: Decision{Reason: ReasonPreviouslySkipped, AttemptNo: 2, ParentRunID: ptr(6)},
		},
		{
			name: "skipped stays skipped on retry-failed",
			last: snap(6, domain.RunStatusSkipped, 1, ""),
			cfg:  retryFailed,
			want: Decision{Reason: ReasonPreviouslySkipped, AttemptNo: 2, ParentRunID: ptr(6)},
		},
		{
			name: "force revives skipped",
			last: snap(6, domain.RunStatusSkipped, 1, ""),
			cfg:  force,
			want: Decision{ShouldProcess: true, Reason: ReasonForced, AttemptNo: 2, ParentRunID: ptr(6)},
		},
		{
			name: "failed without flags is skipped",
			last: snap(7, domain.RunStatusFailed, 1, domain.ErrorKindTransient),
			cfg:  base,
			want: Decision{Reason: ReasonFailedNeedsFlag, AttemptNo: 2, ParentRunID: ptr(7)},
		},
		{
			name: "failed transient is retried on resume",
			last: snap(7, domain.RunStatusFailed, 1, domain.ErrorKindTransient),
			cfg:  resume,
			want: Decision{ShouldProcess: true, Reason: ReasonRetrying, AttemptNo: 2, ParentRunID: ptr(7)},
		},
		{
			name: "failed without kind counts as unknown",
			last: snap(7, domain.RunStatusFailed, 1, ""),
			cfg:  retryFailed,
			want: Decision{ShouldProcess: true, Reason: ReasonRetrying, AttemptNo: 2, ParentRunID: ptr(7)},
		},
		{
			name: "unknown excluded by retry kinds",
			last: snap(7, domain.RunStatusFailed, 1, domain.ErrorKindUnknown),
			cfg:  transientOnly,
			want: Decision{
				Reason:      "error kind unknown not in retry kinds",
				AttemptNo:   2,
				ParentRunID: ptr(7),
			},
		},
		{
			name: "interrupted processing is skipped without resume",
			last: snap(8, domain.RunStatusProcessing, 2, ""),
			cfg:  base,
			want: Decision{Reason: ReasonNeedsResume, AttemptNo: 3, ParentRunID: ptr(8)},
		},
		{
			name: "interrupted queued is resumed",
			last: snap(8, domain.RunStatusQueued, 2, ""),
			cfg:  resume,
			want: Decision{ShouldProcess: true, Reason: ReasonResumeReset, AttemptNo: 3, ParentRunID: ptr(8)},
		},
		{
			name: "unrecognised status is skipped",
			last: snap(9, "archived", 1, ""),
			cfg:  resume,
			want: Decision{Reason: `unrecognised status "archived"`, AttemptNo: 2, ParentRunID: ptr(9)},
		},
		{
			name: "zero attempt number is treated as one",
			last: snap(9, domain.RunStatusFailed, 0, domain.ErrorKindTransient),
			cfg:  resume,
			want: Decision{ShouldProcess: true, Reason: ReasonRetrying, AttemptNo: 2, ParentRunID: ptr(9)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.last, tt.cfg)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decide() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// =============================================================================
// Properties
// =============================================================================

func TestDecide_ForceAlwaysProcesses(t *testing.T) {
	statuses := []domain.RunStatus{
		domain.RunStatusQueued,
		domain.RunStatusProcessing,
		domain.RunStatusDone,
		domain.RunStatusFailed,
		domain.RunStatusSkipped,
	}
	kinds := []domain.ErrorKind{"", domain.ErrorKindTransient, domain.ErrorKindPermanent, domain.ErrorKindUnknown}

	cfg := DefaultConfig()
	cfg.Force = true
	for _, st := range statuses {
		for _, k := range kinds {
			for attempt := 1; attempt <= 5; attempt++ {
				d := Decide(snap(42, st, attempt, k), cfg)
				if !d.ShouldProcess || d.AttemptNo != attempt+1 || d.ParentRunID == nil || *d.ParentRunID != 42 {
					t.Errorf("force on %s/%s/%d: got %+v", st, k, attempt, d)
				}
			}
		}
	}
}

func TestDecide_PermanentNeverRetried(t *testing.T) {
	for _, cfg := range []Config{
		{Resume: true, MaxAttempts: 10, ErrorKinds: DefaultErrorKinds},
		{RetryFailed: true, MaxAttempts: 10, ErrorKinds: []domain.ErrorKind{domain.ErrorKindPermanent}},
	} {
		d := Decide(snap(1, domain.RunStatusFailed, 1, domain.ErrorKindPermanent), cfg)
		if d.ShouldProcess {
			t.Errorf("permanent failure retried with %+v", cfg)
		}
		if d.Reason != ReasonPermanent {
			t.Errorf("expected permanent reason, got %q", d.Reason)
		}
	}
}

func TestDecide_MaxAttemptsBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryFailed = true

	if d := Decide(snap(1, domain.RunStatusFailed, 3, domain.ErrorKindTransient), cfg); d.ShouldProcess {
		t.Error("attempt 3 of 3 should not be retried")
	} else if d.Reason != ReasonMaxAttempts {
		t.Errorf("expected max attempts reason, got %q", d.Reason)
	}

	d := Decide(snap(1, domain.RunStatusFailed, 2, domain.ErrorKindTransient), cfg)
	if !d.ShouldProcess || d.AttemptNo != 3 {
		t.Errorf("attempt 2 of 3 should retry as attempt 3, got %+v", d)
	}
}

func TestDecide_Pure(t *testing.T) {
	last := snap(11, domain.RunStatusFailed, 1, domain.ErrorKindUnknown)
	cfg := DefaultConfig()
	cfg.Resume = true

	first := Decide(last, cfg)
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(first, Decide(last, cfg)); diff != "" {
			t.Fatalf("decision changed between calls:\n%s", diff)
		}
	}
	if diff := cmp.Diff(snap(11, domain.RunStatusFailed, 1, domain.ErrorKindUnknown), last); diff != "" {
		t.Errorf("input snapshot mutated:\n%s", diff)
	}
}

func TestDecide_AttemptChain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 5
	cfg.RetryFailed = true

	var last *domain.RunSnapshot
	var runID int64 = 100
	for want := 1; want <= 5; want++ {
		var d Decision
		if last == nil {
			d = Decide(nil, Config{MaxAttempts: 5, ErrorKinds: DefaultErrorKinds})
		} else {
			d = Decide(last, cfg)
		}
		if !d.ShouldProcess {
			t.Fatalf("attempt %d not processed: %s", want, d.Reason)
		}
		if d.AttemptNo != want {
			t.Fatalf("expected attempt %d, got %d", want, d.AttemptNo)
		}
		if last != nil && (d.ParentRunID == nil || *d.ParentRunID != last.RunID) {
			t.Fatalf("attempt %d parent mismatch: %v", want, d.ParentRunID)
		}
		runID++
		last = snap(runID, domain.RunStatusFailed, d.AttemptNo, domain.ErrorKindTransient)
	}

	if d := Decide(last, cfg); d.ShouldProcess {
		t.Error("chain should stop at max attempts")
	}
}

// =============================================================================
// Scenarios
// =============================================================================

func TestScenario_TransientRetriedAtAttemptTwo(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resume = true

	d := Decide(snap(10, domain.RunStatusFailed, 1, domain.ErrorKindTransient), cfg)
	want := Decision{ShouldProcess: true, Reason: ReasonRetrying, AttemptNo: 2, ParentRunID: ptr(10)}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestScenario_PermanentSkipped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resume = true

	d := Decide(snap(10, domain.RunStatusFailed, 1, domain.ErrorKindPermanent), cfg)
	if d.ShouldProcess {
		t.Error("permanent failure should be skipped")
	}
}

// =============================================================================
// Config
// =============================================================================

func TestParseErrorKinds(t *testing.T) {
	got, err := ParseErrorKinds(" Transient , unknown,")
	if err != nil {
		t.Fatalf("ParseErrorKinds failed: %v", err)
	}
	want := []domain.ErrorKind{domain.ErrorKindTransient, domain.ErrorKindUnknown}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	if got, _ := ParseErrorKinds(""); len(got) != 2 {
		t.Errorf("empty list should default, got %v", got)
	}
	if _, err := ParseErrorKinds("transient,flaky"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestConfig_Backoff(t *testing.T) {
	if (Config{}).Backoff() != 0 {
		t.Error("zero seconds should mean no backoff")
	}
	if got := (Config{BackoffSeconds: 1.5}).Backoff(); got.Milliseconds() != 1500 {
		t.Errorf("expected 1.5s, got %v", got)
	}
}
