package orchestrator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/scribe/internal/core/domain"
)

// Outcome is the per-file result of a batch.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
	OutcomeAborted   Outcome = "aborted"
)

// Result describes what happened to one file.
type Result struct {
	Path      string
	RelPath   string
	Outcome   Outcome
	Reason    string
	DocID     int64
	RunID     int64
	AttemptNo int
	Kind      domain.ErrorKind
	OutPath   string
	Err       error
	Duration  time.Duration

	// Transitions is the status path of the run, e.g. "queued>processing>failed".
	Transitions string
}

func (r *Result) abort(err error) {
	r.Outcome = OutcomeAborted
	r.Err = err
}

const recentFailures = 10

// Snapshot is a point-in-time copy of batch progress.
type Snapshot struct {
	Total          int             `json:"total"`
	Seen           int             `json:"seen"`
	Counts         map[Outcome]int `json:"counts"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	DocsPerMinute  float64         `json:"docs_per_minute"`
	AverageRunTime time.Duration   `json:"average_run_time"`
	RecentFailures []Result        `json:"-"`
}

// Summary accumulates results over a batch. It is safe for concurrent readers.
type Summary struct {
	mu         sync.Mutex
	total      int
	counts     map[Outcome]int
	startedAt  time.Time
	finishedAt *time.Time
	runTime    time.Duration // engine-bound time of processed and failed files
	runs       int
	failures   []Result // ring of recent failed or aborted results
}

// NewSummary creates an empty summary.
func NewSummary() *Summary {
	return &Summary{counts: make(map[Outcome]int)}
}

// Start resets the summary for a batch of total files.
func (s *Summary) Start(total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = total
	s.counts = make(map[Outcome]int)
	s.startedAt = time.Now()
	s.finishedAt = nil
	s.runTime = 0
	s.runs = 0
	s.failures = s.failures[:0]
}

// Record adds one file result.
func (s *Summary) Record(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[r.Outcome]++

	if r.Outcome == OutcomeProcessed || r.Outcome == OutcomeFailed {
		s.runTime += r.Duration
		s.runs++
	}

	if r.Outcome == OutcomeFailed || r.Outcome == OutcomeAborted {
		if len(s.failures) >= recentFailures {
			copy(s.failures, s.failures[1:])
			s.failures[len(s.failures)-1] = r
		} else {
			s.failures = append(s.failures, r)
		}
	}
}

// Finish stamps the end of the batch.
func (s *Summary) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.finishedAt = &now
}

// Snapshot returns current progress.
func (s *Summary) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Total:          s.total,
		Counts:         make(map[Outcome]int, len(s.counts)),
		StartedAt:      s.startedAt,
		FinishedAt:     s.finishedAt,
		RecentFailures: make([]Result, len(s.failures)),
	}
	for k, v := range s.counts {
		snap.Counts[k] = v
		snap.Seen += v
	}
	copy(snap.RecentFailures, s.failures)

	end := time.Now()
	if s.finishedAt != nil {
		end = *s.finishedAt
	}
	if elapsed := end.Sub(s.startedAt); elapsed > 0 && !s.startedAt.IsZero() {
		snap.DocsPerMinute = float64(snap.Counts[OutcomeProcessed]) / elapsed.Minutes()
	}
	if s.runs > 0 {
		snap.AverageRunTime = s.runTime / time.Duration(s.runs)
	}
	return snap
}

// Log writes the batch summary line.
func (s Snapshot) Log(log *slog.Logger) {
	elapsed := time.Duration(0)
	if s.FinishedAt != nil {
		elapsed = s.FinishedAt.Sub(s.StartedAt)
	}
	log.Info("Batch finished",
		"files", s.Total,
		"seen", s.Seen,
		"processed", s.Counts[OutcomeProcessed],
		"skipped", s.Counts[OutcomeSkipped],
		"failed", s.Counts[OutcomeFailed],
		"aborted", s.Counts[OutcomeAborted],
		"elapsed", elapsed.Round(time.Second),
		"docs_per_min", s.DocsPerMinute,
		"avg_run", s.AverageRunTime.Round(time.Millisecond),
	)
}
