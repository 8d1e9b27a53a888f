package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/scribe/internal/core/domain"
	"github.com/vietddude/scribe/internal/processing/orchestrator"
)

const (
	checkInterval = 10 * time.Second
	countTimeout  = 2 * time.Second
)

// BatchProgress exposes the running batch.
type BatchProgress interface {
	Running() bool
	Summary() orchestrator.Snapshot
}

// RunCounter counts persisted runs. storage.RunReader satisfies it.
type RunCounter interface {
	CountByStatus(ctx context.Context, pipeline string) (map[domain.RunStatus]int, error)
}

// Monitor aggregates health status from the batch and the run store.
type Monitor struct {
	pipeline   string
	progress   BatchProgress
	counter    RunCounter // nil without a database
	lastCheck  time.Time
	lastCounts map[domain.RunStatus]int
	lastReport HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(pipeline string, progress BatchProgress, counter RunCounter) *Monitor {
	return &Monitor{
		pipeline: pipeline,
		progress: progress,
		counter:  counter,
	}
}

// CheckHealth builds the report, querying the store at most every 10s.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.progress.Summary()
	health := PipelineHealth{
		Pipeline: m.pipeline,
		Status:   StatusHealthy,
		Running:  m.progress.Running(),
		Batch:    snap,
	}

	if m.counter != nil {
		if time.Since(m.lastCheck) >= checkInterval || m.lastCounts == nil {
			// A long unit of work can hold the only SQLite connection; keep the previous counts then.
			cctx, cancel := context.WithTimeout(ctx, countTimeout)
			counts, err := m.counter.CountByStatus(cctx, m.pipeline)
			cancel()
			if err != nil {
				slog.Debug("Run count unavailable", "error", err)
				health.CountsStale = true
			} else {
				m.lastCounts = counts
				m.lastCheck = time.Now()
			}
		}
		health.RunCounts = m.lastCounts
	}

	attempted := snap.Counts[orchestrator.OutcomeProcessed] +
		snap.Counts[orchestrator.OutcomeFailed] +
		snap.Counts[orchestrator.OutcomeAborted]
	bad := snap.Counts[orchestrator.OutcomeFailed] + snap.Counts[orchestrator.OutcomeAborted]
	if attempted > 0 {
		health.FailureRate = float64(bad) / float64(attempted)
	}

	// Evaluate Status
	aborted := snap.Counts[orchestrator.OutcomeAborted]
	if aborted > 10 || (attempted >= 5 && health.FailureRate >= 0.9) {
		health.Status = StatusCritical
	} else if aborted > 0 || (attempted >= 5 && health.FailureRate >= 0.5) {
		health.Status = StatusDegraded
	}

	m.lastReport = HealthReport{SystemStatus: health.Status, Pipeline: health}
	return m.lastReport
}
