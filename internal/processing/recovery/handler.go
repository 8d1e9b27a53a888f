package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/scribe/internal/core/domain"
	"github.com/vietddude/scribe/internal/infra/engine"
	"github.com/vietddude/scribe/internal/infra/storage"
	"github.com/vietddude/scribe/internal/processing/metrics"
)

// Handler runs in-attempt recoveries and records them as recover_refresh steps.
type Handler struct {
	engine   engine.Engine
	strategy Strategy
	log      *slog.Logger
}

// NewHandler creates a new recovery handler.
func NewHandler(eng engine.Engine, strategy Strategy, log *slog.Logger) *Handler {
	if strategy == nil {
		strategy = DefaultBudget()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{engine: eng, strategy: strategy, log: log}
}

// ShouldRecover delegates to the configured strategy.
func (h *Handler) ShouldRecover(kind domain.ErrorKind, used int) bool {
	return h.strategy.ShouldRecover(kind, used)
}

// Recover asks the engine to refresh its session. A failed refresh is recorded
// but not returned: the caller retries the engine call either way.
// Only repository errors are returned.
func (h *Handler) Recover(ctx context.Context, repo storage.RunRepository, runID int64) error {
	if err := repo.MarkStep(ctx, runID, domain.StepRecoverRefresh, domain.StepStatusStarted, nil); err != nil {
		return fmt.Errorf("failed to mark recover step: %w", err)
	}

	if err := h.engine.Recover(ctx); err != nil {
		h.log.Warn("Recovery failed", "run_id", runID, "error", err)
		metrics.RecoveriesTotal.WithLabelValues("failed").Inc()
		msg := err.Error()
		if err := repo.MarkStep(ctx, runID, domain.StepRecoverRefresh, domain.StepStatusFailed, &msg); err != nil {
			return fmt.Errorf("failed to mark recover step: %w", err)
		}
		return nil
	}

	metrics.RecoveriesTotal.WithLabelValues("done").Inc()
	if err := repo.MarkStep(ctx, runID, domain.StepRecoverRefresh, domain.StepStatusDone, nil); err != nil {
		return fmt.Errorf("failed to mark recover step: %w", err)
	}
	return nil
}
