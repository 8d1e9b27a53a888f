// Package orchestrator runs a batch of documents through the engine, one
// unit of work per document.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vietddude/scribe/internal/core/domain"
	"github.com/vietddude/scribe/internal/core/lifecycle"
	"github.com/vietddude/scribe/internal/infra/discovery"
	"github.com/vietddude/scribe/internal/infra/engine"
	"github.com/vietddude/scribe/internal/infra/output"
	"github.com/vietddude/scribe/internal/infra/storage"
	"github.com/vietddude/scribe/internal/processing/metrics"
	"github.com/vietddude/scribe/internal/processing/recovery"
	"github.com/vietddude/scribe/internal/processing/retry"
)

// ReasonHistoryUnavailable is logged when run history could not be read and
// the document starts a fresh lineage.
const ReasonHistoryUnavailable = "history unavailable, starting at attempt 1"

// UnitStarter opens one unit of work per document.
type UnitStarter interface {
	Begin(ctx context.Context) (storage.UnitOfWork, error)
}

// Config holds orchestrator configuration
type Config struct {
	Pipeline     string
	RunTag       string
	Prompt       string
	InvocationID string
	Retry        retry.Config

	Store    UnitStarter
	Engine   engine.Engine
	Writer   output.Writer
	Recovery *recovery.Handler
	Classify recovery.Classifier
	Logger   *slog.Logger
}

// Orchestrator processes documents sequentially.
type Orchestrator struct {
	cfg     Config
	log     *slog.Logger
	running atomic.Bool
	summary *Summary
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates an orchestrator. Recovery, Classify and Logger default when nil.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Classify == nil {
		cfg.Classify = recovery.Classify
	}
	if cfg.Recovery == nil {
		cfg.Recovery = recovery.NewHandler(cfg.Engine, recovery.DefaultBudget(), cfg.Logger)
	}
	return &Orchestrator{
		cfg:     cfg,
		log:     cfg.Logger.With("pipeline", cfg.Pipeline),
		summary: NewSummary(),
		sleep:   sleepCtx,
	}
}

// Running reports whether a batch is in progress.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Summary returns a snapshot of the current or last batch.
func (o *Orchestrator) Summary() Snapshot {
	return o.summary.Snapshot()
}

// Run processes files in order. It stops early only when ctx is cancelled,
// returning the context error together with the partial summary.
func (o *Orchestrator) Run(ctx context.Context, files []domain.SourceFile) (Snapshot, error) {
	if !o.running.CompareAndSwap(false, true) {
		return Snapshot{}, fmt.Errorf("batch already running")
	}
	defer o.running.Store(false)

	metrics.BatchInProgress.Set(1)
	defer metrics.BatchInProgress.Set(0)

	o.summary.Start(len(files))
	o.log.Info("Batch started", "files", len(files), "invocation_id", o.cfg.InvocationID, "engine", o.cfg.Engine.Name())

	var err error
	for _, f := range files {
		if err = ctx.Err(); err != nil {
			break
		}
		res := o.ProcessFile(ctx, f)
		o.summary.Record(res)
	}
	if err == nil {
		err = ctx.Err()
	}
	o.summary.Finish()

	snap := o.summary.Snapshot()
	snap.Log(o.log)
	return snap, err
}

// ProcessFile runs one document through history lookup, decision, engine and
// persistence. Failures never escape: they are reported in the result.
func (o *Orchestrator) ProcessFile(ctx context.Context, f domain.SourceFile) Result {
	res := Result{Path: f.Path, RelPath: f.RelPath}
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		metrics.DocumentsTotal.WithLabelValues(o.cfg.Pipeline, string(res.Outcome)).Inc()
		o.logResult(res)
	}()

	sha, err := discovery.HashFile(f.Path)
	if err != nil {
		o.log.Warn("Failed to hash file", "path", f.Path, "error", err)
		sha = ""
	}

	uow, docID, decision, err := o.preflight(ctx, f.Path, sha)
	if err != nil {
		res.abort(err)
		return res
	}
	defer uow.Rollback()

	res.DocID = docID
	res.AttemptNo = decision.AttemptNo
	res.Reason = decision.Reason

	if !decision.ShouldProcess {
		if err := uow.Commit(); err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("commit").Inc()
			res.abort(err)
			return res
		}
		res.Outcome = OutcomeSkipped
		return res
	}

	if decision.AttemptNo > 1 {
		if d := o.cfg.Retry.Backoff(); d > 0 {
			o.log.Debug("Backing off before retry", "path", f.Path, "attempt", decision.AttemptNo, "delay", d)
			if err := o.sleep(ctx, d); err != nil {
				res.abort(err)
				return res
			}
			metrics.BackoffSecondsTotal.Add(d.Seconds())
		}
	}

	runID, err := uow.CreateRun(ctx, domain.NewRun{
		DocID:        docID,
		Pipeline:     o.cfg.Pipeline,
		RunTag:       o.cfg.RunTag,
		InvocationID: o.cfg.InvocationID,
		Status:       domain.RunStatusQueued,
		AttemptNo:    decision.AttemptNo,
		ParentRunID:  decision.ParentRunID,
	})
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("create_run").Inc()
		res.abort(fmt.Errorf("failed to create run: %w", err))
		return res
	}
	res.RunID = runID

	att := &attempt{
		o:       o,
		uow:     uow,
		file:    f,
		sha:     sha,
		docID:   docID,
		runID:   runID,
		attempt: decision.AttemptNo,
		tracker: lifecycle.NewTracker(runID),
	}
	err = att.execute(ctx, &res)
	res.Transitions = att.tracker.Path()
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("run").Inc()
		res.abort(err)
		return res
	}

	if err := uow.Commit(); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("commit").Inc()
		res.abort(fmt.Errorf("failed to commit: %w", err))
		return res
	}

	metrics.RunsFinishedTotal.WithLabelValues(o.cfg.Pipeline, string(att.tracker.Current()), string(res.Kind)).Inc()
	return res
}

// preflight opens the unit, upserts the document and decides. When history
// cannot be read the unit is rolled back and restarted at attempt 1, unless
// retry-failed requires history, in which case the document is aborted.
func (o *Orchestrator) preflight(ctx context.Context, path, sha string) (storage.UnitOfWork, int64, retry.Decision, error) {
	uow, docID, last, err := o.lookup(ctx, path, sha)
	if err == nil {
		return uow, docID, retry.Decide(last, o.cfg.Retry), nil
	}
	metrics.StoreErrorsTotal.WithLabelValues("preflight").Inc()
	if ctx.Err() != nil {
		return nil, 0, retry.Decision{}, ctx.Err()
	}
	if o.cfg.Retry.RetryFailed {
		return nil, 0, retry.Decision{}, fmt.Errorf("history required for retry-failed: %w", err)
	}

	o.log.Warn("Run history unavailable, degrading to attempt 1", "path", path, "error", err)

	uow, err = o.cfg.Store.Begin(ctx)
	if err != nil {
		return nil, 0, retry.Decision{}, fmt.Errorf("failed to begin unit: %w", err)
	}
	docID, err = uow.GetOrCreateDocument(ctx, path, sha)
	if err != nil {
		_ = uow.Rollback()
		return nil, 0, retry.Decision{}, fmt.Errorf("failed to record document: %w", err)
	}
	return uow, docID, retry.Decision{ShouldProcess: true, Reason: ReasonHistoryUnavailable, AttemptNo: 1}, nil
}

func (o *Orchestrator) lookup(ctx context.Context, path, sha string) (storage.UnitOfWork, int64, *domain.RunSnapshot, error) {
	uow, err := o.cfg.Store.Begin(ctx)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to begin unit: %w", err)
	}
	docID, err := uow.GetOrCreateDocument(ctx, path, sha)
	if err != nil {
		_ = uow.Rollback()
		return nil, 0, nil, fmt.Errorf("failed to record document: %w", err)
	}
	last, err := uow.GetLatestRun(ctx, docID, o.cfg.Pipeline)
	if err != nil {
		_ = uow.Rollback()
		return nil, 0, nil, fmt.Errorf("failed to read run history: %w", err)
	}
	return uow, docID, last, nil
}

func (o *Orchestrator) logResult(res Result) {
	attrs := []any{
		"path", res.RelPath,
		"outcome", res.Outcome,
		"attempt", res.AttemptNo,
		"duration", res.Duration.Round(time.Millisecond),
	}
	if res.RunID != 0 {
		attrs = append(attrs, "run_id", res.RunID)
	}
	if res.Reason != "" {
		attrs = append(attrs, "reason", res.Reason)
	}
	if res.Kind != "" {
		attrs = append(attrs, "kind", res.Kind)
	}
	if res.Err != nil {
		attrs = append(attrs, "error", res.Err)
	}
	if res.Outcome == OutcomeFailed || res.Outcome == OutcomeAborted {
		if res.Transitions != "" {
			attrs = append(attrs, "transitions", res.Transitions)
		}
	}

	switch res.Outcome {
	case OutcomeAborted:
		o.log.Error("Document aborted", attrs...)
	case OutcomeFailed:
		o.log.Warn("Document failed", attrs...)
	case OutcomeSkipped:
		o.log.Info("Document skipped", attrs...)
	default:
		o.log.Info("Document processed", attrs...)
	}
}

// attempt drives one run through the state machine with at most one
// in-attempt recovery.
type attempt struct {
	o       *Orchestrator
	uow     storage.UnitOfWork
	file    domain.SourceFile
	sha     string
	docID   int64
	runID   int64
	attempt int
	tracker *lifecycle.Tracker
}

// execute returns only errors that abort the unit: repository failures,
// invalid transitions and caller cancellation.
func (a *attempt) execute(ctx context.Context, res *Result) error {
	cfg := a.o.cfg
	recoveries := 0
	reason := "engine start"

	for {
		if err := a.advance(ctx, domain.RunStatusProcessing, domain.RunUpdate{}, reason); err != nil {
			return err
		}
		if err := a.uow.MarkStep(ctx, a.runID, domain.StepEngineStart, domain.StepStatusStarted, nil); err != nil {
			return fmt.Errorf("failed to mark step: %w", err)
		}

		started := time.Now()
		out, err := cfg.Engine.OCR(ctx, a.file.Path, cfg.Prompt)
		elapsed := time.Since(started)

		if err == nil {
			metrics.EngineLatency.WithLabelValues(cfg.Engine.Name(), "ok").Observe(elapsed.Seconds())
			return a.succeed(ctx, res, out, elapsed)
		}
		metrics.EngineLatency.WithLabelValues(cfg.Engine.Name(), "error").Observe(elapsed.Seconds())

		if ctx.Err() != nil {
			return fmt.Errorf("interrupted: %w", ctx.Err())
		}

		kind := cfg.Classify(err)
		if cfg.Recovery.ShouldRecover(kind, recoveries) {
			recoveries++
			a.o.log.Info("Recovering engine session", "path", a.file.RelPath, "run_id", a.runID, "kind", kind, "error", err)
			if err := cfg.Recovery.Recover(ctx, a.uow, a.runID); err != nil {
				return err
			}
			reason = "retry after recovery"
			continue
		}

		return a.fail(ctx, res, domain.StepEngineFinish, err, kind)
	}
}

func (a *attempt) succeed(ctx context.Context, res *Result, out *engine.Result, elapsed time.Duration) error {
	cfg := a.o.cfg
	dir, err := cfg.Writer.Write(ctx, output.Artifact{
		RelPath: a.file.RelPath,
		Text:    out.Text,
		Data:    out.Data,
		Meta: output.Meta{
			SourcePath:   a.file.Path,
			RelPath:      a.file.RelPath,
			SHA256:       a.sha,
			Pipeline:     cfg.Pipeline,
			RunTag:       cfg.RunTag,
			Prompt:       cfg.Prompt,
			Engine:       cfg.Engine.Name(),
			DocID:        a.docID,
			RunID:        a.runID,
			AttemptNo:    a.attempt,
			InvocationID: cfg.InvocationID,
			DurationMS:   elapsed.Milliseconds(),
			WrittenAt:    time.Now().UTC(),
		},
	})
	if err != nil {
		return a.fail(ctx, res, domain.StepOutputWrite, fmt.Errorf("failed to write output: %w", err), cfg.Classify(err))
	}

	if err := a.advance(ctx, domain.RunStatusDone, domain.RunUpdate{OutPath: &dir}, "output written"); err != nil {
		return err
	}
	if err := a.uow.MarkStep(ctx, a.runID, domain.StepEngineFinish, domain.StepStatusDone, nil); err != nil {
		return fmt.Errorf("failed to mark step: %w", err)
	}
	res.Outcome = OutcomeProcessed
	res.OutPath = dir
	return nil
}

func (a *attempt) fail(ctx context.Context, res *Result, step domain.StepName, cause error, kind domain.ErrorKind) error {
	msg := cause.Error()
	code := recovery.ErrorCode(cause)
	err := a.advance(ctx, domain.RunStatusFailed, domain.RunUpdate{
		ErrorKind:    &kind,
		ErrorCode:    &code,
		ErrorMessage: &msg,
	}, msg)
	if err != nil {
		return err
	}
	if err := a.uow.MarkStep(ctx, a.runID, step, domain.StepStatusFailed, &msg); err != nil {
		return fmt.Errorf("failed to mark step: %w", err)
	}
	res.Outcome = OutcomeFailed
	res.Kind = kind
	res.Err = cause
	return nil
}

// advance validates the transition before persisting it.
func (a *attempt) advance(ctx context.Context, next domain.RunStatus, upd domain.RunUpdate, reason string) error {
	from := a.tracker.Current()
	if _, err := a.tracker.Advance(next, reason); err != nil {
		return err
	}
	if err := a.uow.MarkRunStatus(ctx, a.runID, next, upd); err != nil {
		return fmt.Errorf("failed to mark run %s -> %s: %w", from, next, err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsInterrupted reports whether err came from caller cancellation.
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
