package sqlstore

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/vietddude/scribe/internal/core/domain"
	"github.com/vietddude/scribe/internal/infra/storage"
)

func (db *DB) builder() sq.StatementBuilderType {
	if db.driver == DriverSQLite {
		return sq.StatementBuilder.PlaceholderFormat(sq.Question)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

var runColumns = []string{
	"r.run_id", "r.doc_id", "r.pipeline", "r.run_tag", "r.invocation_id", "r.status",
	"r.attempt_no", "r.parent_run_id", "r.error_kind", "r.error_code", "r.error_message",
	"r.out_path", "r.created_at", "r.started_at", "r.finished_at", "d.source_path",
}

// ListRuns returns runs newest first, joined with their document path.
func (db *DB) ListRuns(ctx context.Context, f storage.RunFilter) ([]*domain.Run, error) {
	q := db.builder().
		Select(runColumns...).
		From("ocr_run r").
		Join("ocr_document d ON d.doc_id = r.doc_id").
		OrderBy("r.run_id DESC")

	if f.Pipeline != "" {
		q = q.Where(sq.Eq{"r.pipeline": f.Pipeline})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"r.status": string(f.Status)})
	}
	if !f.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"r.created_at": f.Since.UTC()})
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build run query: %w", err)
	}

	var runs []*domain.Run
	if err := db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// ListSteps returns the steps of a run in creation order.
func (db *DB) ListSteps(ctx context.Context, runID int64) ([]*domain.Step, error) {
	query, args, err := db.builder().
		Select("step_id", "run_id", "step_name", "status", "error_message", "created_at").
		From("ocr_step").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("step_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build step query: %w", err)
	}

	var steps []*domain.Step
	if err := db.SelectContext(ctx, &steps, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list steps of run %d: %w", runID, err)
	}
	return steps, nil
}

// CountByStatus returns the number of runs per status for a pipeline.
func (db *DB) CountByStatus(ctx context.Context, pipeline string) (map[domain.RunStatus]int, error) {
	q := db.builder().
		Select("status", "COUNT(*) AS n").
		From("ocr_run").
		GroupBy("status")
	if pipeline != "" {
		q = q.Where(sq.Eq{"pipeline": pipeline})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build count query: %w", err)
	}

	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}

	counts := make(map[domain.RunStatus]int, len(rows))
	for _, r := range rows {
		counts[domain.RunStatus(r.Status)] = r.N
	}
	return counts, nil
}

// ResetStale marks queued and processing runs created before cutoff as failed
// with kind unknown, so a retry-failed invocation picks them up.
func (db *DB) ResetStale(ctx context.Context, pipeline string, cutoff time.Time) (int64, error) {
	q := db.builder().
		Update("ocr_run").
		Set("status", string(domain.RunStatusFailed)).
		Set("error_kind", string(domain.ErrorKindUnknown)).
		Set("error_code", "interrupted").
		Set("error_message", "run interrupted before completion").
		Set("finished_at", db.now()).
		Where(sq.Eq{"status": []string{string(domain.RunStatusQueued), string(domain.RunStatusProcessing)}}).
		Where(sq.Lt{"created_at": cutoff.UTC()})
	if pipeline != "" {
		q = q.Where(sq.Eq{"pipeline": pipeline})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build reset query: %w", err)
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale runs: %w", err)
	}
	return res.RowsAffected()
}
