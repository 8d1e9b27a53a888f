package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/scribe/internal/core/domain"
	"github.com/vietddude/scribe/internal/infra/storage"
)

// UnitOfWork bundles the writes of one document into a single database transaction,
// ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	tx  *sqlx.Tx
	now func() time.Time
}

var _ storage.UnitOfWork = (*UnitOfWork)(nil)

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx, now: db.now}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return storage.ErrUnitClosed
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

func (u *UnitOfWork) open() error {
	if u.tx == nil {
		return storage.ErrUnitClosed
	}
	return nil
}

const upsertDocumentSQL = `
INSERT INTO ocr_document (source_path, source_sha256, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (source_path) DO UPDATE SET
    source_sha256 = COALESCE(excluded.source_sha256, ocr_document.source_sha256),
    updated_at    = excluded.updated_at
RETURNING doc_id`

// GetOrCreateDocument upserts the document row by source path.
func (u *UnitOfWork) GetOrCreateDocument(ctx context.Context, path, sha256 string) (int64, error) {
	if err := u.open(); err != nil {
		return 0, err
	}
	now := u.now()
	var id int64
	err := u.tx.QueryRowxContext(ctx, u.tx.Rebind(upsertDocumentSQL), path, nullString(sha256), now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert document %s: %w", path, err)
	}
	return id, nil
}

type latestRunRow struct {
	RunID     int64          `db:"run_id"`
	Status    string         `db:"status"`
	AttemptNo int            `db:"attempt_no"`
	ErrorKind sql.NullString `db:"error_kind"`
}

const latestRunSQL = `
SELECT run_id, status, attempt_no, error_kind
FROM ocr_run
WHERE doc_id = ? AND pipeline = ?
ORDER BY run_id DESC
LIMIT 1`

// GetLatestRun returns the newest run of the document under pipeline, or nil.
func (u *UnitOfWork) GetLatestRun(ctx context.Context, docID int64, pipeline string) (*domain.RunSnapshot, error) {
	if err := u.open(); err != nil {
		return nil, err
	}
	var row latestRunRow
	err := u.tx.GetContext(ctx, &row, u.tx.Rebind(latestRunSQL), docID, pipeline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run for doc %d: %w", docID, err)
	}
	return &domain.RunSnapshot{
		RunID:     row.RunID,
		Status:    domain.RunStatus(row.Status),
		AttemptNo: row.AttemptNo,
		ErrorKind: domain.ErrorKind(row.ErrorKind.String),
	}, nil
}

const insertRunSQL = `
INSERT INTO ocr_run (doc_id, pipeline, run_tag, invocation_id, status, attempt_no, parent_run_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING run_id`

const touchDocumentSQL = `
UPDATE ocr_document SET pipeline = ?, run_tag = ?, updated_at = ?
WHERE doc_id = ?`

// CreateRun inserts the run and records the pipeline context on the document.
func (u *UnitOfWork) CreateRun(ctx context.Context, nr domain.NewRun) (int64, error) {
	if err := u.open(); err != nil {
		return 0, err
	}
	now := u.now()
	attempt := nr.AttemptNo
	if attempt < 1 {
		attempt = 1
	}

	var parent sql.NullInt64
	if nr.ParentRunID != nil {
		parent = sql.NullInt64{Int64: *nr.ParentRunID, Valid: true}
	}

	var id int64
	err := u.tx.QueryRowxContext(ctx, u.tx.Rebind(insertRunSQL),
		nr.DocID, nr.Pipeline, nr.RunTag, nr.InvocationID, string(nr.Status), attempt, parent, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create run for doc %d: %w", nr.DocID, err)
	}

	res, err := u.tx.ExecContext(ctx, u.tx.Rebind(touchDocumentSQL), nr.Pipeline, nr.RunTag, now, nr.DocID)
	if err != nil {
		return 0, fmt.Errorf("failed to update document %d: %w", nr.DocID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return 0, fmt.Errorf("%w: %d", storage.ErrDocumentNotFound, nr.DocID)
	}
	return id, nil
}

const markRunSQL = `
UPDATE ocr_run SET
    status        = ?,
    error_kind    = COALESCE(?, error_kind),
    error_code    = COALESCE(?, error_code),
    error_message = COALESCE(?, error_message),
    out_path      = COALESCE(?, out_path),
    started_at    = COALESCE(started_at, ?),
    finished_at   = COALESCE(?, finished_at)
WHERE run_id = ?`

// MarkRunStatus updates the status and any non-nil fields of upd.
func (u *UnitOfWork) MarkRunStatus(ctx context.Context, runID int64, status domain.RunStatus, upd domain.RunUpdate) error {
	if err := u.open(); err != nil {
		return err
	}
	now := u.now()
	var started, finished sql.NullTime
	switch status {
	case domain.RunStatusProcessing:
		started = sql.NullTime{Time: now, Valid: true}
	case domain.RunStatusDone, domain.RunStatusFailed:
		finished = sql.NullTime{Time: now, Valid: true}
	}

	var kind sql.NullString
	if upd.ErrorKind != nil {
		kind = sql.NullString{String: string(*upd.ErrorKind), Valid: true}
	}

	res, err := u.tx.ExecContext(ctx, u.tx.Rebind(markRunSQL),
		string(status),
		kind,
		nullPtr(upd.ErrorCode),
		nullPtr(upd.ErrorMessage),
		nullPtr(upd.OutPath),
		started,
		finished,
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark run %d %s: %w", runID, status, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %d", storage.ErrRunNotFound, runID)
	}
	return nil
}

const insertStepSQL = `
INSERT INTO ocr_step (run_id, step_name, status, error_message, created_at)
VALUES (?, ?, ?, ?, ?)`

// MarkStep appends a step event.
func (u *UnitOfWork) MarkStep(ctx context.Context, runID int64, name domain.StepName, status domain.StepStatus, errMsg *string) error {
	if err := u.open(); err != nil {
		return err
	}
	_, err := u.tx.ExecContext(ctx, u.tx.Rebind(insertStepSQL),
		runID, string(name), string(status), nullPtr(errMsg), u.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark step %s on run %d: %w", name, runID, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
