package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/scribe/internal/core/domain"
	"github.com/vietddude/scribe/internal/infra/storage"
)

// state is the full data set. Units of work operate on a private copy.
type state struct {
	docs      map[int64]*domain.Document
	docByPath map[string]int64
	runs      map[int64]*domain.Run
	steps     []*domain.Step
	nextDoc   int64
	nextRun   int64
	nextStep  int64
}

func newState() *state {
	return &state{
		docs:      make(map[int64]*domain.Document),
		docByPath: make(map[string]int64),
		runs:      make(map[int64]*domain.Run),
	}
}

func (s *state) clone() *state {
	c := &state{
		docs:      make(map[int64]*domain.Document, len(s.docs)),
		docByPath: make(map[string]int64, len(s.docByPath)),
		runs:      make(map[int64]*domain.Run, len(s.runs)),
		steps:     make([]*domain.Step, len(s.steps)),
		nextDoc:   s.nextDoc,
		nextRun:   s.nextRun,
		nextStep:  s.nextStep,
	}
	for k, v := range s.docs {
		d := *v
		c.docs[k] = &d
	}
	for k, v := range s.docByPath {
		c.docByPath[k] = v
	}
	for k, v := range s.runs {
		r := *v
		c.runs[k] = &r
	}
	copy(c.steps, s.steps)
	return c
}

// MemoryStorage is an in-process Store used when no database is configured.
type MemoryStorage struct {
	data *state
	now  func() time.Time
	mu   sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: newState(), now: time.Now}
}

// Begin starts a unit of work on a copy of the current state. The copy covers
// every document, run and step, so a batch costs O(n²) in documents. That is
// fine for tests and dry runs; use the SQL store for large batches.
func (m *MemoryStorage) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &UnitOfWork{store: m, data: m.data.clone(), now: m.now}, nil
}

func (m *MemoryStorage) Close() error { return nil }

// -----------------------------------------------------------------------------
// Unit of Work
// -----------------------------------------------------------------------------

type UnitOfWork struct {
	store *MemoryStorage
	data  *state
	now   func() time.Time
}

func (u *UnitOfWork) Commit() error {
	if u.data == nil {
		return storage.ErrUnitClosed
	}
	u.store.mu.Lock()
	u.store.data = u.data
	u.store.mu.Unlock()
	u.data = nil
	return nil
}

func (u *UnitOfWork) Rollback() error {
	u.data = nil
	return nil
}

func (u *UnitOfWork) GetOrCreateDocument(ctx context.Context, path, sha256 string) (int64, error) {
	if u.data == nil {
		return 0, storage.ErrUnitClosed
	}
	now := u.now()
	if id, ok := u.data.docByPath[path]; ok {
		doc := u.data.docs[id]
		if sha256 != "" {
			doc.SourceSHA256 = sha256
		}
		doc.UpdatedAt = now
		return id, nil
	}

	u.data.nextDoc++
	doc := &domain.Document{
		ID:           u.data.nextDoc,
		SourcePath:   path,
		SourceSHA256: sha256,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	u.data.docs[doc.ID] = doc
	u.data.docByPath[path] = doc.ID
	return doc.ID, nil
}

func (u *UnitOfWork) GetLatestRun(ctx context.Context, docID int64, pipeline string) (*domain.RunSnapshot, error) {
	if u.data == nil {
		return nil, storage.ErrUnitClosed
	}
	var latest *domain.Run
	for _, r := range u.data.runs {
		if r.DocID != docID || r.Pipeline != pipeline {
			continue
		}
		if latest == nil || r.ID > latest.ID {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	return latest.Snapshot(), nil
}

func (u *UnitOfWork) CreateRun(ctx context.Context, nr domain.NewRun) (int64, error) {
	if u.data == nil {
		return 0, storage.ErrUnitClosed
	}
	doc, ok := u.data.docs[nr.DocID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", storage.ErrDocumentNotFound, nr.DocID)
	}
	if nr.ParentRunID != nil {
		if _, ok := u.data.runs[*nr.ParentRunID]; !ok {
			return 0, fmt.Errorf("%w: parent %d", storage.ErrRunNotFound, *nr.ParentRunID)
		}
	}

	now := u.now()
	doc.Pipeline = nr.Pipeline
	doc.RunTag = nr.RunTag
	doc.UpdatedAt = now

	u.data.nextRun++
	run := &domain.Run{
		ID:           u.data.nextRun,
		DocID:        nr.DocID,
		Pipeline:     nr.Pipeline,
		RunTag:       nr.RunTag,
		InvocationID: nr.InvocationID,
		Status:       nr.Status,
		AttemptNo:    nr.AttemptNo,
		ParentRunID:  nr.ParentRunID,
		CreatedAt:    now,
		SourcePath:   doc.SourcePath,
	}
	u.data.runs[run.ID] = run
	return run.ID, nil
}

func (u *UnitOfWork) MarkRunStatus(ctx context.Context, runID int64, status domain.RunStatus, upd domain.RunUpdate) error {
	if u.data == nil {
		return storage.ErrUnitClosed
	}
	run, ok := u.data.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %d", storage.ErrRunNotFound, runID)
	}

	now := u.now()
	run.Status = status
	if upd.ErrorKind != nil {
		run.ErrorKind = upd.ErrorKind
	}
	if upd.ErrorCode != nil {
		run.ErrorCode = upd.ErrorCode
	}
	if upd.ErrorMessage != nil {
		run.ErrorMessage = upd.ErrorMessage
	}
	if upd.OutPath != nil {
		run.OutPath = upd.OutPath
	}
	switch status {
	case domain.RunStatusProcessing:
		if run.StartedAt == nil {
			run.StartedAt = &now
		}
	case domain.RunStatusDone, domain.RunStatusFailed:
		run.FinishedAt = &now
	}
	return nil
}

func (u *UnitOfWork) MarkStep(ctx context.Context, runID int64, name domain.StepName, status domain.StepStatus, errMsg *string) error {
	if u.data == nil {
		return storage.ErrUnitClosed
	}
	if _, ok := u.data.runs[runID]; !ok {
		return fmt.Errorf("%w: %d", storage.ErrRunNotFound, runID)
	}
	u.data.nextStep++
	u.data.steps = append(u.data.steps, &domain.Step{
		ID:           u.data.nextStep,
		RunID:        runID,
		Name:         name,
		Status:       status,
		ErrorMessage: errMsg,
		CreatedAt:    u.now(),
	})
	return nil
}

// -----------------------------------------------------------------------------
// Run Reader
// -----------------------------------------------------------------------------

func (m *MemoryStorage) ListRuns(ctx context.Context, f storage.RunFilter) ([]*domain.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Run
	for _, r := range m.data.runs {
		if f.Pipeline != "" && r.Pipeline != f.Pipeline {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && uint64(len(out)) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStorage) ListSteps(ctx context.Context, runID int64) ([]*domain.Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Step
	for _, s := range m.data.steps {
		if s.RunID == runID {
			c := *s
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MemoryStorage) CountByStatus(ctx context.Context, pipeline string) (map[domain.RunStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[domain.RunStatus]int)
	for _, r := range m.data.runs {
		if pipeline != "" && r.Pipeline != pipeline {
			continue
		}
		counts[r.Status]++
	}
	return counts, nil
}

func (m *MemoryStorage) ResetStale(ctx context.Context, pipeline string, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	kind := domain.ErrorKindUnknown
	code := "interrupted"
	msg := "run interrupted before completion"

	var n int64
	for _, r := range m.data.runs {
		if pipeline != "" && r.Pipeline != pipeline {
			continue
		}
		if r.Status != domain.RunStatusQueued && r.Status != domain.RunStatusProcessing {
			continue
		}
		if !r.CreatedAt.Before(cutoff) {
			continue
		}
		r.Status = domain.RunStatusFailed
		r.ErrorKind = &kind
		r.ErrorCode = &code
		r.ErrorMessage = &msg
		r.FinishedAt = &now
		n++
	}
	return n, nil
}
