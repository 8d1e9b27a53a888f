package domain

import "time"

// RunStatus is the lifecycle status of a processing attempt.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusProcessing RunStatus = "processing"
	RunStatusDone       RunStatus = "done"
	RunStatusFailed     RunStatus = "failed"
	// RunStatusSkipped is only ever read from history. New skips do not write rows.
	RunStatusSkipped RunStatus = "skipped"
)

// IsTerminal reports whether no further transition is expected.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusDone || s == RunStatusFailed || s == RunStatusSkipped
}

// ErrorKind is the retry class of a failure.
type ErrorKind string

const (
	ErrorKindTransient ErrorKind = "transient"
	ErrorKindPermanent ErrorKind = "permanent"
	ErrorKindUnknown   ErrorKind = "unknown"
)

// ParseErrorKind returns the kind named by s, or false if s names none.
func ParseErrorKind(s string) (ErrorKind, bool) {
	switch ErrorKind(s) {
	case ErrorKindTransient, ErrorKindPermanent, ErrorKindUnknown:
		return ErrorKind(s), true
	}
	return "", false
}

// Run is one processing attempt of a document under a pipeline.
type Run struct {
	ID           int64      `json:"run_id"          db:"run_id"`
	DocID        int64      `json:"doc_id"          db:"doc_id"`
	Pipeline     string     `json:"pipeline"        db:"pipeline"`
	RunTag       string     `json:"run_tag"         db:"run_tag"`
	InvocationID string     `json:"invocation_id"   db:"invocation_id"`
	Status       RunStatus  `json:"status"          db:"status"`
	AttemptNo    int        `json:"attempt_no"      db:"attempt_no"`
	ParentRunID  *int64     `json:"parent_run_id"   db:"parent_run_id"`
	ErrorKind    *ErrorKind `json:"error_kind"      db:"error_kind"`
	ErrorCode    *string    `json:"error_code"      db:"error_code"`
	ErrorMessage *string    `json:"error_message"   db:"error_message"`
	OutPath      *string    `json:"out_path"        db:"out_path"`
	CreatedAt    time.Time  `json:"created_at"      db:"created_at"`
	StartedAt    *time.Time `json:"started_at"      db:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"     db:"finished_at"`
	SourcePath   string     `json:"source_path"     db:"source_path"`
}

// RunSnapshot is the slice of the latest run that retry decisions read.
type RunSnapshot struct {
	RunID     int64
	Status    RunStatus
	AttemptNo int
	ErrorKind ErrorKind // empty when the run recorded none
}

// Snapshot projects r onto the fields retry decisions use.
func (r *Run) Snapshot() *RunSnapshot {
	s := &RunSnapshot{RunID: r.ID, Status: r.Status, AttemptNo: r.AttemptNo}
	if r.ErrorKind != nil {
		s.ErrorKind = *r.ErrorKind
	}
	return s
}

// NewRun carries the immutable fields of a run row.
type NewRun struct {
	DocID        int64
	Pipeline     string
	RunTag       string
	InvocationID string
	Status       RunStatus
	AttemptNo    int
	ParentRunID  *int64
}

// RunUpdate holds optional fields written with a status change.
// Nil fields keep their stored value.
type RunUpdate struct {
	ErrorKind    *ErrorKind
	ErrorCode    *string
	ErrorMessage *string
	OutPath      *string
}

// StepName identifies a sub-event within a run.
type StepName string

const (
	StepEngineStart    StepName = "engine_start"
	StepRecoverRefresh StepName = "recover_refresh"
	StepEngineFinish   StepName = "engine_finish"
	StepOutputWrite    StepName = "output_write"
)

// StepStatus is the outcome of a step event.
type StepStatus string

const (
	StepStatusStarted StepStatus = "started"
	StepStatusDone    StepStatus = "done"
	StepStatusFailed  StepStatus = "failed"
)

// Step is an append-only event recorded against a run.
type Step struct {
	ID           int64      `json:"step_id"       db:"step_id"`
	RunID        int64      `json:"run_id"        db:"run_id"`
	Name         StepName   `json:"step_name"     db:"step_name"`
	Status       StepStatus `json:"status"        db:"status"`
	ErrorMessage *string    `json:"error_message" db:"error_message"`
	CreatedAt    time.Time  `json:"created_at"    db:"created_at"`
}
