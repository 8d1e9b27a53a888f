// Package retry decides whether a document should be processed given its run history.
package retry

import (
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/scribe/internal/core/domain"
)

// Decision reasons. Callers log them verbatim.
const (
	ReasonNew               = "new document"
	ReasonNoHistory         = "no prior run, retry-failed requires history"
	ReasonForced            = "forced"
	ReasonAlreadyDone       = "already done"
	ReasonPreviouslySkipped = "previously skipped, use force to retry"
	ReasonFailedNeedsFlag   = "failed, needs resume or retry-failed"
	ReasonMaxAttempts       = "max attempts reached"
	ReasonPermanent         = "permanent error"
	ReasonRetrying          = "retrying failed run"
	ReasonResumeReset       = "resuming interrupted run"
	ReasonNeedsResume       = "use resume to reset"
)

// DefaultErrorKinds are the kinds retried when none are configured.
var DefaultErrorKinds = []domain.ErrorKind{domain.ErrorKindTransient, domain.ErrorKindUnknown}

// Config is the retry-relevant slice of the run configuration.
type Config struct {
	Force          bool
	Resume         bool
	RetryFailed    bool
	MaxAttempts    int
	BackoffSeconds float64
	ErrorKinds     []domain.ErrorKind
}

// DefaultConfig returns the configuration used when no flags are given.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		ErrorKinds:  DefaultErrorKinds,
	}
}

// Backoff returns the pause applied before a retry attempt.
func (c Config) Backoff() time.Duration {
	if c.BackoffSeconds <= 0 {
		return 0
	}
	return time.Duration(c.BackoffSeconds * float64(time.Second))
}

func (c Config) allows(kind domain.ErrorKind) bool {
	for _, k := range c.ErrorKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ParseErrorKinds parses a comma separated kind list such as "transient,unknown".
// Blank entries are ignored; an empty list yields DefaultErrorKinds.
func ParseErrorKinds(s string) ([]domain.ErrorKind, error) {
	var kinds []domain.ErrorKind
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		k, ok := domain.ParseErrorKind(part)
		if !ok {
			return nil, fmt.Errorf("unknown error kind %q", part)
		}
		kinds = append(kinds, k)
	}
	if len(kinds) == 0 {
		return DefaultErrorKinds, nil
	}
	return kinds, nil
}

// Decision is the outcome of Decide. Skips after history still carry the
// attempt number and parent a processed run would have had.
type Decision struct {
	ShouldProcess bool
	Reason        string
	AttemptNo     int
	ParentRunID   *int64
}

// Decide applies the retry rules to the latest run of a document.
// It is pure: the same inputs always give the same decision.
func Decide(last *domain.RunSnapshot, cfg Config) Decision {
	if last == nil {
		if cfg.RetryFailed {
			return Decision{Reason: ReasonNoHistory, AttemptNo: 1}
		}
		return Decision{ShouldProcess: true, Reason: ReasonNew, AttemptNo: 1}
	}

	if cfg.Force {
		return next(last, ReasonForced)
	}
	skip := func(reason string) Decision {
		d := next(last, reason)
		d.ShouldProcess = false
		return d
	}

	switch last.Status {
	case domain.RunStatusDone:
		return skip(ReasonAlreadyDone)

	case domain.RunStatusSkipped:
		return skip(ReasonPreviouslySkipped)

	case domain.RunStatusFailed:
		if !cfg.RetryFailed && !cfg.Resume {
			return skip(ReasonFailedNeedsFlag)
		}
		if attemptOf(last) >= cfg.MaxAttempts {
			return skip(ReasonMaxAttempts)
		}
		if last.ErrorKind == domain.ErrorKindPermanent {
			return skip(ReasonPermanent)
		}
		kind := last.ErrorKind
		if kind == "" {
			kind = domain.ErrorKindUnknown
		}
		if !cfg.allows(kind) {
			return skip(fmt.Sprintf("error kind %s not in retry kinds", kind))
		}
		return next(last, ReasonRetrying)

	case domain.RunStatusProcessing, domain.RunStatusQueued:
		if cfg.Resume || cfg.RetryFailed {
			return next(last, ReasonResumeReset)
		}
		return skip(ReasonNeedsResume)
	}

	return skip(fmt.Sprintf("unrecognised status %q", last.Status))
}

func attemptOf(last *domain.RunSnapshot) int {
	if last.AttemptNo < 1 {
		return 1
	}
	return last.AttemptNo
}

func next(last *domain.RunSnapshot, reason string) Decision {
	parent := last.RunID
	return Decision{
		ShouldProcess: true,
		Reason:        reason,
		AttemptNo:     attemptOf(last) + 1,
		ParentRunID:   &parent,
	}
}
