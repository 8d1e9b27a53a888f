package recovery

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/vietddude/scribe/internal/core/domain"
	"github.com/vietddude/scribe/internal/infra/engine"
)

// Classifier maps an error to its retry class.
type Classifier func(err error) domain.ErrorKind

type timeout interface {
	Timeout() bool
}

// Classify maps err into transient, permanent or unknown.
// Checks run in order and the first match wins. A nil error is unknown.
func Classify(err error) domain.ErrorKind {
	if err == nil {
		return domain.ErrorKindUnknown
	}

	// Transient by kind.
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, engine.ErrTimeout) ||
		errors.Is(err, engine.ErrTargetClosed) ||
		errors.Is(err, engine.ErrUnavailable) {
		return domain.ErrorKindTransient
	}
	var te timeout
	if errors.As(err, &te) && te.Timeout() {
		return domain.ErrorKindTransient
	}

	msg := strings.ToLower(err.Error())

	// Transient by message.
	switch {
	case strings.Contains(msg, "detached"),
		strings.Contains(msg, "execution context was destroyed"),
		strings.Contains(msg, "navigating to") && strings.Contains(msg, "timeout"),
		strings.Contains(msg, "network") && strings.Contains(msg, "error"):
		return domain.ErrorKindTransient
	}

	// Permanent.
	if errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, engine.ErrLoginRequired) ||
		errors.Is(err, engine.ErrInvalidInput) {
		return domain.ErrorKindPermanent
	}
	switch {
	case strings.Contains(msg, "login"),
		strings.Contains(msg, "auth"),
		strings.Contains(msg, "cookie") && strings.Contains(msg, "missing"),
		strings.Contains(msg, "invalid") && strings.Contains(msg, "format"):
		return domain.ErrorKindPermanent
	}

	return domain.ErrorKindUnknown
}

// ErrorCode returns a short stable code for err, used in the run's error_code column.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, engine.ErrTimeout):
		return "timeout"
	case errors.Is(err, engine.ErrTargetClosed):
		return "target_closed"
	case errors.Is(err, engine.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, engine.ErrLoginRequired):
		return "login_required"
	case errors.Is(err, engine.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, fs.ErrNotExist):
		return "file_not_found"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
