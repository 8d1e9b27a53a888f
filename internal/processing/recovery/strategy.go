package recovery

import (
	"github.com/vietddude/scribe/internal/core/domain"
)

// MaxRecoveries is the number of in-attempt recoveries allowed per run.
const MaxRecoveries = 1

// Strategy decides whether a failed engine call gets an in-attempt recovery.
type Strategy interface {
	// ShouldRecover reports whether a failure of kind may be recovered,
	// given how many recoveries this attempt already used.
	ShouldRecover(kind domain.ErrorKind, used int) bool
}

// Budget recovers transient failures up to Max times per attempt.
type Budget struct {
	Max int
}

// DefaultBudget returns the single-recovery budget used by the orchestrator.
func DefaultBudget() *Budget {
	return &Budget{Max: MaxRecoveries}
}

// ShouldRecover checks the kind is transient and the budget is not spent.
func (b *Budget) ShouldRecover(kind domain.ErrorKind, used int) bool {
	if used >= b.Max {
		return false
	}
	return kind == domain.ErrorKindTransient
}
