package rules

import (
	"errors"
	"time"
)

// RuleRecord is the persisted definition of a rule: its GRL source plus
// bookkeeping. Records are compiled into Rules by the grl parser.
type RuleRecord struct {
	ID        string
	Name      string
	Source    string // GRL text of exactly one rule block
	Salience  int
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExecutionResult contains the outcome of one Execute call
type ExecutionResult struct {
	// RulesFired lists rule names in firing order. A rule appears once per
	// pass in which it fired.
	RulesFired []string

	// Errors holds the evaluation failures contained to single rules.
	Errors []*RuleError

	// Iterations is the number of passes run.
	Iterations int

	// MaxIterationsReached is true when the loop stopped on the iteration
	// bound instead of a pass that fired nothing.
	MaxIterationsReached bool

	// FactsModified lists the facts whose value changed during the call.
	FactsModified []string

	Duration time.Duration
}

// Fired reports whether the named rule fired at least once.
func (r *ExecutionResult) Fired(name string) bool {
	for _, n := range r.RulesFired {
		if n == name {
			return true
		}
	}
	return false
}

// Err joins the rule errors and, if the bound was hit, ErrMaxIterationsReached.
// It returns nil for a clean run.
func (r *ExecutionResult) Err() error {
	errs := make([]error, 0, len(r.Errors)+1)
	for _, e := range r.Errors {
		errs = append(errs, e)
	}
	if r.MaxIterationsReached {
		errs = append(errs, ErrMaxIterationsReached)
	}
	return errors.Join(errs...)
}
