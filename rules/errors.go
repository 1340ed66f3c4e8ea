package rules

import (
	"errors"
	"fmt"
)

// Error kinds returned by the knowledge base, the evaluator and the engine.
// Use errors.Is to test for them; evaluator errors wrap one of these.
var (
	ErrDuplicateRuleName    = errors.New("duplicate rule name")
	ErrInvalidRule          = errors.New("invalid rule")
	ErrUnknownVariable      = errors.New("unknown variable")
	ErrFieldNotFound        = errors.New("field not found")
	ErrIndexOutOfRange      = errors.New("index out of range")
	ErrTypeMismatch         = errors.New("type mismatch")
	ErrDivisionByZero       = errors.New("division by zero")
	ErrInvalidAssignment    = errors.New("invalid assignment")
	ErrMaxIterationsReached = errors.New("max iterations reached")
)

// Errors returned by RuleStore implementations.
var (
	ErrRuleNotFound = errors.New("rule not found")
	ErrRuleExists   = errors.New("rule already exists")
)

// EvalError describes a failure while evaluating an expression.
type EvalError struct {
	// Kind is one of the Err* sentinels above.
	Kind error

	// Expr is the node that failed, if known.
	Expr Expression

	Message string
}

func (e *EvalError) Error() string {
	if e.Expr != nil {
		return fmt.Sprintf("%v: %s (in %s)", e.Kind, e.Message, e.Expr)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

func (e *EvalError) Unwrap() error {
	return e.Kind
}

func evalErrorf(kind error, expr Expression, format string, args ...any) *EvalError {
	return &EvalError{Kind: kind, Expr: expr, Message: fmt.Sprintf(format, args...)}
}

// Phases a RuleError can be attributed to.
const (
	PhaseCondition = "condition"
	PhaseAction    = "action"
)

// RuleError records an evaluation failure contained to a single rule during Execute.
type RuleError struct {
	Rule      string
	Iteration int
	Phase     string
	Err       error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %s: %s failed in pass %d: %v", e.Rule, e.Phase, e.Iteration, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}
