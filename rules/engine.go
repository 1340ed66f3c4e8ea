package rules

import (
	"fmt"
	"log/slog"
	"time"
)

// DefaultMaxIterations bounds the number of passes an Execute call may run.
const DefaultMaxIterations = 1000

// engineState names the phases of an Execute call. It only shows up in logs.
type engineState string

const (
	stateReady      engineState = "ready"
	stateEvaluating engineState = "evaluating"
	stateFiring     engineState = "firing"
	stateDone       engineState = "done"
)

// RuleEngine runs the rules of a KnowledgeBase against a FactStore until no
// rule fires or the iteration bound is hit.
//
// A RuleEngine is not safe for concurrent use; callers sharing one must
// serialize Execute and rule changes.
type RuleEngine struct {
	kb            *KnowledgeBase
	maxIterations int
	logger        *slog.Logger
}

// Option configures a RuleEngine
type Option func(*RuleEngine)

// WithMaxIterations sets the pass bound. Values below 1 are ignored.
func WithMaxIterations(n int) Option {
	return func(e *RuleEngine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithLogger sets the logger used for execution tracing
func WithLogger(l *slog.Logger) Option {
	return func(e *RuleEngine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewRuleEngine creates an engine with an empty knowledge base.
func NewRuleEngine(opts ...Option) *RuleEngine {
	e := &RuleEngine{
		kb:            NewKnowledgeBase(),
		maxIterations: DefaultMaxIterations,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddRule validates and adds a rule to the knowledge base.
func (e *RuleEngine) AddRule(r *Rule) error {
	if err := e.kb.AddRule(r); err != nil {
		return err
	}
	e.logger.Debug("rule added", "rule", r.Name, "salience", r.Salience)
	return nil
}

// RemoveRule deletes the named rule and reports whether it existed.
func (e *RuleEngine) RemoveRule(name string) bool {
	_, ok := e.kb.RemoveRule(name)
	return ok
}

// KnowledgeBase returns the engine's rules.
func (e *RuleEngine) KnowledgeBase() *KnowledgeBase {
	return e.kb
}

// MaxIterations returns the configured pass bound.
func (e *RuleEngine) MaxIterations() int {
	return e.maxIterations
}

// Execute runs forward chaining over facts.
//
// Each pass walks the rules in descending salience. A rule is considered when
// it has not yet fired against the current values of the facts its condition
// reads; if the condition evaluates to true its actions run in order. Passes
// repeat while the previous pass fired at least one rule, up to the iteration
// bound.
//
// Evaluation failures are contained to the failing rule and reported in the
// result. The returned error is non-nil only when facts is nil.
func (e *RuleEngine) Execute(facts *FactStore) (*ExecutionResult, error) {
	if facts == nil {
		return nil, fmt.Errorf("%w: nil fact store", ErrInvalidRule)
	}

	start := time.Now()
	result := &ExecutionResult{
		RulesFired: []string{},
		Errors:     []*RuleError{},
	}
	facts.ResetModified()

	ordered := e.kb.RulesBySalience()
	inputs := make(map[*Rule][]string, len(ordered))
	for _, r := range ordered {
		inputs[r] = ConditionInputs(r.Condition)
	}

	// last error recorded per rule, to avoid repeating the same failure on
	// every pass
	lastErr := make(map[string]string)
	record := func(r *Rule, iteration int, phase string, err error) {
		key := phase + ": " + err.Error()
		if lastErr[r.Name] == key {
			return
		}
		lastErr[r.Name] = key
		result.Errors = append(result.Errors, &RuleError{
			Rule:      r.Name,
			Iteration: iteration,
			Phase:     phase,
			Err:       err,
		})
		e.logger.Debug("rule error", "rule", r.Name, "phase", phase, "iteration", iteration, "error", err)
	}

	e.logger.Debug("execution started", "state", stateReady, "rules", len(ordered), "facts", facts.Len())

	passFired := true
	for passFired && result.Iterations < e.maxIterations {
		passFired = false
		result.Iterations++
		iteration := result.Iterations

		for _, r := range ordered {
			in := inputs[r]
			if facts.refracted(r, in) {
				continue
			}

			e.logger.Debug("evaluating rule", "state", stateEvaluating, "rule", r.Name, "iteration", iteration)
			v, err := Evaluate(r.Condition, facts)
			if err != nil {
				record(r, iteration, PhaseCondition, err)
				continue
			}
			if b, ok := v.(Bool); !ok || !bool(b) {
				continue
			}

			// Inputs are captured before the actions run so a rule that
			// changes its own inputs becomes eligible again.
			seen := facts.snapshot(in)

			e.logger.Debug("firing rule", "state", stateFiring, "rule", r.Name, "iteration", iteration)
			failed := false
			for _, action := range r.Actions {
				if err := Apply(action, facts); err != nil {
					record(r, iteration, PhaseAction, err)
					failed = true
					break
				}
			}
			if failed {
				continue
			}

			facts.remember(r, seen)
			result.RulesFired = append(result.RulesFired, r.Name)
			passFired = true
		}
	}

	result.MaxIterationsReached = passFired
	result.FactsModified = facts.Modified()
	result.Duration = time.Since(start)

	if result.MaxIterationsReached {
		e.logger.Warn("iteration limit reached",
			"max_iterations", e.maxIterations,
			"rules_fired", len(result.RulesFired),
		)
	}
	e.logger.Debug("execution finished",
		"state", stateDone,
		"iterations", result.Iterations,
		"rules_fired", len(result.RulesFired),
		"errors", len(result.Errors),
		"duration", result.Duration,
	)
	return result, nil
}
