package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Rule is a named, prioritized condition with an ordered list of actions.
// A rule must not be modified once it has been added to a KnowledgeBase;
// replace it by removing and re-adding under the same name.
type Rule struct {
	Name        string
	Description string
	Salience    int // higher fires first
	Condition   Expression
	Actions     []Expression
}

// NewRule creates a rule with no description.
func NewRule(name string, salience int, condition Expression, actions []Expression) *Rule {
	return &Rule{
		Name:      name,
		Salience:  salience,
		Condition: condition,
		Actions:   actions,
	}
}

// WithDescription sets the informational description and returns the rule.
func (r *Rule) WithDescription(description string) *Rule {
	r.Description = description
	return r
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// IsIdentifier reports whether s is a valid GRL identifier.
func IsIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// Validate checks the structural invariants the engine relies on.
func (r *Rule) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil rule", ErrInvalidRule)
	}
	if !IsIdentifier(r.Name) {
		return fmt.Errorf("%w: name %q is not an identifier", ErrInvalidRule, r.Name)
	}
	if r.Condition == nil {
		return fmt.Errorf("%w: rule %s has no condition", ErrInvalidRule, r.Name)
	}
	if containsAssignment(r.Condition) {
		return fmt.Errorf("%w: rule %s: assignment in condition", ErrInvalidAssignment, r.Name)
	}
	for i, action := range r.Actions {
		if action == nil {
			return fmt.Errorf("%w: rule %s: action %d is nil", ErrInvalidRule, r.Name, i)
		}
		if a, ok := action.(*Assignment); ok {
			if !IsAssignable(a.Target) {
				return fmt.Errorf("%w: rule %s: cannot assign to %s", ErrInvalidAssignment, r.Name, a.Target)
			}
			if containsAssignment(a.Value) {
				return fmt.Errorf("%w: rule %s: nested assignment", ErrInvalidAssignment, r.Name)
			}
			continue
		}
		if containsAssignment(action) {
			return fmt.Errorf("%w: rule %s: nested assignment", ErrInvalidAssignment, r.Name)
		}
	}
	return nil
}

// String renders the rule as a GRL block.
func (r *Rule) String() string {
	var sb strings.Builder
	sb.WriteString("rule ")
	sb.WriteString(r.Name)
	if r.Description != "" {
		sb.WriteByte(' ')
		sb.WriteString(quote(r.Description))
	}
	if r.Salience != 0 {
		sb.WriteString(" salience ")
		sb.WriteString(strconv.Itoa(r.Salience))
	}
	sb.WriteString(" {\n    when\n        ")
	if r.Condition != nil {
		sb.WriteString(r.Condition.String())
	}
	sb.WriteString("\n    then\n")
	for _, action := range r.Actions {
		sb.WriteString("        ")
		sb.WriteString(action.String())
		sb.WriteString(";\n")
	}
	sb.WriteString("}\n")
	return sb.String()
}
