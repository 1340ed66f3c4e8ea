package rules

import (
	"fmt"
	"sort"
)

// KnowledgeBase owns a set of rules keyed by name. It performs no locking;
// it must not be modified while an Execute call is reading it.
type KnowledgeBase struct {
	rules []*Rule
	index map[string]int
}

// NewKnowledgeBase creates an empty knowledge base.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		index: make(map[string]int),
	}
}

// AddRule validates and adds a rule. A second rule with the same name is
// rejected with ErrDuplicateRuleName; the existing rule is left untouched.
func (kb *KnowledgeBase) AddRule(r *Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if _, exists := kb.index[r.Name]; exists {
		return fmt.Errorf("%w: rule %s already exists", ErrDuplicateRuleName, r.Name)
	}

	// Keep our own copy of the header and action list so later edits to the
	// caller's value don't leak in.
	owned := *r
	owned.Actions = append([]Expression(nil), r.Actions...)

	kb.index[r.Name] = len(kb.rules)
	kb.rules = append(kb.rules, &owned)
	return nil
}

// GetRule returns the named rule.
func (kb *KnowledgeBase) GetRule(name string) (*Rule, bool) {
	i, ok := kb.index[name]
	if !ok {
		return nil, false
	}
	return kb.rules[i], true
}

// RemoveRule deletes the named rule and returns it.
func (kb *KnowledgeBase) RemoveRule(name string) (*Rule, bool) {
	i, ok := kb.index[name]
	if !ok {
		return nil, false
	}
	removed := kb.rules[i]
	kb.rules = append(kb.rules[:i], kb.rules[i+1:]...)
	delete(kb.index, name)
	for n, j := range kb.index {
		if j > i {
			kb.index[n] = j - 1
		}
	}
	return removed, true
}

// Rules returns the rules in insertion order.
func (kb *KnowledgeBase) Rules() []*Rule {
	out := make([]*Rule, len(kb.rules))
	copy(out, kb.rules)
	return out
}

// RulesBySalience returns the rules ordered by descending salience. Rules with
// equal salience keep their insertion order.
func (kb *KnowledgeBase) RulesBySalience() []*Rule {
	out := kb.Rules()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Salience > out[j].Salience
	})
	return out
}

// Len returns the number of rules.
func (kb *KnowledgeBase) Len() int {
	return len(kb.rules)
}

// Clear removes every rule.
func (kb *KnowledgeBase) Clear() {
	kb.rules = nil
	kb.index = make(map[string]int)
}
