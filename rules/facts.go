package rules

import (
	"fmt"
	"sort"
)

// Fact is a named value the engine reads and writes.
type Fact struct {
	Name  string
	Value Value
}

// NewFact creates a fact holding v. A nil v is stored as Null.
func NewFact(name string, v Value) Fact {
	if v == nil {
		v = Null{}
	}
	return Fact{Name: name, Value: v}
}

func NumberFact(name string, n float64) Fact { return NewFact(name, Number(n)) }

func StringFact(name, s string) Fact { return NewFact(name, String(s)) }

func BoolFact(name string, b bool) Fact { return NewFact(name, Bool(b)) }

func ObjectFact(name string, fields map[string]Value) Fact { return NewFact(name, Object(fields)) }

func ArrayFact(name string, elems []Value) Fact { return NewFact(name, Array(elems)) }

func NullFact(name string) Fact { return NewFact(name, Null{}) }

// FactStore holds the facts for one execution. It is not safe for concurrent
// use; callers own it and lend it to a single Execute call at a time. The zero
// value is an empty store.
type FactStore struct {
	facts    map[string]Fact
	modified map[string]struct{}

	// activations remembers, per rule name, what the rule's condition inputs
	// looked like when it last fired against this store.
	activations map[string]activation
}

type activation struct {
	rule   *Rule
	inputs map[string]Value // nil entry means the fact was absent
}

// NewFactStore creates a store holding the given facts. Later facts with the
// same name replace earlier ones.
func NewFactStore(facts ...Fact) *FactStore {
	s := &FactStore{
		facts:       make(map[string]Fact, len(facts)),
		modified:    make(map[string]struct{}),
		activations: make(map[string]activation),
	}
	for _, f := range facts {
		s.facts[f.Name] = NewFact(f.Name, f.Value)
	}
	return s
}

// Get returns the named fact. The boolean is false when no such fact exists,
// which is distinct from a fact whose value is Null.
func (s *FactStore) Get(name string) (Fact, bool) {
	if s == nil {
		return Fact{}, false
	}
	f, ok := s.facts[name]
	return f, ok
}

// Value is Get without the Fact wrapper.
func (s *FactStore) Value(name string) (Value, bool) {
	if s == nil {
		return nil, false
	}
	f, ok := s.facts[name]
	if !ok {
		return nil, false
	}
	return f.Value, true
}

// Set inserts or overwrites a fact. It is the only mutator.
func (s *FactStore) Set(name string, v Value) {
	if v == nil {
		v = Null{}
	}
	if s.facts == nil {
		s.facts = make(map[string]Fact)
	}
	if s.modified == nil {
		s.modified = make(map[string]struct{})
	}
	if old, ok := s.facts[name]; ok && same(old.Value, v) {
		s.facts[name] = Fact{Name: name, Value: v}
		return
	}
	s.facts[name] = Fact{Name: name, Value: v}
	s.modified[name] = struct{}{}
}

// Add is Set for a prebuilt Fact.
func (s *FactStore) Add(f Fact) {
	s.Set(f.Name, f.Value)
}

// Names returns the fact names in sorted order.
func (s *FactStore) Names() []string {
	names := make([]string, 0, len(s.facts))
	for name := range s.facts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of facts.
func (s *FactStore) Len() int {
	return len(s.facts)
}

// Modified returns the sorted names of facts whose value changed since the
// store was created or ResetModified was last called.
func (s *FactStore) Modified() []string {
	names := make([]string, 0, len(s.modified))
	for name := range s.modified {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResetModified clears the modified set.
func (s *FactStore) ResetModified() {
	s.modified = make(map[string]struct{})
}

// ToNative returns all facts as plain Go values keyed by name.
func (s *FactStore) ToNative() map[string]any {
	out := make(map[string]any, len(s.facts))
	for name, f := range s.facts {
		out[name] = ToNative(f.Value)
	}
	return out
}

// FactStoreFromNative builds a store from decoded JSON/YAML, one fact per key.
func FactStoreFromNative(m map[string]any) (*FactStore, error) {
	s := NewFactStore()
	for name, raw := range m {
		v, err := FromNative(raw)
		if err != nil {
			return nil, fmt.Errorf("fact %s: %w", name, err)
		}
		s.facts[name] = Fact{Name: name, Value: v}
	}
	return s, nil
}

// snapshot captures the current values of the named facts.
func (s *FactStore) snapshot(names []string) map[string]Value {
	out := make(map[string]Value, len(names))
	for _, name := range names {
		if f, ok := s.facts[name]; ok {
			out[name] = Clone(f.Value)
		} else {
			out[name] = nil
		}
	}
	return out
}

// refracted reports whether rule already fired against the current values of
// its inputs.
func (s *FactStore) refracted(rule *Rule, inputs []string) bool {
	act, ok := s.activations[rule.Name]
	if !ok || act.rule != rule {
		return false
	}
	for _, name := range inputs {
		prev, seen := act.inputs[name]
		if !seen {
			return false
		}
		cur, exists := s.facts[name]
		if prev == nil || !exists {
			if prev != nil || exists {
				return false
			}
			continue
		}
		if !same(prev, cur.Value) {
			return false
		}
	}
	return true
}

func (s *FactStore) remember(rule *Rule, inputs map[string]Value) {
	if s.activations == nil {
		s.activations = make(map[string]activation)
	}
	s.activations[rule.Name] = activation{rule: rule, inputs: inputs}
}
