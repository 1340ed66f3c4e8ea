package rules

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// RuleStore manages persisted rule definitions
type RuleStore interface {
	// Add a new record. IDs and names are unique within a store.
	Add(record *RuleRecord) error

	// Get a record by ID
	Get(id string) (*RuleRecord, error)

	// List all records, oldest first
	List() ([]*RuleRecord, error)

	// ListActive returns the active records, oldest first
	ListActive() ([]*RuleRecord, error)

	// Update an existing record
	Update(record *RuleRecord) error

	// Delete a record
	Delete(id string) error
}

// InMemoryRuleStore implements RuleStore using an in-memory map
type InMemoryRuleStore struct {
	records map[string]*RuleRecord
	mu      sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		records: make(map[string]*RuleRecord),
	}
}

// Add stores a record and stamps CreatedAt and UpdatedAt
func (s *InMemoryRuleStore) Add(record *RuleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return fmt.Errorf("%w: id %s", ErrRuleExists, record.ID)
	}
	for _, r := range s.records {
		if r.Name == record.Name {
			return fmt.Errorf("%w: name %s", ErrRuleExists, record.Name)
		}
	}

	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now
	stored := *record
	s.records[record.ID] = &stored
	return nil
}

// Get retrieves a record by ID
func (s *InMemoryRuleStore) Get(id string) (*RuleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.records[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	out := *r
	return &out, nil
}

// List returns every record
func (s *InMemoryRuleStore) List() ([]*RuleRecord, error) {
	return s.list(false), nil
}

// ListActive returns the active records
func (s *InMemoryRuleStore) ListActive() ([]*RuleRecord, error) {
	return s.list(true), nil
}

func (s *InMemoryRuleStore) list(activeOnly bool) []*RuleRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*RuleRecord, 0, len(s.records))
	for _, r := range s.records {
		if activeOnly && !r.Active {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Update replaces an existing record, preserving CreatedAt
func (s *InMemoryRuleStore) Update(record *RuleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.records[record.ID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, record.ID)
	}
	for id, r := range s.records {
		if id != record.ID && r.Name == record.Name {
			return fmt.Errorf("%w: name %s", ErrRuleExists, record.Name)
		}
	}

	record.CreatedAt = existing.CreatedAt
	record.UpdatedAt = time.Now()
	stored := *record
	s.records[record.ID] = &stored
	return nil
}

// Delete removes a record
func (s *InMemoryRuleStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; !exists {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	delete(s.records, id)
	return nil
}
