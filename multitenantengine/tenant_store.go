package multitenantengine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/liamcoop/grl/rules"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrTenantExists   = errors.New("tenant already exists")
	ErrSchemaNotFound = errors.New("schema not found")
)

// Tenant is a customer whose facts and rules are isolated from every other
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SchemaVersion is one saved revision of a tenant schema
type SchemaVersion struct {
	Version    int       `json:"version"`
	Definition Schema    `json:"definition"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TenantStore persists tenants, their schema history and their rules
type TenantStore interface {
	// CreateTenant stores t and stamps its timestamps
	CreateTenant(t *Tenant) error

	GetTenant(id string) (*Tenant, error)

	// ListTenants returns every tenant, oldest first
	ListTenants() ([]*Tenant, error)

	// DeleteTenant removes the tenant with its schemas and rules
	DeleteTenant(id string) error

	// SaveSchema stores schema as the tenant's new active version and returns it
	SaveSchema(tenantID string, schema Schema) (*SchemaVersion, error)

	// ActiveSchema returns the tenant's current schema
	ActiveSchema(tenantID string) (*SchemaVersion, error)

	// Rules returns the rule store scoped to one tenant
	Rules(tenantID string) rules.RuleStore
}

type memoryTenant struct {
	tenant   Tenant
	schemas  []*SchemaVersion
	ruleData *rules.InMemoryRuleStore
}

// InMemoryTenantStore implements TenantStore in process memory
type InMemoryTenantStore struct {
	tenants map[string]*memoryTenant
	mu      sync.RWMutex
}

// NewInMemoryTenantStore creates an empty store
func NewInMemoryTenantStore() *InMemoryTenantStore {
	return &InMemoryTenantStore{
		tenants: make(map[string]*memoryTenant),
	}
}

func (s *InMemoryTenantStore) CreateTenant(t *Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tenants[t.ID]; exists {
		return fmt.Errorf("%w: %s", ErrTenantExists, t.ID)
	}

	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	s.tenants[t.ID] = &memoryTenant{
		tenant:   *t,
		ruleData: rules.NewInMemoryRuleStore(),
	}
	return nil
}

func (s *InMemoryTenantStore) GetTenant(id string) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mt, exists := s.tenants[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, id)
	}
	t := mt.tenant
	return &t, nil
}

func (s *InMemoryTenantStore) ListTenants() ([]*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Tenant, 0, len(s.tenants))
	for _, mt := range s.tenants {
		t := mt.tenant
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemoryTenantStore) DeleteTenant(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tenants[id]; !exists {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, id)
	}
	delete(s.tenants, id)
	return nil
}

func (s *InMemoryTenantStore) SaveSchema(tenantID string, schema Schema) (*SchemaVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mt, exists := s.tenants[tenantID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}

	sv := &SchemaVersion{
		Version:    len(mt.schemas) + 1,
		Definition: copySchema(schema),
		CreatedAt:  time.Now(),
	}
	mt.schemas = append(mt.schemas, sv)
	mt.tenant.UpdatedAt = sv.CreatedAt

	out := *sv
	out.Definition = copySchema(sv.Definition)
	return &out, nil
}

func (s *InMemoryTenantStore) ActiveSchema(tenantID string) (*SchemaVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mt, exists := s.tenants[tenantID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	if len(mt.schemas) == 0 {
		return nil, fmt.Errorf("%w: tenant %s", ErrSchemaNotFound, tenantID)
	}

	out := *mt.schemas[len(mt.schemas)-1]
	out.Definition = copySchema(out.Definition)
	return &out, nil
}

// Rules returns the tenant's rule store. An unknown tenant gets a detached
// empty store so callers see ErrRuleNotFound rather than a nil interface.
func (s *InMemoryTenantStore) Rules(tenantID string) rules.RuleStore {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if mt, exists := s.tenants[tenantID]; exists {
		return mt.ruleData
	}
	return rules.NewInMemoryRuleStore()
}

func copySchema(s Schema) Schema {
	out := make(Schema, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
