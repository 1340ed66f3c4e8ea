// Package multitenantengine hosts one rule engine per tenant. Rules are stored
// as GRL source, admitted only after they type-check against the tenant's fact
// schema, and compiled into a fresh engine that is swapped in atomically
// whenever the tenant's rules or schema change.
package multitenantengine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"

	"github.com/liamcoop/grl/grl"
	"github.com/liamcoop/grl/internal/logger"
	"github.com/liamcoop/grl/rules"
)

// TenantEngine is the compiled, immutable rule set of one tenant
type TenantEngine struct {
	TenantID string
	Schema   Schema
	Version  int

	env    *cel.Env
	engine *rules.RuleEngine
	// The core engine is unsynchronized; executions on one tenant are serialized.
	mu sync.Mutex
}

// RuleCount returns the number of active rules compiled into the engine
func (te *TenantEngine) RuleCount() int {
	return te.engine.KnowledgeBase().Len()
}

// Execute runs the tenant's rules to a fixpoint over facts
func (te *TenantEngine) Execute(facts *rules.FactStore) (*rules.ExecutionResult, error) {
	te.mu.Lock()
	defer te.mu.Unlock()
	return te.engine.Execute(facts)
}

// Execution is the outcome of Manager.Execute
type Execution struct {
	ID     string
	Result *rules.ExecutionResult
	Facts  map[string]any
}

// ExecutionObserver is notified after every execution
type ExecutionObserver func(tenantID string, result *rules.ExecutionResult)

// Manager manages engines for all tenants
type Manager struct {
	store         TenantStore
	parser        *grl.Parser
	maxIterations int
	cacheConfig   rules.CacheConfig
	observer      ExecutionObserver

	engines map[string]*TenantEngine
	caches  map[string]rules.RulesCache
	mu      sync.RWMutex

	// Serializes every write so rebuilt engines are swapped in write order.
	adminMu sync.Mutex
}

// Option configures a Manager
type Option func(*Manager)

// WithMaxIterations bounds every tenant engine
func WithMaxIterations(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxIterations = n
		}
	}
}

// WithCacheConfig configures the per-tenant rule list caches
func WithCacheConfig(c rules.CacheConfig) Option {
	return func(m *Manager) {
		m.cacheConfig = c
	}
}

// WithExecutionObserver registers fn to see every execution result
func WithExecutionObserver(fn ExecutionObserver) Option {
	return func(m *Manager) {
		m.observer = fn
	}
}

// NewManager creates a manager over store. Call LoadAllTenants to build
// engines for tenants that already exist.
func NewManager(store TenantStore, opts ...Option) *Manager {
	m := &Manager{
		store:         store,
		parser:        grl.NewParser(),
		maxIterations: rules.DefaultMaxIterations,
		cacheConfig:   rules.DefaultCacheConfig(),
		engines:       make(map[string]*TenantEngine),
		caches:        make(map[string]rules.RulesCache),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadAllTenants builds an engine for every stored tenant with an active
// schema. Tenants without a schema are skipped.
func (m *Manager) LoadAllTenants() error {
	m.adminMu.Lock()
	defer m.adminMu.Unlock()

	tenants, err := m.store.ListTenants()
	if err != nil {
		return fmt.Errorf("failed to fetch tenants: %w", err)
	}

	loaded := 0
	for _, t := range tenants {
		sv, err := m.store.ActiveSchema(t.ID)
		if errors.Is(err, ErrSchemaNotFound) {
			logger.Warn("tenant has no active schema", "tenant", t.ID)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load schema for tenant %s: %w", t.ID, err)
		}

		te, err := m.buildEngine(t.ID, sv.Definition, sv.Version)
		if err != nil {
			return fmt.Errorf("failed to initialize tenant %s: %w", t.ID, err)
		}
		m.swap(te)
		loaded++
	}

	logger.Info("tenants loaded", "count", loaded)
	return nil
}

// CreateTenant stores a new tenant with its first schema version and builds
// its engine. An empty id is replaced by a generated UUID.
func (m *Manager) CreateTenant(id, name string, schema Schema) (*Tenant, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: tenant name is required", ErrInvalidTenant)
	}
	if err := ValidateSchema(schema); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	if id == "" {
		id = uuid.NewString()
	}

	m.adminMu.Lock()
	defer m.adminMu.Unlock()

	t := &Tenant{ID: id, Name: name}
	if err := m.store.CreateTenant(t); err != nil {
		return nil, err
	}
	sv, err := m.store.SaveSchema(t.ID, schema)
	if err != nil {
		return nil, err
	}

	te, err := m.buildEngine(t.ID, sv.Definition, sv.Version)
	if err != nil {
		return nil, err
	}
	m.swap(te)

	logger.Info("tenant created", "tenant", t.ID, "facts", len(schema))
	return t, nil
}

// GetEngine retrieves the engine for a specific tenant
func (m *Manager) GetEngine(tenantID string) (*TenantEngine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	te, exists := m.engines[tenantID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	return te, nil
}

// GetTenant returns the stored tenant
func (m *Manager) GetTenant(tenantID string) (*Tenant, error) {
	return m.store.GetTenant(tenantID)
}

// Tenants returns every stored tenant, oldest first
func (m *Manager) Tenants() ([]*Tenant, error) {
	return m.store.ListTenants()
}

// ListTenants returns the IDs of the tenants with a loaded engine, sorted
func (m *Manager) ListTenants() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tenants := make([]string, 0, len(m.engines))
	for tenantID := range m.engines {
		tenants = append(tenants, tenantID)
	}
	sort.Strings(tenants)
	return tenants
}

// DeleteTenant removes the tenant from the store and drops its engine
func (m *Manager) DeleteTenant(tenantID string) error {
	m.adminMu.Lock()
	defer m.adminMu.Unlock()

	if err := m.store.DeleteTenant(tenantID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.engines, tenantID)
	delete(m.caches, tenantID)
	m.mu.Unlock()

	logger.Info("tenant deleted", "tenant", tenantID)
	return nil
}

// Schema returns the tenant's active schema version
func (m *Manager) Schema(tenantID string) (*SchemaVersion, error) {
	return m.store.ActiveSchema(tenantID)
}

// UpdateTenantSchema replaces a tenant's schema. Every active rule is
// re-checked against the new schema first; if one no longer type-checks the
// schema is rejected and nothing changes. Otherwise the new version is saved
// and a new engine is swapped in while executions on the old one finish.
func (m *Manager) UpdateTenantSchema(tenantID string, schema Schema) (*SchemaVersion, error) {
	if err := ValidateSchema(schema); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}

	m.adminMu.Lock()
	defer m.adminMu.Unlock()

	if _, err := m.store.GetTenant(tenantID); err != nil {
		return nil, err
	}

	// Version is fixed up after the save.
	te, err := m.buildEngine(tenantID, schema, 0)
	if err != nil {
		return nil, err
	}

	sv, err := m.store.SaveSchema(tenantID, schema)
	if err != nil {
		return nil, err
	}
	te.Version = sv.Version
	m.swap(te)

	logger.Info("tenant schema updated", "tenant", tenantID, "version", sv.Version, "rules", te.RuleCount())
	return sv, nil
}

// AddRule parses source as a single GRL rule, checks it against the tenant
// schema and stores it. Active rules take effect immediately.
func (m *Manager) AddRule(tenantID, source string, active bool) (*rules.RuleRecord, error) {
	m.adminMu.Lock()
	defer m.adminMu.Unlock()

	te, err := m.GetEngine(tenantID)
	if err != nil {
		return nil, err
	}
	r, err := m.admit(te, source)
	if err != nil {
		return nil, err
	}

	record := &rules.RuleRecord{
		ID:       uuid.NewString(),
		Name:     r.Name,
		Source:   source,
		Salience: r.Salience,
		Active:   active,
	}
	if err := m.store.Rules(tenantID).Add(record); err != nil {
		return nil, err
	}

	if err := m.refresh(te); err != nil {
		return nil, err
	}
	return record, nil
}

// UpdateRule replaces the source and active flag of a stored rule
func (m *Manager) UpdateRule(tenantID, ruleID, source string, active bool) (*rules.RuleRecord, error) {
	m.adminMu.Lock()
	defer m.adminMu.Unlock()

	te, err := m.GetEngine(tenantID)
	if err != nil {
		return nil, err
	}
	store := m.store.Rules(tenantID)
	existing, err := store.Get(ruleID)
	if err != nil {
		return nil, err
	}
	r, err := m.admit(te, source)
	if err != nil {
		return nil, err
	}

	record := *existing
	record.Name = r.Name
	record.Source = source
	record.Salience = r.Salience
	record.Active = active
	if err := store.Update(&record); err != nil {
		return nil, err
	}

	if err := m.refresh(te); err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteRule removes a stored rule
func (m *Manager) DeleteRule(tenantID, ruleID string) error {
	m.adminMu.Lock()
	defer m.adminMu.Unlock()

	te, err := m.GetEngine(tenantID)
	if err != nil {
		return err
	}
	if err := m.store.Rules(tenantID).Delete(ruleID); err != nil {
		return err
	}
	return m.refresh(te)
}

// GetRule returns one stored rule
func (m *Manager) GetRule(tenantID, ruleID string) (*rules.RuleRecord, error) {
	if _, err := m.GetEngine(tenantID); err != nil {
		return nil, err
	}
	return m.store.Rules(tenantID).Get(ruleID)
}

// ListRules returns every stored rule of the tenant, active or not. Results
// are served from the tenant's cache until a write invalidates it.
func (m *Manager) ListRules(tenantID string) ([]*rules.RuleRecord, error) {
	if _, err := m.GetEngine(tenantID); err != nil {
		return nil, err
	}

	cache := m.cache(tenantID)
	if records := cache.Get(); records != nil {
		return records, nil
	}

	records, err := m.store.Rules(tenantID).List()
	if err != nil {
		return nil, err
	}
	cache.Set(records)
	return records, nil
}

// Execute runs the tenant's active rules over a fresh fact store built from
// facts. The input map is not modified.
func (m *Manager) Execute(tenantID string, facts map[string]any) (*Execution, error) {
	te, err := m.GetEngine(tenantID)
	if err != nil {
		return nil, err
	}

	store, err := rules.FactStoreFromNative(facts)
	if err != nil {
		return nil, fmt.Errorf("invalid facts: %w", err)
	}

	result, err := te.Execute(store)
	if err != nil {
		return nil, err
	}

	logger.RecordExecution(len(result.Errors), result.MaxIterationsReached)
	if m.observer != nil {
		m.observer(tenantID, result)
	}

	exec := &Execution{
		ID:     uuid.NewString(),
		Result: result,
		Facts:  store.ToNative(),
	}
	logger.Debug("execution finished",
		"tenant", tenantID,
		"execution", exec.ID,
		"fired", len(result.RulesFired),
		"iterations", result.Iterations,
		"duration", result.Duration.Round(time.Microsecond).String())
	return exec, nil
}

// admit parses one rule and checks it against the tenant's schema
func (m *Manager) admit(te *TenantEngine, source string) (*rules.Rule, error) {
	r, err := m.parser.ParseRule(source)
	if err != nil {
		return nil, err
	}
	if err := CheckRule(te.env, te.Schema, r); err != nil {
		return nil, err
	}
	return r, nil
}

// refresh drops the tenant's cached rule list and swaps in an engine built
// from the current store contents
func (m *Manager) refresh(te *TenantEngine) error {
	m.cache(te.TenantID).Invalidate()

	next, err := m.buildEngine(te.TenantID, te.Schema, te.Version)
	if err != nil {
		return err
	}
	m.swap(next)
	return nil
}

// buildEngine compiles every active stored rule of a tenant against schema
func (m *Manager) buildEngine(tenantID string, schema Schema, version int) (*TenantEngine, error) {
	env, err := CreateCELEnvFromSchema(schema)
	if err != nil {
		return nil, err
	}

	records, err := m.store.Rules(tenantID).ListActive()
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	engine := rules.NewRuleEngine(
		rules.WithMaxIterations(m.maxIterations),
		rules.WithLogger(logger.Logger.With("tenant", tenantID)),
	)
	for _, rec := range records {
		r, err := m.parser.ParseRule(rec.Source)
		if err != nil {
			return nil, fmt.Errorf("stored rule %s: %w", rec.Name, err)
		}
		if err := CheckRule(env, schema, r); err != nil {
			return nil, err
		}
		if err := engine.AddRule(r); err != nil {
			return nil, fmt.Errorf("stored rule %s: %w", rec.Name, err)
		}
	}

	return &TenantEngine{
		TenantID: tenantID,
		Schema:   copySchema(schema),
		Version:  version,
		env:      env,
		engine:   engine,
	}, nil
}

func (m *Manager) swap(te *TenantEngine) {
	m.mu.Lock()
	m.engines[te.TenantID] = te
	m.mu.Unlock()
}

func (m *Manager) cache(tenantID string) rules.RulesCache {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.caches[tenantID]
	if !ok {
		c = rules.NewInMemoryRulesCache(m.cacheConfig)
		m.caches[tenantID] = c
	}
	return c
}
