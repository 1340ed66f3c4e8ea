package multitenantengine

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/liamcoop/grl/rules"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// PostgresTenantStore implements TenantStore on the tenants, schemas and rules tables
type PostgresTenantStore struct {
	db *sql.DB
}

// NewPostgresTenantStore wraps an open database handle
func NewPostgresTenantStore(db *sql.DB) *PostgresTenantStore {
	return &PostgresTenantStore{db: db}
}

func (s *PostgresTenantStore) CreateTenant(t *Tenant) error {
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO tenants (id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`, t.ID, t.Name, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if pqCode(err) == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrTenantExists, t.ID)
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

func (s *PostgresTenantStore) GetTenant(id string) (*Tenant, error) {
	var t Tenant
	err := s.db.QueryRow(`
		SELECT id, name, created_at, updated_at FROM tenants WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &t, nil
}

func (s *PostgresTenantStore) ListTenants() ([]*Tenant, error) {
	rows, err := s.db.Query(`
		SELECT id, name, created_at, updated_at FROM tenants
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	tenants := []*Tenant{}
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenant rows: %w", err)
	}
	return tenants, nil
}

// DeleteTenant relies on ON DELETE CASCADE for schemas and rules
func (s *PostgresTenantStore) DeleteTenant(id string) error {
	result, err := s.db.Exec(`DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, id)
	}
	return nil
}

// SaveSchema deactivates the current version and inserts the next one in a
// single transaction
func (s *PostgresTenantStore) SaveSchema(tenantID string, schema Schema) (*SchemaVersion, error) {
	definition, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE schemas SET active = false WHERE tenant_id = $1 AND active`, tenantID); err != nil {
		return nil, fmt.Errorf("failed to deactivate old schemas: %w", err)
	}

	sv := &SchemaVersion{Definition: copySchema(schema)}
	err = tx.QueryRow(`
		INSERT INTO schemas (tenant_id, version, definition, active, created_at)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, true, NOW()
		FROM schemas
		WHERE tenant_id = $1
		RETURNING version, created_at
	`, tenantID, definition).Scan(&sv.Version, &sv.CreatedAt)
	if err != nil {
		if pqCode(err) == foreignKeyViolation {
			return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
		}
		return nil, fmt.Errorf("failed to save new schema: %w", err)
	}

	if _, err := tx.Exec(`UPDATE tenants SET updated_at = NOW() WHERE id = $1`, tenantID); err != nil {
		return nil, fmt.Errorf("failed to touch tenant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit schema: %w", err)
	}
	return sv, nil
}

func (s *PostgresTenantStore) ActiveSchema(tenantID string) (*SchemaVersion, error) {
	var (
		sv         SchemaVersion
		definition []byte
	)
	err := s.db.QueryRow(`
		SELECT version, definition, created_at
		FROM schemas
		WHERE tenant_id = $1 AND active = true
	`, tenantID).Scan(&sv.Version, &definition, &sv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: tenant %s", ErrSchemaNotFound, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schema: %w", err)
	}

	if err := json.Unmarshal(definition, &sv.Definition); err != nil {
		return nil, fmt.Errorf("invalid schema for tenant %s: %w", tenantID, err)
	}
	return &sv, nil
}

func (s *PostgresTenantStore) Rules(tenantID string) rules.RuleStore {
	return rules.NewPostgresRuleStore(s.db, tenantID)
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
