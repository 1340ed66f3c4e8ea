package rules

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint failure
const uniqueViolation = "23505"

// PostgresRuleStore implements RuleStore backed by PostgreSQL. Every query is
// scoped to a single tenant.
type PostgresRuleStore struct {
	db       *sql.DB
	tenantID string
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore for a specific tenant
func NewPostgresRuleStore(db *sql.DB, tenantID string) *PostgresRuleStore {
	return &PostgresRuleStore{
		db:       db,
		tenantID: tenantID,
	}
}

const selectRuleColumns = `SELECT id, name, source, salience, active, created_at, updated_at FROM rules`

// Add inserts a new record
func (s *PostgresRuleStore) Add(record *RuleRecord) error {
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO rules (id, tenant_id, name, source, salience, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, record.ID, s.tenantID, record.Name, record.Source, record.Salience, record.Active,
		record.CreatedAt, record.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrRuleExists, record.Name)
		}
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// Get retrieves a record by ID
func (s *PostgresRuleStore) Get(id string) (*RuleRecord, error) {
	row := s.db.QueryRow(selectRuleColumns+` WHERE id = $1 AND tenant_id = $2`, id, s.tenantID)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return record, nil
}

// List returns every record for the tenant
func (s *PostgresRuleStore) List() ([]*RuleRecord, error) {
	return s.query(selectRuleColumns+`
		WHERE tenant_id = $1
		ORDER BY created_at ASC, id ASC`, s.tenantID)
}

// ListActive returns the active records for the tenant
func (s *PostgresRuleStore) ListActive() ([]*RuleRecord, error) {
	return s.query(selectRuleColumns+`
		WHERE tenant_id = $1 AND active = true
		ORDER BY created_at ASC, id ASC`, s.tenantID)
}

func (s *PostgresRuleStore) query(q string, args ...any) ([]*RuleRecord, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	records := []*RuleRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return records, nil
}

// Update modifies an existing record. CreatedAt is left as stored.
func (s *PostgresRuleStore) Update(record *RuleRecord) error {
	record.UpdatedAt = time.Now().UTC()

	err := s.db.QueryRow(`
		UPDATE rules
		SET name = $1, source = $2, salience = $3, active = $4, updated_at = $5
		WHERE id = $6 AND tenant_id = $7
		RETURNING created_at
	`, record.Name, record.Source, record.Salience, record.Active, record.UpdatedAt,
		record.ID, s.tenantID).Scan(&record.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, record.ID)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrRuleExists, record.Name)
		}
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return nil
}

// Delete removes a record
func (s *PostgresRuleStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM rules WHERE id = $1 AND tenant_id = $2`, id, s.tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*RuleRecord, error) {
	var r RuleRecord
	if err := row.Scan(&r.ID, &r.Name, &r.Source, &r.Salience, &r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}
