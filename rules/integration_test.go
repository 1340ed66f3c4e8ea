//go:build integration

package rules_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/liamcoop/grl/internal/testdb"
	"github.com/liamcoop/grl/rules"
)

func newRecord(name, source string) *rules.RuleRecord {
	return &rules.RuleRecord{
		ID:     uuid.New().String(),
		Name:   name,
		Source: source,
		Active: true,
	}
}

func TestPostgresRuleStore_BasicCRUD(t *testing.T) {
	db := testdb.Setup(t)
	tenantID := testdb.CreateTenant(t, db, "test-tenant")
	store := rules.NewPostgresRuleStore(db, tenantID)

	rec := newRecord("Adult", `rule Adult salience 5 { when age >= 18 then adult = true; }`)
	rec.Salience = 5
	if err := store.Add(rec); err != nil {
		t.Fatalf("Failed to add rule: %v", err)
	}

	retrieved, err := store.Get(rec.ID)
	if err != nil {
		t.Fatalf("Failed to get rule: %v", err)
	}
	if retrieved.Name != "Adult" || retrieved.Source != rec.Source || retrieved.Salience != 5 {
		t.Errorf("Get() = %+v", retrieved)
	}

	active, err := store.ListActive()
	if err != nil {
		t.Fatalf("Failed to list active rules: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("Expected 1 active rule, got %d", len(active))
	}

	rec.Active = false
	rec.Source = `rule Adult { when age >= 21 then adult = true; }`
	if err := store.Update(rec); err != nil {
		t.Fatalf("Failed to update rule: %v", err)
	}
	updated, err := store.Get(rec.ID)
	if err != nil {
		t.Fatalf("Failed to get updated rule: %v", err)
	}
	if updated.Active || updated.Source != rec.Source {
		t.Errorf("update not persisted: %+v", updated)
	}
	if !updated.CreatedAt.Equal(retrieved.CreatedAt) {
		t.Errorf("CreatedAt changed on update: %v -> %v", retrieved.CreatedAt, updated.CreatedAt)
	}

	active, err = store.ListActive()
	if err != nil {
		t.Fatalf("Failed to list active rules: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("Expected 0 active rules, got %d", len(active))
	}
	all, err := store.List()
	if err != nil {
		t.Fatalf("Failed to list rules: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Expected 1 rule, got %d", len(all))
	}

	if err := store.Delete(rec.ID); err != nil {
		t.Fatalf("Failed to delete rule: %v", err)
	}
	if _, err := store.Get(rec.ID); !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrRuleNotFound", err)
	}
}

func TestPostgresRuleStore_TenantIsolation(t *testing.T) {
	db := testdb.Setup(t)
	storeA := rules.NewPostgresRuleStore(db, testdb.CreateTenant(t, db, "tenant-a"))
	storeB := rules.NewPostgresRuleStore(db, testdb.CreateTenant(t, db, "tenant-b"))

	recA := newRecord("Shared", `rule Shared { when true then a = 1; }`)
	recB := newRecord("Shared", `rule Shared { when true then b = 1; }`)
	if err := storeA.Add(recA); err != nil {
		t.Fatalf("Failed to add rule for tenant A: %v", err)
	}
	// The same name is allowed in another tenant.
	if err := storeB.Add(recB); err != nil {
		t.Fatalf("Failed to add rule for tenant B: %v", err)
	}

	if _, err := storeA.Get(recB.ID); err == nil {
		t.Error("Tenant A should not be able to see tenant B's rule")
	}
	if _, err := storeB.Get(recA.ID); err == nil {
		t.Error("Tenant B should not be able to see tenant A's rule")
	}
	if err := storeA.Delete(recB.ID); !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("Tenant A deleted tenant B's rule: %v", err)
	}

	listA, err := storeA.ListActive()
	if err != nil {
		t.Fatalf("Failed to list rules for tenant A: %v", err)
	}
	if len(listA) != 1 || listA[0].ID != recA.ID {
		t.Errorf("tenant A rules = %+v", listA)
	}
}

func TestPostgresRuleStore_Duplicates(t *testing.T) {
	db := testdb.Setup(t)
	store := rules.NewPostgresRuleStore(db, testdb.CreateTenant(t, db, "test-tenant"))

	rec := newRecord("Adult", `rule Adult { when true then a = 1; }`)
	if err := store.Add(rec); err != nil {
		t.Fatalf("Failed to add rule: %v", err)
	}

	testCases := []struct {
		name string
		dup  *rules.RuleRecord
	}{
		{"same id", &rules.RuleRecord{ID: rec.ID, Name: "Other", Source: rec.Source, Active: true}},
		{"same name", newRecord("Adult", rec.Source)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := store.Add(tc.dup); !errors.Is(err, rules.ErrRuleExists) {
				t.Errorf("Add(duplicate) error = %v, want ErrRuleExists", err)
			}
		})
	}
}

func TestPostgresRuleStore_MissingRecords(t *testing.T) {
	db := testdb.Setup(t)
	store := rules.NewPostgresRuleStore(db, testdb.CreateTenant(t, db, "test-tenant"))

	if err := store.Update(newRecord("Ghost", "")); !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrRuleNotFound", err)
	}
	if err := store.Delete(uuid.New().String()); !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrRuleNotFound", err)
	}
}
