package main

import (
	"time"

	"github.com/liamcoop/grl/multitenantengine"
	"github.com/liamcoop/grl/rules"
)

// API request and response models

// CreateTenantRequest is the body of POST /tenants. ID is optional and must be
// a UUID when given.
type CreateTenantRequest struct {
	ID     string                   `json:"id,omitempty"`
	Name   string                   `json:"name"`
	Schema multitenantengine.Schema `json:"schema"`
}

// TenantResponse represents a tenant in API responses
type TenantResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TenantsListResponse represents the response for listing tenants
type TenantsListResponse struct {
	Tenants []TenantResponse `json:"tenants"`
}

// UpdateSchemaRequest is the body of POST /tenants/{tenantId}/schema
type UpdateSchemaRequest struct {
	Definition multitenantengine.Schema `json:"definition"`
}

// SchemaResponse represents a schema version in API responses
type SchemaResponse struct {
	Version         int                      `json:"version"`
	Status          string                   `json:"status"`
	Definition      multitenantengine.Schema `json:"definition"`
	CreatedAt       time.Time                `json:"created_at"`
	RulesRecompiled *int                     `json:"rules_recompiled,omitempty"`
}

// CreateRuleRequest is the body of POST /tenants/{tenantId}/rules. Source
// holds exactly one GRL rule block. Active defaults to true.
type CreateRuleRequest struct {
	Source string `json:"source"`
	Active *bool  `json:"active,omitempty"`
}

// UpdateRuleRequest replaces a rule. Omitted fields keep their stored value.
type UpdateRuleRequest struct {
	Source string `json:"source,omitempty"`
	Active *bool  `json:"active,omitempty"`
}

// RuleResponse represents a stored rule in API responses
type RuleResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	Salience  int       `json:"salience"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RulesListResponse represents the response for listing rules
type RulesListResponse struct {
	Rules []RuleResponse `json:"rules"`
}

// ExecuteRequest is the body of POST /tenants/{tenantId}/execute
type ExecuteRequest struct {
	Facts map[string]any `json:"facts"`
}

// RuleErrorResponse is one rule evaluation failure
type RuleErrorResponse struct {
	Rule      string `json:"rule"`
	Iteration int    `json:"iteration"`
	Phase     string `json:"phase"`
	Message   string `json:"message"`
}

// ExecuteResponse is the outcome of one execution
type ExecuteResponse struct {
	ExecutionID          string              `json:"execution_id"`
	RulesFired           []string            `json:"rules_fired"`
	Errors               []RuleErrorResponse `json:"errors"`
	Iterations           int                 `json:"iterations"`
	MaxIterationsReached bool                `json:"max_iterations_reached"`
	FactsModified        []string            `json:"facts_modified"`
	Facts                map[string]any      `json:"facts"`
	ExecutionTime        string              `json:"execution_time"`
}

// ParseRequest is the body of POST /parse
type ParseRequest struct {
	Source string `json:"source"`
}

// ParsedRule describes one rule accepted by the parser
type ParsedRule struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Salience    int      `json:"salience"`
	Condition   string   `json:"condition"`
	Actions     []string `json:"actions"`
	Inputs      []string `json:"inputs"`
	Formatted   string   `json:"formatted"`
}

// ParseResponse lists the parsed rules and any syntax errors
type ParseResponse struct {
	Rules  []ParsedRule `json:"rules"`
	Errors []string     `json:"errors,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string `json:"status"`
	TenantsLoaded int    `json:"tenants_loaded"`
	Error         string `json:"error,omitempty"`
}

func toTenantResponse(t *multitenantengine.Tenant) TenantResponse {
	return TenantResponse{
		ID:        t.ID,
		Name:      t.Name,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func toSchemaResponse(sv *multitenantengine.SchemaVersion) SchemaResponse {
	return SchemaResponse{
		Version:    sv.Version,
		Status:     "active",
		Definition: sv.Definition,
		CreatedAt:  sv.CreatedAt,
	}
}

func toRuleResponse(r *rules.RuleRecord) RuleResponse {
	return RuleResponse{
		ID:        r.ID,
		Name:      r.Name,
		Source:    r.Source,
		Salience:  r.Salience,
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func toExecuteResponse(exec *multitenantengine.Execution) ExecuteResponse {
	res := exec.Result
	out := ExecuteResponse{
		ExecutionID:          exec.ID,
		RulesFired:           res.RulesFired,
		Errors:               make([]RuleErrorResponse, 0, len(res.Errors)),
		Iterations:           res.Iterations,
		MaxIterationsReached: res.MaxIterationsReached,
		FactsModified:        res.FactsModified,
		Facts:                exec.Facts,
		ExecutionTime:        res.Duration.String(),
	}
	for _, e := range res.Errors {
		out.Errors = append(out.Errors, RuleErrorResponse{
			Rule:      e.Rule,
			Iteration: e.Iteration,
			Phase:     e.Phase,
			Message:   e.Err.Error(),
		})
	}
	if out.FactsModified == nil {
		out.FactsModified = []string{}
	}
	return out
}

func toParsedRule(r *rules.Rule) ParsedRule {
	p := ParsedRule{
		Name:        r.Name,
		Description: r.Description,
		Salience:    r.Salience,
		Condition:   r.Condition.String(),
		Actions:     make([]string, len(r.Actions)),
		Inputs:      rules.ConditionInputs(r.Condition),
		Formatted:   r.String(),
	}
	for i, a := range r.Actions {
		p.Actions[i] = a.String()
	}
	if p.Inputs == nil {
		p.Inputs = []string{}
	}
	return p
}
