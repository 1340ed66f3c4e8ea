package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/grl/internal/config"
	"github.com/liamcoop/grl/internal/metrics"
	"github.com/liamcoop/grl/multitenantengine"
	"github.com/liamcoop/grl/rules"
)

const (
	adultRule = `rule Adult "marks adults" salience 10 { when user.age >= 18 then adult = true; }`
	greetRule = `rule Greet { when adult == true then greeting = "welcome " + user.name; }`
)

func testSchema() multitenantengine.Schema {
	return multitenantengine.Schema{
		"user":     multitenantengine.TypeObject,
		"adult":    multitenantengine.TypeBool,
		"greeting": multitenantengine.TypeString,
	}
}

func newTestServer(t *testing.T, ping func(context.Context) error) *Server {
	t.Helper()
	m := metrics.New()
	manager := multitenantengine.NewManager(
		multitenantengine.NewInMemoryTenantStore(),
		multitenantengine.WithMaxIterations(10),
		multitenantengine.WithExecutionObserver(func(tenantID string, res *rules.ExecutionResult) {
			m.ObserveExecution(tenantID, res.Duration, res.Iterations, len(res.RulesFired))
		}),
	)
	return NewServer(manager, m, ping, config.DefaultConfig().Server)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createTenant(t *testing.T, s *Server) string {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/v1/tenants", CreateTenantRequest{Name: "acme", Schema: testSchema()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[TenantResponse](t, rec).ID
}

func createRule(t *testing.T, s *Server, tenantID, source string) RuleResponse {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/v1/tenants/"+tenantID+"/rules", CreateRuleRequest{Source: source})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[RuleResponse](t, rec)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody[HealthResponse](t, rec).Status)

	down := newTestServer(t, func(context.Context) error { return errors.New("connection refused") })
	rec = do(t, down, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "connection refused", resp.Error)
}

func TestCreateTenantAndExecute(t *testing.T) {
	s := newTestServer(t, nil)
	tenantID := createTenant(t, s)

	adult := createRule(t, s, tenantID, adultRule)
	assert.Equal(t, "Adult", adult.Name)
	assert.Equal(t, 10, adult.Salience)
	assert.True(t, adult.Active)
	createRule(t, s, tenantID, greetRule)

	rec := do(t, s, http.MethodPost, "/api/v1/tenants/"+tenantID+"/execute", ExecuteRequest{
		Facts: map[string]any{
			"user":  map[string]any{"name": "Ada", "age": 36},
			"adult": false,
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[ExecuteResponse](t, rec)
	assert.NotEmpty(t, resp.ExecutionID)
	assert.Equal(t, []string{"Adult", "Greet"}, resp.RulesFired)
	assert.Empty(t, resp.Errors)
	assert.False(t, resp.MaxIterationsReached)
	assert.ElementsMatch(t, []string{"adult", "greeting"}, resp.FactsModified)
	assert.Equal(t, true, resp.Facts["adult"])
	assert.Equal(t, "welcome Ada", resp.Facts["greeting"])

	rec = do(t, s, http.MethodGet, "/api/v1/tenants", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tenants := decodeBody[TenantsListResponse](t, rec).Tenants
	require.Len(t, tenants, 1)
	assert.Equal(t, tenantID, tenants[0].ID)
	assert.Equal(t, "acme", tenants[0].Name)
}

func TestExecuteReportsRuleErrors(t *testing.T) {
	s := newTestServer(t, nil)
	tenantID := createTenant(t, s)
	createRule(t, s, tenantID, `rule Named { when user.name == "x" then adult = true; }`)

	rec := do(t, s, http.MethodPost, "/api/v1/tenants/"+tenantID+"/execute", ExecuteRequest{
		Facts: map[string]any{"user": map[string]any{}, "adult": false},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[ExecuteResponse](t, rec)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "Named", resp.Errors[0].Rule)
	assert.Equal(t, rules.PhaseCondition, resp.Errors[0].Phase)
	assert.Contains(t, resp.Errors[0].Message, "name")
	assert.Empty(t, resp.RulesFired)
}

func TestCreateTenantValidation(t *testing.T) {
	s := newTestServer(t, nil)

	testCases := []struct {
		name   string
		body   any
		status int
	}{
		{"missing name", CreateTenantRequest{Schema: testSchema()}, http.StatusBadRequest},
		{"bad id", CreateTenantRequest{ID: "acme", Name: "acme", Schema: testSchema()}, http.StatusBadRequest},
		{"empty schema", CreateTenantRequest{Name: "acme"}, http.StatusUnprocessableEntity},
		{"bad type", CreateTenantRequest{Name: "acme", Schema: multitenantengine.Schema{"x": "widget"}}, http.StatusUnprocessableEntity},
		{"malformed json", `{"name":`, http.StatusBadRequest},
		{"unknown field", `{"name":"acme","colour":"red"}`, http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/v1/tenants", tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeBody[ErrorResponse](t, rec).Error)
		})
	}

	id := uuid.NewString()
	rec := do(t, s, http.MethodPost, "/api/v1/tenants", CreateTenantRequest{ID: id, Name: "acme", Schema: testSchema()})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, id, decodeBody[TenantResponse](t, rec).ID)

	rec = do(t, s, http.MethodPost, "/api/v1/tenants", CreateTenantRequest{ID: id, Name: "again", Schema: testSchema()})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRuleAdmission(t *testing.T) {
	s := newTestServer(t, nil)
	tenantID := createTenant(t, s)
	createRule(t, s, tenantID, adultRule)

	testCases := []struct {
		name   string
		source string
		status int
	}{
		{"syntax error", `rule Broken { when user.age >= then adult = true; }`, http.StatusUnprocessableEntity},
		{"two rules", adultRule + "\n" + greetRule, http.StatusUnprocessableEntity},
		{"undeclared fact", `rule Score { when true then score = 1; }`, http.StatusUnprocessableEntity},
		{"wrong type", `rule Bad { when true then adult = "yes"; }`, http.StatusUnprocessableEntity},
		{"duplicate name", `rule Adult { when true then adult = false; }`, http.StatusConflict},
		{"empty source", "", http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/v1/tenants/"+tenantID+"/rules", CreateRuleRequest{Source: tc.source})
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}

	rec := do(t, s, http.MethodGet, "/api/v1/tenants/"+tenantID+"/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[RulesListResponse](t, rec).Rules, 1)
}

func TestRuleLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	tenantID := createTenant(t, s)
	rule := createRule(t, s, tenantID, adultRule)
	rulePath := "/api/v1/tenants/" + tenantID + "/rules/" + rule.ID

	rec := do(t, s, http.MethodGet, rulePath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, adultRule, decodeBody[RuleResponse](t, rec).Source)

	// deactivating keeps the source
	inactive := false
	rec = do(t, s, http.MethodPut, rulePath, UpdateRuleRequest{Active: &inactive})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[RuleResponse](t, rec)
	assert.False(t, updated.Active)
	assert.Equal(t, adultRule, updated.Source)

	facts := ExecuteRequest{Facts: map[string]any{"user": map[string]any{"age": 40}, "adult": false}}
	rec = do(t, s, http.MethodPost, "/api/v1/tenants/"+tenantID+"/execute", facts)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[ExecuteResponse](t, rec).RulesFired)

	// a new source renames the rule
	active := true
	rec = do(t, s, http.MethodPut, rulePath, UpdateRuleRequest{
		Source: `rule Grownup salience 3 { when user.age >= 21 then adult = true; }`,
		Active: &active,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated = decodeBody[RuleResponse](t, rec)
	assert.Equal(t, "Grownup", updated.Name)
	assert.Equal(t, 3, updated.Salience)

	rec = do(t, s, http.MethodPost, "/api/v1/tenants/"+tenantID+"/execute", facts)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Grownup"}, decodeBody[ExecuteResponse](t, rec).RulesFired)

	rec = do(t, s, http.MethodPut, rulePath, UpdateRuleRequest{Source: `rule Grownup { when then x = 1; }`})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, s, http.MethodDelete, rulePath, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodGet, rulePath, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, s, http.MethodDelete, rulePath, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSchemaUpdates(t *testing.T) {
	s := newTestServer(t, nil)
	tenantID := createTenant(t, s)
	createRule(t, s, tenantID, adultRule)
	schemaPath := "/api/v1/tenants/" + tenantID + "/schema"

	rec := do(t, s, http.MethodGet, schemaPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	current := decodeBody[SchemaResponse](t, rec)
	assert.Equal(t, 1, current.Version)
	assert.Equal(t, testSchema(), current.Definition)

	// dropping a fact an active rule writes is rejected
	rec = do(t, s, http.MethodPost, schemaPath, UpdateSchemaRequest{
		Definition: multitenantengine.Schema{"user": multitenantengine.TypeObject},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	next := testSchema()
	next["score"] = multitenantengine.TypeNumber
	rec = do(t, s, http.MethodPost, schemaPath, UpdateSchemaRequest{Definition: next})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[SchemaResponse](t, rec)
	assert.Equal(t, 2, updated.Version)
	require.NotNil(t, updated.RulesRecompiled)
	assert.Equal(t, 1, *updated.RulesRecompiled)

	// rules may now use the new fact
	createRule(t, s, tenantID, `rule Score { when adult == true then score = 1; }`)
}

func TestUnknownTenant(t *testing.T) {
	s := newTestServer(t, nil)
	missing := uuid.NewString()

	testCases := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"get", http.MethodGet, "/api/v1/tenants/" + missing, nil},
		{"not a uuid", http.MethodGet, "/api/v1/tenants/acme/rules", nil},
		{"schema", http.MethodGet, "/api/v1/tenants/" + missing + "/schema", nil},
		{"rules", http.MethodGet, "/api/v1/tenants/" + missing + "/rules", nil},
		{"add rule", http.MethodPost, "/api/v1/tenants/" + missing + "/rules", CreateRuleRequest{Source: adultRule}},
		{"execute", http.MethodPost, "/api/v1/tenants/" + missing + "/execute", ExecuteRequest{Facts: map[string]any{}}},
		{"rule id not a uuid", http.MethodGet, "/api/v1/tenants/" + missing + "/rules/r1", nil},
		{"delete", http.MethodDelete, "/api/v1/tenants/" + missing, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, s, tc.method, tc.path, tc.body)
			assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
		})
	}
}

func TestDeleteTenant(t *testing.T) {
	s := newTestServer(t, nil)
	tenantID := createTenant(t, s)

	rec := do(t, s, http.MethodDelete, "/api/v1/tenants/"+tenantID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/tenants/"+tenantID+"/rules", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, 0, decodeBody[HealthResponse](t, rec).TenantsLoaded)
}

func TestExecuteRequiresFacts(t *testing.T) {
	s := newTestServer(t, nil)
	tenantID := createTenant(t, s)

	rec := do(t, s, http.MethodPost, "/api/v1/tenants/"+tenantID+"/execute", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParse(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/parse", ParseRequest{Source: adultRule + "\n" + greetRule})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[ParseResponse](t, rec)
	require.Len(t, resp.Rules, 2)
	assert.Empty(t, resp.Errors)

	adult := resp.Rules[0]
	assert.Equal(t, "Adult", adult.Name)
	assert.Equal(t, "marks adults", adult.Description)
	assert.Equal(t, 10, adult.Salience)
	assert.Equal(t, "user.age >= 18", adult.Condition)
	assert.Equal(t, []string{"adult = true"}, adult.Actions)
	assert.Equal(t, []string{"user"}, adult.Inputs)
	assert.True(t, strings.HasPrefix(adult.Formatted, "rule Adult"))

	rec = do(t, s, http.MethodPost, "/api/v1/parse", ParseRequest{
		Source: "rule A { when then x = 1; }\n" + greetRule,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp = decodeBody[ParseResponse](t, rec)
	require.Len(t, resp.Rules, 1)
	assert.Equal(t, "Greet", resp.Rules[0].Name)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "syntax error")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	tenantID := createTenant(t, s)
	createRule(t, s, tenantID, adultRule)
	do(t, s, http.MethodPost, "/api/v1/tenants/"+tenantID+"/execute", ExecuteRequest{
		Facts: map[string]any{"user": map[string]any{"age": 20}, "adult": false},
	})

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	assert.Regexp(t, `grl_http_request_duration_seconds_count\{method="POST",route="/api/v1/tenants/?",status="201"\} 1`, body)
	assert.Contains(t, body, `route="/api/v1/tenants/{tenantId}/execute"`)
	assert.Contains(t, body, `grl_rules_fired_total{tenant="`+tenantID+`"} 1`)
	assert.Contains(t, body, "grl_executions_total")
}
