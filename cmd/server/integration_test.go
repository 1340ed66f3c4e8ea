//go:build integration

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/grl/internal/config"
	"github.com/liamcoop/grl/internal/metrics"
	"github.com/liamcoop/grl/internal/testdb"
	"github.com/liamcoop/grl/multitenantengine"
)

// TestEndToEnd_Postgres walks the full workflow against a real database:
// create tenant, add rules, execute, restart and execute again.
func TestEndToEnd_Postgres(t *testing.T) {
	db := testdb.Setup(t)

	newHTTPServer := func() *httptest.Server {
		manager := multitenantengine.NewManager(multitenantengine.NewPostgresTenantStore(db))
		require.NoError(t, manager.LoadAllTenants())
		ts := httptest.NewServer(NewServer(manager, metrics.New(), db.PingContext, config.DefaultConfig().Server))
		t.Cleanup(ts.Close)
		return ts
	}

	post := func(url string, body any) *http.Response {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		resp, err := http.Post(url, "application/json", bytes.NewReader(data))
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	ts := newHTTPServer()
	base := ts.URL + "/api/v1"

	resp := post(base+"/tenants", CreateTenantRequest{Name: "Test Tenant", Schema: testSchema()})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var tenant TenantResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tenant))

	for _, src := range []string{adultRule, greetRule} {
		resp = post(base+"/tenants/"+tenant.ID+"/rules", CreateRuleRequest{Source: src})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	execute := func(base string) ExecuteResponse {
		resp := post(base+"/tenants/"+tenant.ID+"/execute", ExecuteRequest{
			Facts: map[string]any{"user": map[string]any{"name": "Ada", "age": 36}, "adult": false},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out ExecuteResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	first := execute(base)
	assert.Equal(t, []string{"Adult", "Greet"}, first.RulesFired)
	assert.Equal(t, "welcome Ada", first.Facts["greeting"])

	// a fresh process rebuilds the same engine from the database
	restarted := newHTTPServer()
	second := execute(restarted.URL + "/api/v1")
	assert.Equal(t, first.RulesFired, second.RulesFired)
	assert.Equal(t, first.Facts, second.Facts)

	health, err := http.Get(restarted.URL + "/api/v1/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
