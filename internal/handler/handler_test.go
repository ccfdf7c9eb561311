package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridsynapse/placement/api"
	"github.com/gridsynapse/placement/internal/biz"
	"github.com/gridsynapse/placement/internal/config"
	"github.com/gridsynapse/placement/internal/scope"
	"github.com/gridsynapse/placement/placementjson"
)

func newTestMux() *http.ServeMux {
	cfgProvider := config.NewDefaultConfigProvider(config.DefaultPlacementConfig())
	app := biz.NewApp(scope.NewManager(&scope.Deps{CfgProvider: cfgProvider}), cfgProvider, nil)
	mux := http.NewServeMux()
	NewHandler(app).RegisterRoutes(mux)
	return mux
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rr
}

func TestHandler_ping(t *testing.T) {
	mux := newTestMux()
	rr := do(mux, http.MethodGet, "/api/ping", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp api.PingResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, biz.GetVersion(), resp.Version)

	rr = do(mux, http.MethodPost, "/api/ping", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "MethodNotAllowed")
}

func TestHandler_state(t *testing.T) {
	rr := do(newTestMux(), http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"scopes":[]}`, rr.Body.String())
}

const solveBody = `{
  "snapshot": {
    "scope_id": "demo", "version": 4, "taken_at_ms": 1700000000000,
    "jobs": [{"id": "j1", "gpu_demand": 4, "remaining_duration_sec": 3600}],
    "datacenters": [{"id": "a", "region": "r1", "total_capacity_gpu": 8, "free_capacity_gpu": 8, "capacity_version": 1}],
    "forecasts": [{"datacenter_id": "a", "timestamp_ms": 1700000000000, "price_per_gpu_hour": 1.5, "carbon_g_per_kwh": 200}]
  }
}`

func TestHandler_solve(t *testing.T) {
	mux := newTestMux()
	rr := do(mux, http.MethodPost, "/api/solve", solveBody)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp placementjson.SolveResultJson
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Assignments, 1)
	assert.Equal(t, "a", resp.Assignments[0].DatacenterId)
	assert.Equal(t, int64(4), resp.Assignments[0].Version)
	assert.InDelta(t, 6.0, resp.Assignments[0].ProjectedCost, 1e-9)

	rr = do(mux, http.MethodPost, "/api/solve", "{not json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "InvalidRequestBody")

	rr = do(mux, http.MethodGet, "/api/solve", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandler_config(t *testing.T) {
	mux := newTestMux()
	rr := do(mux, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var cfg placementjson.PlacementConfigJson
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cfg))
	assert.Equal(t, int32(100), *cfg.Solver.TimeBudgetMs)

	rr = do(mux, http.MethodPost, "/api/config", `{"cost_func": {"weight_carbon": 0.5}}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cfg))
	assert.Equal(t, 0.5, *cfg.CostFunc.WeightCarbon)

	rr = do(mux, http.MethodPost, "/api/config", `{"solver": {"time_budget_ms": 0}}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "ConfigOutOfBounds")

	rr = do(mux, http.MethodDelete, "/api/config", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
