package web

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/propmatch/internal/audience"
	"github.com/propmatch/internal/config"
	"github.com/propmatch/internal/dataset"
	"github.com/propmatch/internal/export"
	"github.com/propmatch/internal/record"
	"github.com/propmatch/internal/store"
)

func date(y, m, d int) record.Time {
	return record.NewTime(time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC))
}

func testDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New(
		[]*record.Property{
			{ID: "p1", State: "VA", PropertyType: "Single Family", YearBuilt: record.NewFloat(1995),
				Beds: record.NewFloat(3), LastSaleDate: date(2020, 1, 1)},
			{ID: "p2", State: "VA", PropertyType: "Townhouse", YearBuilt: record.NewFloat(2005),
				Beds: record.NewFloat(2), LastSaleDate: date(2015, 5, 5)},
			{ID: "p3", State: "VA", PropertyType: "Unknown"},
			{ID: "p4", State: "MD", PropertyType: "Single Family", YearBuilt: record.NewFloat(1980)},
		},
		[]*record.Permit{
			{PermitID: "A", State: "VA", FileDate: date(2019, 6, 1)},
			{PermitID: "B", State: "VA", FileDate: date(2023, 1, 1)},
			{PermitID: "C", State: "VA", FileDate: date(2016, 2, 2)},
			{PermitID: "D", State: "VA"},
		},
		[]dataset.Link{{PropertyID: "p1", PermitID: "A"}, {PropertyID: "p1", PermitID: "B"}, {PropertyID: "p2", PermitID: "C"}, {PropertyID: "p2", PermitID: "D"}},
		nil,
	)
	require.NoError(t, err)
	return ds
}

type testServer struct {
	handler  http.Handler
	store    store.Store
	registry *prometheus.Registry
}

func newTestServer(t *testing.T, ds *dataset.Dataset, cfg *Config) *testServer {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	var engine *audience.Engine
	if ds != nil {
		engine = audience.NewEngine(ds, zap.NewNop())
	}
	s := store.NewFileStore(filepath.Join(t.TempDir(), "audiences"), nil)
	reg := prometheus.NewRegistry()

	server, err := NewServer(cfg, Deps{Engine: engine, Store: s, Logger: zap.NewNop(), Registry: reg})
	require.NoError(t, err)
	return &testServer{handler: server.Handler(), store: s, registry: reg}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServerRequiresStore(t *testing.T) {
	_, err := NewServer(DefaultConfig(), Deps{})
	assert.Error(t, err)
}

func TestNoDataAnswersServiceUnavailable(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	rec := ts.do(t, "GET", "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[map[string]any](t, rec)
	assert.Equal(t, false, health["data_loaded"])

	for _, path := range []string{"/api/dataset", "/api/dataset/ranges", "/api/dataset/options"} {
		assert.Equal(t, http.StatusServiceUnavailable, ts.do(t, "GET", path, nil).Code, path)
	}
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(t, "POST", "/api/audiences/build", "{}").Code)
}

func TestDatasetEndpoints(t *testing.T) {
	ts := newTestServer(t, testDataset(t), nil)

	rec := ts.do(t, "GET", "/api/dataset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	info := decode[map[string]any](t, rec)
	assert.Equal(t, 4.0, info["properties"])
	assert.Equal(t, 4.0, info["permits"])
	assert.Equal(t, 2.0, info["properties_with_permits"])
	assert.Len(t, info["quality"], 4)

	rec = ts.do(t, "GET", "/api/dataset/ranges", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ranges := decode[dataset.Ranges](t, rec)
	assert.Equal(t, 1980.0, ranges.YearBuilt.Min)
	assert.Equal(t, 2004.0, ranges.YearBuilt.Max, "upper 1% trimmed")
	assert.Equal(t, dataset.Range{Min: 2016, Max: 2023}, ranges.PermitYear)

	rec = ts.do(t, "GET", "/api/dataset/options", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	options := decode[map[string][]string](t, rec)
	assert.Equal(t, []string{"Single Family", "Townhouse"}, options["property_types"])
	assert.Equal(t, []string{"MD", "VA"}, options["states"])
}

func TestBuildAudienceEndpoint(t *testing.T) {
	ts := newTestServer(t, testDataset(t), nil)

	rec := ts.do(t, "POST", "/api/audiences/build", "{}")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[map[string]any](t, rec)
	assert.Equal(t, 4.0, resp["total_properties"])
	assert.Equal(t, 4.0, resp["matching_properties"])
	assert.Equal(t, 4.0, resp["matching_permits"])
	assert.Equal(t, 2.0, resp["final_matches"])
	assert.ElementsMatch(t, []any{"p1", "p2"}, resp["property_ids"])

	rec = ts.do(t, "POST", "/api/audiences/build", map[string]any{
		"property_filters": map[string]any{"min_year_built": 2000},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[map[string]any](t, rec)
	assert.Equal(t, []any{"p2"}, resp["property_ids"])

	// saved audiences are excluded from later builds
	require.NoError(t, ts.store.Save(t.Context(), store.Audience{Name: "first", Properties: []string{"p1"}}))
	rec = ts.do(t, "POST", "/api/audiences/build", "{}")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[map[string]any](t, rec)
	assert.Equal(t, 3.0, resp["total_properties"])
	assert.Equal(t, 1.0, resp["final_matches"])
	assert.Equal(t, 1.0, resp["excluded"])

	// an empty audience still reports lists, not null
	require.NoError(t, ts.store.Save(t.Context(), store.Audience{Name: "second", Properties: []string{"p2"}}))
	rec = ts.do(t, "POST", "/api/audiences/build", "{}")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sale_to_permit_gaps":[]`)
	assert.Contains(t, rec.Body.String(), `"property_ids":[]`)
	assert.Contains(t, rec.Body.String(), `"permit_years":[]`)
}

func TestBuildAudienceRejectsBadFilters(t *testing.T) {
	ts := newTestServer(t, testDataset(t), nil)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, "POST", "/api/audiences/build", "not json").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "POST", "/api/audiences/build", map[string]any{
		"property_filters": map[string]any{"min_beds": 4, "max_beds": 2},
	}).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "POST", "/api/audiences/build", map[string]any{
		"permit_filters": map[string]any{"include_nulls": map[string]bool{"beds": true}},
	}).Code)
}

func TestFilterStageFailureNamesStage(t *testing.T) {
	ds := testDataset(t)
	ds.Index = nil
	ts := newTestServer(t, ds, nil)

	rec := ts.do(t, "POST", "/api/audiences/build", map[string]any{
		"property_filters": map[string]any{"min_sale_to_permit_years": 0},
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "sale_to_permit")
}

func TestAudienceLifecycle(t *testing.T) {
	ts := newTestServer(t, testDataset(t), nil)

	rec := ts.do(t, "POST", "/api/audiences", map[string]any{"name": "roofers", "properties": []string{"p1"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	saved := decode[store.Audience](t, rec)
	assert.Equal(t, []string{"p1"}, saved.Properties)

	rec = ts.do(t, "POST", "/api/audiences", map[string]any{"name": "roofers", "properties": []string{"p2"}})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// built from filters with roofers excluded
	rec = ts.do(t, "POST", "/api/audiences", map[string]any{
		"name":             "va",
		"property_filters": map[string]any{"states": []string{"VA"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	saved = decode[store.Audience](t, rec)
	assert.Equal(t, []string{"p2"}, saved.Properties)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, "POST", "/api/audiences", map[string]any{"name": "../x"}).Code)

	rec = ts.do(t, "GET", "/api/audiences", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string]any](t, rec)
	assert.Equal(t, 2.0, list["count"])

	rec = ts.do(t, "GET", "/api/audiences/roofers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, "roofers", got["name"])
	summary := got["summary"].(map[string]any)
	assert.Equal(t, 1.0, summary["total_properties"])
	assert.Len(t, got["permit_years"], 2)

	rec = ts.do(t, "GET", "/api/audiences/roofers?min_permit_year=2020", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[map[string]any](t, rec)
	assert.Equal(t, []any{map[string]any{"year": 2023.0, "count": 1.0}}, got["permit_years"])

	assert.Equal(t, http.StatusBadRequest, ts.do(t, "GET", "/api/audiences/roofers?min_permit_year=soon", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, "GET", "/api/audiences/nobody", nil).Code)

	assert.Equal(t, http.StatusNoContent, ts.do(t, "DELETE", "/api/audiences/roofers", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, "DELETE", "/api/audiences/roofers", nil).Code)

	assert.Equal(t, http.StatusNoContent, ts.do(t, "DELETE", "/api/audiences", nil).Code)
	list = decode[map[string]any](t, ts.do(t, "GET", "/api/audiences", nil))
	assert.Equal(t, 0.0, list["count"])
	assert.Equal(t, []any{}, list["audiences"])
}

func TestExportAudience(t *testing.T) {
	ts := newTestServer(t, testDataset(t), nil)
	require.NoError(t, ts.store.Save(t.Context(), store.Audience{Name: "roofers", Properties: []string{"p1", "p2"}}))

	rec := ts.do(t, "GET", "/api/audiences/roofers/export?format=csv&min_permit_year=2020", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "roofers.csv")

	lines, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, lines, 3)
	col := slices.Index(lines[0], export.ColPermitIDs)
	require.GreaterOrEqual(t, col, 0)
	assert.Equal(t, "p1", lines[1][0])
	assert.Equal(t, "B", lines[1][col])
	assert.Equal(t, "", lines[2][col], "C predates 2020 and D has no date")

	rec = ts.do(t, "GET", "/api/audiences/roofers/export?format=xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/vnd.openxmlformats"))
	assert.NotZero(t, rec.Body.Len())

	assert.Equal(t, http.StatusBadRequest, ts.do(t, "GET", "/api/audiences/roofers/export?format=pdf", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, "GET", "/api/audiences/nobody/export", nil).Code)
}

func TestExportDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Features.ExportEnabled = false
	ts := newTestServer(t, testDataset(t), cfg)
	require.NoError(t, ts.store.Save(t.Context(), store.Audience{Name: "roofers", Properties: []string{"p1"}}))

	assert.NotEqual(t, http.StatusOK, ts.do(t, "GET", "/api/audiences/roofers/export", nil).Code)
}

func TestAuthentication(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	ts := newTestServer(t, testDataset(t), cfg)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, "GET", "/api/dataset", nil).Code)

	req := httptest.NewRequest("GET", "/api/dataset", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// metrics stay public
	assert.Equal(t, http.StatusOK, ts.do(t, "GET", "/metrics", nil).Code)
}

func TestMiddleware(t *testing.T) {
	ts := newTestServer(t, testDataset(t), nil)

	rec := ts.do(t, "GET", "/api/health", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = ts.do(t, "OPTIONS", "/api/audiences/build", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `propmatch_http_requests_total{code="200",method="GET",route="/api/health"} 1`)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "web.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server": {"port": 9090}, "auth": {"enabled": true, "api_key": "k"}}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host, "unset fields keep defaults")
	assert.True(t, cfg.Auth.Enabled)
	assert.True(t, cfg.Features.ExportEnabled)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestConfigFromSettings(t *testing.T) {
	t.Setenv("WEB_AUTH_ENABLED", "true")
	t.Setenv("WEB_API_KEY", "secret")
	t.Setenv("WEB_EXPORT_ENABLED", "false")

	cfg := ConfigFromSettings(&config.Settings{WebHost: "0.0.0.0", WebPort: 8443})
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8443, cfg.Server.Port)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "secret", cfg.Auth.APIKey)
	assert.False(t, cfg.Features.ExportEnabled)
}

func TestResolveConfig(t *testing.T) {
	settings := &config.Settings{WebHost: "0.0.0.0", WebPort: 8443}

	t.Setenv("WEB_CONFIG", "")
	cfg, err := ResolveConfig(settings)
	require.NoError(t, err)
	assert.Equal(t, 8443, cfg.Server.Port)

	path := filepath.Join(t.TempDir(), "web.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server": {"port": 9090}, "features": {"export_enabled": false}}`), 0o644))
	t.Setenv("WEB_CONFIG", path)
	cfg, err = ResolveConfig(settings)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.False(t, cfg.Features.ExportEnabled)

	t.Setenv("WEB_CONFIG", filepath.Join(t.TempDir(), "missing.json"))
	_, err = ResolveConfig(settings)
	assert.Error(t, err)
}
