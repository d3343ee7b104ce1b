package operatorapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/der-control/headend/internal/appstate"
	"github.com/der-control/headend/internal/catalogue"
	"github.com/der-control/headend/internal/domain"
	"github.com/der-control/headend/internal/observability"
	"github.com/der-control/headend/internal/ratelimit"
)

const assetA = "11111111-1111-1111-1111-111111111111"

func writeCat(t *testing.T) *catalogue.Catalogue {
	t.Helper()
	path := t.TempDir() + "/cat.yaml"
	content := `
sites:
  - id: site-a
    name: Site A
assets:
  - id: ` + assetA + `
    name: Battery A
    site_id: site-a
    capacity_mwhr: 100
    min_mw: -40
    max_mw: 40
    min_soc_pct: 10
    max_soc_pct: 90
    efficiency: 0.95
    ramp_rate_mw_per_min: 1000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	cat, err := catalogue.Load(path)
	require.NoError(t, err)
	return cat
}

func newTestServer(t *testing.T) (*Server, *appstate.AppState) {
	cat := writeCat(t)
	app := appstate.New(cat, nil, observability.New(), zap.NewNop())
	srv := NewServer(app, ratelimit.NewKeyed(5, time.Minute))
	return srv, app
}

func TestListAssets(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/assets", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var assets []domain.Asset
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &assets))
	require.Len(t, assets, 1)
	require.Equal(t, assetA, assets[0].ID)
}

func TestGetAssetNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/assets/does-not-exist", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "not_found", body.Kind)
}

func TestPostTelemetryThenGetLatest(t *testing.T) {
	srv, _ := newTestServer(t)

	payload := telemetryRequest{AssetID: assetA, SOCMWh: 50, CurrentMW: 5, SetpointMW: 5, Status: "charging"}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	postReq := httptest.NewRequest(http.MethodPost, "/telemetry", bytes.NewReader(body))
	postRR := httptest.NewRecorder()
	srv.Handler().ServeHTTP(postRR, postReq)
	require.Equal(t, http.StatusOK, postRR.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/telemetry/"+assetA, nil)
	getRR := httptest.NewRecorder()
	srv.Handler().ServeHTTP(getRR, getReq)
	require.Equal(t, http.StatusOK, getRR.Code)

	var tel domain.Telemetry
	require.NoError(t, json.Unmarshal(getRR.Body.Bytes(), &tel))
	require.Equal(t, 50.0, tel.SOCMWh)
}

func TestGetLatestTelemetryNotFoundBeforeAnyReport(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/telemetry/"+assetA, nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPostDispatchSingleAsset(t *testing.T) {
	srv, _ := newTestServer(t)

	payload := dispatchRequest{AssetID: assetA, MW: 10}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/dispatch", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var d domain.Dispatch
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &d))
	require.Equal(t, domain.DispatchAccepted, d.Status)
	require.Equal(t, 10.0, d.MW)
}

func TestPostDispatchRejectsBadBody(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/dispatch", bytes.NewReader([]byte("not json")))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPostDispatchHonorsRateLimit(t *testing.T) {
	cat := writeCat(t)
	app := appstate.New(cat, nil, observability.New(), zap.NewNop())
	srv := NewServer(app, ratelimit.NewKeyed(1, time.Minute))

	payload, err := json.Marshal(dispatchRequest{AssetID: assetA, MW: 1})
	require.NoError(t, err)

	first := httptest.NewRequest(http.MethodPost, "/dispatch", bytes.NewReader(payload))
	firstRR := httptest.NewRecorder()
	srv.Handler().ServeHTTP(firstRR, first)
	require.Equal(t, http.StatusOK, firstRR.Code)

	second := httptest.NewRequest(http.MethodPost, "/dispatch", bytes.NewReader(payload))
	secondRR := httptest.NewRecorder()
	srv.Handler().ServeHTTP(secondRR, second)
	require.Equal(t, http.StatusBadRequest, secondRR.Code)
}

func TestListAgentsMergesCatalogueAndLiveState(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/agents", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var agents []agentView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &agents))
	require.Len(t, agents, 1)
	require.Equal(t, assetA, agents[0].AssetID)
	require.False(t, agents[0].Connected)
}

func TestHealthWithoutJournalIsOK(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestTelemetryHistoryWithoutJournalIsUnavailable(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/telemetry/"+assetA+"/history", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
