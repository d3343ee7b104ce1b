// Package operatorapi is the C10 operator-facing HTTP/JSON surface:
// asset/site/agent listings, telemetry and dispatch submission and
// history, event submission and history, heartbeat queries, and a
// health check. It never talks to a transport-specific agent stream
// directly — every mutation goes through appstate's Ingest/Dispatch
// collaborators, the same ones the gRPC agent link uses.
package operatorapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/der-control/headend/internal/apierr"
	"github.com/der-control/headend/internal/appstate"
	"github.com/der-control/headend/internal/dispatch"
	"github.com/der-control/headend/internal/domain"
	"github.com/der-control/headend/internal/ratelimit"
)

const defaultHistoryLimit = 500

// Server is the operator HTTP/JSON API.
type Server struct {
	app       *appstate.AppState
	rateLimit *ratelimit.Keyed
	log       *zap.Logger
}

// NewServer constructs a Server. rateLimit may be nil to disable
// per-site dispatch throttling entirely.
func NewServer(app *appstate.AppState, rateLimit *ratelimit.Keyed) *Server {
	return &Server{app: app, rateLimit: rateLimit, log: app.Log}
}

// Handler builds the routed http.Handler for the operator API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /assets", s.listAssets)
	mux.HandleFunc("GET /assets/{id}", s.getAsset)
	mux.HandleFunc("GET /sites", s.listSites)
	mux.HandleFunc("GET /agents", s.listAgents)

	mux.HandleFunc("GET /telemetry/{id}", s.getLatestTelemetry)
	mux.HandleFunc("GET /telemetry/{id}/history", s.getTelemetryHistory)
	mux.HandleFunc("POST /telemetry", s.postTelemetry)

	mux.HandleFunc("POST /dispatch", s.postDispatch)
	mux.HandleFunc("GET /dispatch/history", s.getDispatchHistory)

	mux.HandleFunc("POST /events", s.postEvent)
	mux.HandleFunc("GET /events/{id}/history", s.getEventHistory)

	mux.HandleFunc("GET /heartbeat/{id}", s.getLatestHeartbeat)
	mux.HandleFunc("GET /heartbeat/{id}/history", s.getHeartbeatHistory)

	mux.HandleFunc("GET /health", s.health)

	if s.app.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.app.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	return mux
}

// ── Assets / sites / agents ────────────────────────────────────────────────

func (s *Server) listAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Catalogue.ListAll())
}

func (s *Server) getAsset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	asset, ok := s.app.Catalogue.ByID(id)
	if !ok {
		writeErr(w, apierr.Newf(apierr.NotFound, "asset not found: %s", id))
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (s *Server) listSites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Catalogue.Sites())
}

// agentView is one row of the /agents listing: catalogue metadata
// merged with live connection state, per SPEC_FULL.md's "Supplemented
// features" §1 (the original's list_assets/list_agents merge).
type agentView struct {
	AssetID     string     `json:"asset_id"`
	AssetName   string     `json:"asset_name"`
	SiteID      string     `json:"site_id"`
	SiteName    string     `json:"site_name"`
	Connected   bool       `json:"connected"`
	Peer        string     `json:"peer,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	live := s.app.Registry.ListAll()

	assets := s.app.Catalogue.ListAll()
	out := make([]agentView, 0, len(assets))
	for _, a := range assets {
		v := agentView{AssetID: a.ID, AssetName: a.Name, SiteID: a.SiteID, SiteName: a.SiteName}
		if stream, ok := live[a.ID]; ok {
			v.Connected = true
			v.Peer = stream.Peer
			ts := stream.ConnectedAt
			v.ConnectedAt = &ts
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	writeJSON(w, http.StatusOK, out)
}

// ── Telemetry ───────────────────────────────────────────────────────────────

func (s *Server) getLatestTelemetry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.app.Catalogue.ByID(id); !ok {
		writeErr(w, apierr.Newf(apierr.NotFound, "asset not found: %s", id))
		return
	}
	if t, ok := s.app.Sim.LatestTelemetry(id); ok {
		writeJSON(w, http.StatusOK, t)
		return
	}
	if s.app.Journal != nil {
		if t, found, err := s.app.Journal.LatestTelemetryByAsset(r.Context(), id); err == nil && found {
			writeJSON(w, http.StatusOK, t)
			return
		}
	}
	writeErr(w, apierr.Newf(apierr.NotFound, "no telemetry recorded for asset: %s", id))
}

func (s *Server) getTelemetryHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.app.Journal == nil {
		writeErr(w, apierr.New(apierr.JournalUnavailable, "no journal configured"))
		return
	}
	start, end, err := parseRange(r)
	if err != nil {
		writeErr(w, apierr.Wrap(apierr.BadRequest, "invalid start/end", err))
		return
	}
	rows, err := s.app.Journal.TelemetryHistory(r.Context(), id, start, end)
	if err != nil {
		writeErr(w, apierr.Wrap(apierr.JournalUnavailable, "telemetry history query failed", err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// telemetryRequest is the POST /telemetry body for non-streaming
// producers (spec.md §4.10): the same fields an agent's Telemetry
// frame carries.
type telemetryRequest struct {
	AssetID    string  `json:"asset_id"`
	SOCMWh     float64 `json:"soc_mwhr"`
	CurrentMW  float64 `json:"current_mw"`
	SetpointMW float64 `json:"setpoint_mw"`
	Status     string  `json:"status"`
}

func (s *Server) postTelemetry(w http.ResponseWriter, r *http.Request) {
	var req telemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apierr.Wrap(apierr.BadRequest, "invalid telemetry body", err))
		return
	}
	asset, ok := s.app.Catalogue.ByID(req.AssetID)
	if !ok {
		writeErr(w, apierr.Newf(apierr.NotFound, "asset not found: %s", req.AssetID))
		return
	}
	socPct := 0.0
	if asset.CapacityMWh > 0 {
		socPct = req.SOCMWh / asset.CapacityMWh * 100
	}
	t := domain.Telemetry{
		AssetID: asset.ID, SiteID: asset.SiteID, SiteName: asset.SiteName,
		Timestamp: time.Now().UTC(), SOCMWh: req.SOCMWh, SOCPct: socPct,
		CapacityMWh: asset.CapacityMWh, CurrentMW: req.CurrentMW, SetpointMW: req.SetpointMW,
		MaxMW: asset.MaxMW, MinMW: asset.MinMW, Status: domain.Status(req.Status),
	}
	s.app.Ingest.HandleTelemetry(r.Context(), t)
	writeJSON(w, http.StatusOK, t)
}

// ── Dispatch ──────────────────────────────────────────────────────────────

type dispatchRequest struct {
	AssetID   string   `json:"asset_id,omitempty"`
	SiteID    string   `json:"site_id,omitempty"`
	MW        float64  `json:"mw"`
	DurationS *float64 `json:"duration_s,omitempty"`
}

type siteAllocationView struct {
	AssetID string  `json:"asset_id"`
	MWRaw   float64 `json:"mw_raw"`
	MW      float64 `json:"mw"`
	Clamped bool    `json:"clamped"`
}

type siteDispatchResponse struct {
	Allocations []siteAllocationView `json:"allocations"`
	Dispatches  []domain.Dispatch    `json:"dispatches"`
}

func (s *Server) postDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apierr.Wrap(apierr.BadRequest, "invalid dispatch body", err))
		return
	}

	rateLimitKey := req.SiteID
	if rateLimitKey == "" {
		if a, ok := s.app.Catalogue.ByID(req.AssetID); ok {
			rateLimitKey = a.SiteID
		}
	}
	if s.rateLimit != nil && rateLimitKey != "" && !s.rateLimit.Allow(rateLimitKey) {
		writeErr(w, apierr.Newf(apierr.BadRequest, "dispatch rate limit exceeded for site %s", rateLimitKey))
		return
	}

	result, err := s.app.Dispatch.Submit(r.Context(), dispatch.Request{
		AssetID: req.AssetID, SiteID: req.SiteID, MW: req.MW, DurationS: req.DurationS,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	if result.Single != nil {
		writeJSON(w, http.StatusOK, *result.Single)
		return
	}

	resp := siteDispatchResponse{
		Allocations: make([]siteAllocationView, 0, len(result.Site)),
		Dispatches:  make([]domain.Dispatch, 0, len(result.Site)),
	}
	for _, ar := range result.Site {
		resp.Allocations = append(resp.Allocations, siteAllocationView{
			AssetID: ar.AssetID, MWRaw: ar.MWRaw, MW: ar.Dispatch.MW, Clamped: ar.Clamped,
		})
		if ar.Err == nil {
			resp.Dispatches = append(resp.Dispatches, ar.Dispatch)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getDispatchHistory(w http.ResponseWriter, r *http.Request) {
	if s.app.Journal == nil {
		writeErr(w, apierr.New(apierr.JournalUnavailable, "no journal configured"))
		return
	}
	limit := parseLimit(r, defaultHistoryLimit)
	rows, err := s.app.Journal.DispatchHistory(r.Context(), limit)
	if err != nil {
		writeErr(w, apierr.Wrap(apierr.JournalUnavailable, "dispatch history query failed", err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// ── Events ──────────────────────────────────────────────────────────────────

type eventRequest struct {
	AssetID   string `json:"asset_id"`
	EventType string `json:"event_type"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
}

func (s *Server) postEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apierr.Wrap(apierr.BadRequest, "invalid event body", err))
		return
	}
	asset, ok := s.app.Catalogue.ByID(req.AssetID)
	if !ok {
		writeErr(w, apierr.Newf(apierr.NotFound, "asset not found: %s", req.AssetID))
		return
	}
	e := domain.Event{
		ID: newEventID(), AssetID: asset.ID, SiteID: asset.SiteID, Timestamp: time.Now().UTC(),
		EventType: req.EventType, Severity: domain.Severity(req.Severity), Message: req.Message,
	}
	s.app.Ingest.HandleEvent(r.Context(), e)
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) getEventHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.app.Journal == nil {
		writeErr(w, apierr.New(apierr.JournalUnavailable, "no journal configured"))
		return
	}
	limit := parseLimit(r, defaultHistoryLimit)
	rows, err := s.app.Journal.EventHistory(r.Context(), id, limit)
	if err != nil {
		writeErr(w, apierr.Wrap(apierr.JournalUnavailable, "event history query failed", err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// ── Heartbeat ────────────────────────────────────────────────────────────────

func (s *Server) getLatestHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.app.Journal == nil {
		writeErr(w, apierr.New(apierr.JournalUnavailable, "no journal configured"))
		return
	}
	ts, found, err := s.app.Journal.LatestHeartbeat(r.Context(), id)
	if err != nil {
		writeErr(w, apierr.Wrap(apierr.JournalUnavailable, "heartbeat query failed", err))
		return
	}
	if !found {
		writeErr(w, apierr.Newf(apierr.NotFound, "no heartbeat recorded for asset: %s", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]time.Time{"timestamp": ts})
}

func (s *Server) getHeartbeatHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.app.Journal == nil {
		writeErr(w, apierr.New(apierr.JournalUnavailable, "no journal configured"))
		return
	}
	limit := parseLimit(r, defaultHistoryLimit)
	rows, err := s.app.Journal.HeartbeatHistory(r.Context(), id, limit)
	if err != nil {
		writeErr(w, apierr.Wrap(apierr.JournalUnavailable, "heartbeat history query failed", err))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// ── Health ───────────────────────────────────────────────────────────────────

type healthResponse struct {
	Status          string `json:"status"`
	JournalDegraded bool   `json:"journal_degraded"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.app.Journal == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if _, err := s.app.Journal.DispatchHistory(r.Context(), 1); err != nil {
		resp.Status = "degraded"
		resp.JournalDegraded = true
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func parseRange(r *http.Request) (start, end time.Time, err error) {
	q := r.URL.Query()
	end = time.Now().UTC()
	start = end.Add(-24 * time.Hour)

	if raw := q.Get("start"); raw != "" {
		start, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if raw := q.Get("end"); raw != "" {
		end, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return start, end, nil
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeErr(w http.ResponseWriter, err error) {
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		apiErr = apierr.Wrap(apierr.Internal, "internal error", err)
	}
	writeJSON(w, apiErr.HTTPStatus(), errorResponse{Error: apiErr.Error(), Kind: string(apiErr.Kind)})
}

// newEventID mints ids for operator-submitted events. Agent-originated
// events get uuid.NewString ids through appstate's event detector
// constructor, but operator-submitted events (not agent-originated) mint their own id here since
// they never pass through socevent.Detector.
var newEventID = func() string {
	return time.Now().UTC().Format("20060102T150405.000000000Z")
}
