// Package simstate holds the single mutable source of truth for every
// asset's live power state: state_by_asset, last_dispatch_by_asset, and
// the last-observed telemetry cache used for bootstrap lookups. The SOC
// gate in SetDispatch reads the live AssetState only; it takes no SOC
// override and does not consult the telemetry cache. Exactly one writer touches a given asset's state at a time;
// readers take a snapshot under a read lock.
package simstate

import (
	"sync"
	"time"

	"github.com/der-control/headend/internal/apierr"
	"github.com/der-control/headend/internal/catalogue"
	"github.com/der-control/headend/internal/domain"
)

const boundaryEpsilonMWh = 1e-6

// DispatchRequest is the input to SetDispatch.
type DispatchRequest struct {
	AssetID   string
	MW        float64
	DurationS *float64
	Clamped   bool

	// NewDispatchID lets callers pre-allocate an id; if empty,
	// SetDispatch mints one itself.
	NewDispatchID string
}

// Store is the simulator's state: per-asset AssetState, the last
// accepted Dispatch, and the last-observed Telemetry (populated by the
// ingest pipeline or by startup hydration, never pre-seeded).
type Store struct {
	mu sync.RWMutex

	cat *catalogue.Catalogue

	states       map[string]domain.AssetState
	lastDispatch map[string]domain.Dispatch
	latest       map[string]domain.Telemetry

	newID func() string
}

// New constructs a Store with every catalogue asset seeded at its
// midpoint SOC, zero current/setpoint. newID mints dispatch ids; pass
// uuid.NewString in production code.
func New(cat *catalogue.Catalogue, newID func() string) *Store {
	states := make(map[string]domain.AssetState)
	for _, a := range cat.ListAll() {
		states[a.ID] = domain.AssetState{SOCMWh: a.InitialSOCMWh()}
	}
	return &Store{
		cat:          cat,
		states:       states,
		lastDispatch: make(map[string]domain.Dispatch),
		latest:       make(map[string]domain.Telemetry),
		newID:        newID,
	}
}

// State returns a snapshot of one asset's live state.
func (s *Store) State(assetID string) (domain.AssetState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[assetID]
	return st, ok
}

// Hydrate reclamps externally-sourced telemetry (typically the journal's
// most-recent row per asset, read at startup) into the live state, and
// records it in the latest-telemetry cache. Used only before the first
// connection is accepted, but safe to call at any time.
func (s *Store) Hydrate(assetID string, t domain.Telemetry) bool {
	asset, ok := s.cat.ByID(assetID)
	if !ok {
		return false
	}

	minSOC, maxSOC := asset.SOCBoundsMWh()
	soc := t.SOCMWh
	if soc < minSOC {
		soc = minSOC
	}
	if soc > maxSOC {
		soc = maxSOC
	}
	current := t.CurrentMW
	if current < asset.MinMW {
		current = asset.MinMW
	}
	if current > asset.MaxMW {
		current = asset.MaxMW
	}

	s.mu.Lock()
	s.states[assetID] = domain.AssetState{SOCMWh: soc, CurrentMW: current, SetpointMW: t.SetpointMW}
	s.latest[assetID] = t
	s.mu.Unlock()
	return true
}

// SetLatestTelemetry records an observation as the authoritative
// in-memory "latest" value for its asset. Last-writer-wins by arrival.
func (s *Store) SetLatestTelemetry(t domain.Telemetry) {
	s.mu.Lock()
	s.latest[t.AssetID] = t
	s.mu.Unlock()
}

// LatestTelemetry returns the most recently observed telemetry for an
// asset, if any has been recorded since process start (or hydration).
func (s *Store) LatestTelemetry(assetID string) (domain.Telemetry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.latest[assetID]
	return t, ok
}

// LastDispatch returns the most recently accepted Dispatch for an asset,
// if one has been accepted since process start.
func (s *Store) LastDispatch(assetID string) (domain.Dispatch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.lastDispatch[assetID]
	return d, ok
}

// SetDispatch validates and applies a dispatch request against one
// asset's live state: SOC gate, then limit gate, then commit.
func (s *Store) SetDispatch(req DispatchRequest) (domain.Dispatch, error) {
	asset, ok := s.cat.ByID(req.AssetID)
	if !ok {
		return domain.Dispatch{}, apierr.Newf(apierr.NotFound, "asset not found: %s", req.AssetID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.states[req.AssetID]
	minSOC, maxSOC := asset.SOCBoundsMWh()

	if req.MW > 0 && state.SOCMWh <= minSOC+boundaryEpsilonMWh {
		return domain.Dispatch{}, apierr.Newf(apierr.AtMinSoc, "asset %s is at min SOC", req.AssetID)
	}
	if req.MW < 0 && state.SOCMWh >= maxSOC-boundaryEpsilonMWh {
		return domain.Dispatch{}, apierr.Newf(apierr.AtMaxSoc, "asset %s is at max SOC", req.AssetID)
	}
	if req.MW > asset.MaxMW || req.MW < asset.MinMW {
		return domain.Dispatch{}, apierr.Newf(apierr.OutOfBounds, "mw %g outside [%g, %g] for asset %s",
			req.MW, asset.MinMW, asset.MaxMW, req.AssetID)
	}

	state.SetpointMW = req.MW
	s.states[req.AssetID] = state

	id := req.NewDispatchID
	if id == "" {
		id = s.newID()
	}
	d := domain.Dispatch{
		ID:          id,
		AssetID:     req.AssetID,
		MW:          req.MW,
		DurationS:   req.DurationS,
		Status:      domain.DispatchAccepted,
		SubmittedAt: time.Now().UTC(),
		Clamped:     req.Clamped,
	}
	s.lastDispatch[req.AssetID] = d
	return d, nil
}

// ApplyAck late-binds a delivery confirmation onto the matching
// in-memory dispatch, if it is still the asset's last dispatch.
func (s *Store) ApplyAck(assetID, dispatchID string, status domain.AckStatus, ackedAt time.Time, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.lastDispatch[assetID]
	if !ok || d.ID != dispatchID {
		return false
	}
	d.AckStatus = &status
	d.AckedAt = &ackedAt
	d.AckReason = reason
	s.lastDispatch[assetID] = d
	return true
}
