package dispatch

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/der-control/headend/internal/apierr"
	"github.com/der-control/headend/internal/catalogue"
	"github.com/der-control/headend/internal/domain"
	"github.com/der-control/headend/internal/journal"
	"github.com/der-control/headend/internal/observability"
	"github.com/der-control/headend/internal/simstate"
	"github.com/der-control/headend/internal/streamregistry"
)

// Request is the dispatch engine's single entry point: exactly one of
// AssetID or SiteID must be set.
type Request struct {
	AssetID   string
	SiteID    string
	MW        float64
	DurationS *float64
}

// AssetResult is one asset's outcome within a site-wide dispatch.
type AssetResult struct {
	AssetID  string
	MWRaw    float64
	Clamped  bool
	Dispatch domain.Dispatch
	Err      error
}

// Result is the outcome of Submit. Exactly one of Single or Site is set,
// matching which path Request took.
type Result struct {
	Single *domain.Dispatch
	Site   []AssetResult
}

// Engine is the C6 dispatch engine: it validates requests, runs the
// site allocator when needed, updates simulator state, persists
// accepted commands to the journal, and hands setpoints to the stream
// registry for delivery.
type Engine struct {
	cat      *catalogue.Catalogue
	state    *simstate.Store
	registry *streamregistry.Registry
	journal  journal.Journal
	newID    func() string
	metrics  *observability.Metrics
	log      *zap.Logger
}

// New constructs an Engine. journal and metrics may be nil — every
// journal call is best-effort and logged, never fatal to the control
// decision.
func New(cat *catalogue.Catalogue, state *simstate.Store, registry *streamregistry.Registry, j journal.Journal, newID func() string, metrics *observability.Metrics, log *zap.Logger) *Engine {
	return &Engine{cat: cat, state: state, registry: registry, journal: j, newID: newID, metrics: metrics, log: log}
}

// Submit validates req, routes it to the per-asset or site-fan-out
// path, and returns the outcome.
func (e *Engine) Submit(ctx context.Context, req Request) (Result, error) {
	hasAsset := req.AssetID != ""
	hasSite := req.SiteID != ""
	if hasAsset == hasSite {
		return Result{}, apierr.New(apierr.BadRequest, "exactly one of asset_id or site_id must be set")
	}
	if math.IsNaN(req.MW) {
		return Result{}, apierr.New(apierr.BadRequest, "mw must not be NaN")
	}

	if hasAsset {
		d, err := e.dispatchSingle(ctx, req.AssetID, req.MW, req.DurationS, false)
		e.observeSubmission("asset", err)
		if err != nil {
			return Result{}, err
		}
		return Result{Single: &d}, nil
	}
	result, err := e.dispatchSite(ctx, req.SiteID, req.MW, req.DurationS)
	e.observeSubmission("site", err)
	return result, err
}

// observeSubmission records a dispatch submission outcome, by request
// kind. A no-op if metrics is nil.
func (e *Engine) observeSubmission(kind string, err error) {
	if e.metrics == nil {
		return
	}
	outcome := "accepted"
	if err != nil {
		outcome = "rejected"
	}
	e.metrics.DispatchSubmittedTotal.WithLabelValues(kind, outcome).Inc()
}

// dispatchSingle is the per-asset path shared by both Request forms:
// gate via simstate, and on acceptance persist + deliver.
func (e *Engine) dispatchSingle(ctx context.Context, assetID string, mw float64, durationS *float64, clamped bool) (domain.Dispatch, error) {
	d, err := e.state.SetDispatch(simstate.DispatchRequest{
		AssetID:   assetID,
		MW:        mw,
		DurationS: durationS,
		Clamped:   clamped,
	})
	if err != nil {
		return domain.Dispatch{}, err
	}

	if e.journal != nil {
		start := time.Now()
		jerr := e.journal.AppendDispatch(ctx, d)
		e.observeJournal("dispatch", start, jerr)
		if jerr != nil {
			e.logger().Warn("journal append_dispatch failed", zap.String("dispatch_id", d.ID), zap.Error(jerr))
		}
	}

	if clamped && e.metrics != nil {
		e.metrics.SiteAllocationClampedTotal.Inc()
	}

	if serr := e.registry.SendOrPark(d); serr != nil {
		e.logger().Warn("setpoint parked, agent not reachable",
			zap.String("asset_id", assetID), zap.String("dispatch_id", d.ID), zap.Error(serr))
	}
	if e.metrics != nil {
		e.metrics.DispatchPendingGauge.Set(float64(e.registry.PendingCount()))
	}

	return d, nil
}

// observeJournal records journal write latency and, on failure, the
// failure counter, both labeled by op. A no-op if metrics is nil.
func (e *Engine) observeJournal(op string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.JournalWriteLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		e.metrics.JournalWriteFailuresTotal.WithLabelValues(op).Inc()
	}
}

// dispatchSite runs the allocator over a site's currently online assets
// and fans the resulting per-asset mw values out through dispatchSingle.
// A per-asset failure is recorded in its AssetResult, not propagated —
// the call overall succeeds if at least one sub-dispatch was accepted.
func (e *Engine) dispatchSite(ctx context.Context, siteID string, mwTotal float64, durationS *float64) (Result, error) {
	if _, ok := e.cat.SiteByID(siteID); !ok {
		return Result{}, apierr.Newf(apierr.NotFound, "site not found: %s", siteID)
	}

	onlineIDs := e.registry.OnlineAssetIDsForSite(siteID)
	if len(onlineIDs) == 0 {
		return Result{}, apierr.Newf(apierr.NoOnlineAssets, "no online assets at site %s", siteID)
	}

	assets := make([]domain.Asset, 0, len(onlineIDs))
	for _, id := range onlineIDs {
		if a, ok := e.cat.ByID(id); ok {
			assets = append(assets, a)
		}
	}
	// onlineIDs is already sorted by streamregistry.OnlineAssetIDsForSite.

	var totalCap float64
	for _, a := range assets {
		totalCap += a.CapacityMWh
	}
	if totalCap <= 0 {
		e.logger().Warn("site has zero aggregate capacity, allocating zero to all assets",
			zap.String("site_id", siteID), zap.Float64("mw_total", mwTotal))
	}

	allocations := allocate(assets, mwTotal)

	results := make([]AssetResult, 0, len(allocations))
	accepted := 0
	for _, alloc := range allocations {
		d, err := e.dispatchSingle(ctx, alloc.assetID, alloc.mw, durationS, alloc.clamped)
		if err != nil {
			e.logger().Warn("site sub-dispatch rejected",
				zap.String("site_id", siteID), zap.String("asset_id", alloc.assetID), zap.Error(err))
			results = append(results, AssetResult{AssetID: alloc.assetID, MWRaw: alloc.mwRaw, Clamped: alloc.clamped, Err: err})
			continue
		}
		accepted++
		results = append(results, AssetResult{AssetID: alloc.assetID, MWRaw: alloc.mwRaw, Clamped: alloc.clamped, Dispatch: d})
	}

	if accepted == 0 {
		return Result{Site: results}, apierr.Newf(apierr.OutOfBounds, "all sub-dispatches rejected for site %s", siteID)
	}
	return Result{Site: results}, nil
}

// ApplyAck late-binds a delivery confirmation from an agent onto the
// matching in-memory dispatch and, best-effort, the journal.
func (e *Engine) ApplyAck(ctx context.Context, assetID, dispatchID string, status domain.AckStatus, reason string, ackedAt time.Time) bool {
	applied := e.state.ApplyAck(assetID, dispatchID, status, ackedAt, reason)
	if e.journal != nil {
		start := time.Now()
		err := e.journal.UpdateDispatchAck(ctx, dispatchID, status, ackedAt, reason)
		e.observeJournal("dispatch", start, err)
		if err != nil {
			e.logger().Warn("journal update_dispatch_ack failed", zap.String("dispatch_id", dispatchID), zap.Error(err))
		}
	}
	return applied
}

func (e *Engine) logger() *zap.Logger {
	if e.log != nil {
		return e.log
	}
	return zap.NewNop()
}
