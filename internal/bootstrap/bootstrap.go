// Package bootstrap implements the C7 bootstrap responder: on agent
// reconnect (or its own restart) the headend must answer "what do you
// have right now" for a batch of assets without waiting for the next
// tick, falling back through progressively colder sources.
package bootstrap

import (
	"context"

	"go.uber.org/zap"

	"github.com/der-control/headend/internal/catalogue"
	"github.com/der-control/headend/internal/domain"
	"github.com/der-control/headend/internal/journal"
	"github.com/der-control/headend/internal/observability"
	"github.com/der-control/headend/internal/physics"
	"github.com/der-control/headend/internal/simstate"
)

// AssetBootstrap is the per-asset answer to a Bootstrap call: whatever
// telemetry and active setpoint could be assembled, from whichever
// source was freshest.
type AssetBootstrap struct {
	AssetID         string
	LatestTelemetry *domain.Telemetry
	ActiveSetpoint  *domain.Setpoint
}

// Responder answers Bootstrap requests by trying, per asset: the
// in-memory caches first, then the journal, then (for telemetry only)
// a synthetic zero-advance physics tick.
type Responder struct {
	cat     *catalogue.Catalogue
	state   *simstate.Store
	journal journal.Journal
	metrics *observability.Metrics
	log     *zap.Logger
}

// New constructs a Responder. journal and metrics may be nil; a nil
// journal skips the journal tier of the fallback chain for every asset.
func New(cat *catalogue.Catalogue, state *simstate.Store, j journal.Journal, metrics *observability.Metrics, log *zap.Logger) *Responder {
	return &Responder{cat: cat, state: state, journal: j, metrics: metrics, log: log}
}

// Bootstrap answers one AssetBootstrap per requested asset id, always —
// an id unknown to the catalogue still gets an entry, with nil
// telemetry and setpoint, so the caller can rely on a 1:1 reply shape
// for whatever it requested.
func (r *Responder) Bootstrap(ctx context.Context, assetIDs []string) []AssetBootstrap {
	if r.metrics != nil {
		r.metrics.BootstrapRequestsTotal.Inc()
	}

	out := make([]AssetBootstrap, 0, len(assetIDs))
	for _, id := range assetIDs {
		asset, ok := r.cat.ByID(id)
		if !ok {
			out = append(out, AssetBootstrap{AssetID: id})
			continue
		}
		telemetry, source := r.telemetryFor(ctx, asset)
		if r.metrics != nil {
			r.metrics.BootstrapAssetsTotal.WithLabelValues(source).Inc()
		}
		out = append(out, AssetBootstrap{
			AssetID:         id,
			LatestTelemetry: telemetry,
			ActiveSetpoint:  r.setpointFor(ctx, asset),
		})
	}
	return out
}

// telemetryFor tries, in order: in-memory latest cache, the journal's
// most-recent row, then a synthetic dt=0 physics tick of the live
// AssetState — a zero-advance snapshot that still reflects current SOC.
// The returned source names which tier satisfied the lookup.
func (r *Responder) telemetryFor(ctx context.Context, asset domain.Asset) (*domain.Telemetry, string) {
	if t, ok := r.state.LatestTelemetry(asset.ID); ok {
		return &t, "cache"
	}

	if r.journal != nil {
		if t, found, err := r.journal.LatestTelemetryByAsset(ctx, asset.ID); err != nil {
			r.logger().Warn("bootstrap journal telemetry lookup failed", zap.String("asset_id", asset.ID), zap.Error(err))
		} else if found {
			return &t, "journal"
		}
	}

	state, ok := r.state.State(asset.ID)
	if !ok {
		return nil, "synthetic"
	}
	_, snapshot := physics.Tick(asset, state, 0)
	return &snapshot, "synthetic"
}

// setpointFor tries, in order: in-memory last Dispatch, the journal's
// most-recent dispatch, then a non-zero live setpoint in AssetState
// (with an unknown, empty dispatch id). Returns nil if setpoint_mw is
// zero in live state and no dispatch record exists anywhere.
func (r *Responder) setpointFor(ctx context.Context, asset domain.Asset) *domain.Setpoint {
	if d, ok := r.state.LastDispatch(asset.ID); ok {
		sp := setpointFromDispatch(d)
		return &sp
	}

	if r.journal != nil {
		if d, found, err := r.journal.LatestDispatchByAsset(ctx, asset.ID); err != nil {
			r.logger().Warn("bootstrap journal dispatch lookup failed", zap.String("asset_id", asset.ID), zap.Error(err))
		} else if found {
			sp := setpointFromDispatch(d)
			return &sp
		}
	}

	state, ok := r.state.State(asset.ID)
	if !ok || state.SetpointMW == 0 {
		return nil
	}
	return &domain.Setpoint{AssetID: asset.ID, MW: state.SetpointMW, SiteID: asset.SiteID}
}

func setpointFromDispatch(d domain.Dispatch) domain.Setpoint {
	return domain.Setpoint{
		AssetID:    d.AssetID,
		MW:         d.MW,
		DurationS:  d.DurationS,
		DispatchID: d.ID,
	}
}

func (r *Responder) logger() *zap.Logger {
	if r.log != nil {
		return r.log
	}
	return zap.NewNop()
}
