// Package appstate assembles the single AppState value the design notes
// (spec.md §9) call for: every control-plane collaborator constructed
// once at startup and handed to the transport layer, with no ambient
// singletons anywhere in the package graph.
package appstate

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/der-control/headend/internal/bootstrap"
	"github.com/der-control/headend/internal/catalogue"
	"github.com/der-control/headend/internal/dispatch"
	"github.com/der-control/headend/internal/ingest"
	"github.com/der-control/headend/internal/journal"
	"github.com/der-control/headend/internal/observability"
	"github.com/der-control/headend/internal/simstate"
	"github.com/der-control/headend/internal/socevent"
	"github.com/der-control/headend/internal/streamregistry"
)

// AppState is the headend's complete in-memory state and the
// collaborators built on top of it: the simulator store, the stream
// registry, the ingest pipeline, the dispatch engine, and the bootstrap
// responder. The journal is optional throughout.
type AppState struct {
	Catalogue *catalogue.Catalogue
	Sim       *simstate.Store
	Registry  *streamregistry.Registry
	Detector  *socevent.Detector
	Journal   journal.Journal // may be nil

	Ingest    *ingest.Pipeline
	Dispatch  *dispatch.Engine
	Bootstrap *bootstrap.Responder

	Metrics *observability.Metrics
	Log     *zap.Logger
}

// New wires every collaborator against cat and (optionally) j. Pass a
// nil journal to run the control plane without persistence — every
// dependent component already treats that as a supported configuration.
func New(cat *catalogue.Catalogue, j journal.Journal, metrics *observability.Metrics, log *zap.Logger) *AppState {
	sim := simstate.New(cat, uuid.NewString)
	registry := streamregistry.New()
	detector := socevent.New(uuid.NewString)

	return &AppState{
		Catalogue: cat,
		Sim:       sim,
		Registry:  registry,
		Detector:  detector,
		Journal:   j,

		Ingest:    ingest.New(cat, sim, registry, j, detector, metrics, log),
		Dispatch:  dispatch.New(cat, sim, registry, j, uuid.NewString, metrics, log),
		Bootstrap: bootstrap.New(cat, sim, j, metrics, log),

		Metrics: metrics,
		Log:     log,
	}
}

// Hydrate rehydrates simulator state from the journal's most-recent
// telemetry row per asset, for continuity across a headend restart. A
// nil journal or an empty result is not an error — freshly seeded
// midpoint state is an acceptable cold start (spec.md §4.3).
func (a *AppState) Hydrate(ctx context.Context) (int, error) {
	if a.Journal == nil {
		return 0, nil
	}
	rows, err := a.Journal.LatestTelemetryAll(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range rows {
		if a.Sim.Hydrate(t.AssetID, t) {
			n++
		}
	}
	return n, nil
}
