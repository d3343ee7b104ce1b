// Package journal defines the narrow append/query interface the core
// consumes from its persistence collaborator. The core remains correct
// if no Journal is wired in at all (every call site treats it as
// optional); a concrete adapter lives in internal/journal/boltjournal.
package journal

import (
	"context"
	"time"

	"github.com/der-control/headend/internal/domain"
)

// Journal is the append-only sink plus late-binding query surface used
// by the ingest pipeline (which also appends the SOC event detector's
// events), dispatch engine, bootstrap responder, and operator API. Every write is best-effort for control decisions but
// authoritative for history — callers log and continue on error rather
// than failing the in-memory operation.
type Journal interface {
	AppendTelemetry(ctx context.Context, t domain.Telemetry) error
	AppendDispatch(ctx context.Context, d domain.Dispatch) error
	UpdateDispatchAck(ctx context.Context, dispatchID string, status domain.AckStatus, ackedAt time.Time, reason string) error
	AppendHeartbeat(ctx context.Context, assetID string, ts time.Time) error
	AppendEvent(ctx context.Context, e domain.Event) error

	// AppendSessionOpen records a new connection for assetID. Idempotent:
	// it first closes any still-open session for the same asset.
	AppendSessionOpen(ctx context.Context, s domain.AgentSession) error
	// CloseOpenSession closes assetID's open session, if any. A no-op,
	// not an error, if there is no open session.
	CloseOpenSession(ctx context.Context, assetID string, disconnectedAt time.Time) error

	LatestTelemetryByAsset(ctx context.Context, assetID string) (domain.Telemetry, bool, error)
	LatestDispatchByAsset(ctx context.Context, assetID string) (domain.Dispatch, bool, error)
	// LatestTelemetryAll returns the most recent row per asset, for
	// startup hydration.
	LatestTelemetryAll(ctx context.Context) ([]domain.Telemetry, error)

	TelemetryHistory(ctx context.Context, assetID string, start, end time.Time) ([]domain.Telemetry, error)
	DispatchHistory(ctx context.Context, limit int) ([]domain.Dispatch, error)
	EventHistory(ctx context.Context, assetID string, limit int) ([]domain.Event, error)
	LatestHeartbeat(ctx context.Context, assetID string) (time.Time, bool, error)
	HeartbeatHistory(ctx context.Context, assetID string, limit int) ([]time.Time, error)

	Close() error
}
