// Package ingest implements the C5 per-connection receive pipeline: it
// decodes the inbound frame variants a transport has already parsed off
// the wire and fans them out to simulator state, the journal, and the
// SOC event detector. It is transport-agnostic — callers own the
// connection's recv loop and call one Handle* method per frame.
package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/der-control/headend/internal/catalogue"
	"github.com/der-control/headend/internal/domain"
	"github.com/der-control/headend/internal/journal"
	"github.com/der-control/headend/internal/observability"
	"github.com/der-control/headend/internal/simstate"
	"github.com/der-control/headend/internal/socevent"
	"github.com/der-control/headend/internal/streamregistry"
)

// AssetDescriptor is one entry of a Register frame's asset list.
type AssetDescriptor struct {
	AssetID   string
	AssetName string
}

// Connection tracks the asset ids a single transport connection has
// registered, so a disconnect can unwind all of them. It belongs to
// exactly one receive task and needs no internal locking.
type Connection struct {
	Peer             string
	registeredAssets []string
}

// NewConnection starts bookkeeping for a freshly accepted connection.
func NewConnection(peer string) *Connection {
	return &Connection{Peer: peer}
}

// Pipeline is the C5 ingest pipeline.
type Pipeline struct {
	cat      *catalogue.Catalogue
	state    *simstate.Store
	registry *streamregistry.Registry
	journal  journal.Journal
	detector *socevent.Detector
	metrics  *observability.Metrics
	log      *zap.Logger
}

// New constructs a Pipeline. journal and metrics may be nil.
func New(cat *catalogue.Catalogue, state *simstate.Store, registry *streamregistry.Registry, j journal.Journal, detector *socevent.Detector, metrics *observability.Metrics, log *zap.Logger) *Pipeline {
	return &Pipeline{cat: cat, state: state, registry: registry, journal: j, detector: detector, metrics: metrics, log: log}
}

// HandleRegister registers every valid, catalogued asset in descriptors
// against conn's connection, returning the freshly created streams so
// the transport layer can fan their outbound mailboxes into its write
// loop. Invalid ids (not a UUID, or not in the catalogue) are skipped
// with a warning; a partially-valid Register frame still registers the
// assets that do validate.
func (p *Pipeline) HandleRegister(ctx context.Context, conn *Connection, descriptors []AssetDescriptor) []*streamregistry.AgentStream {
	streams := make([]*streamregistry.AgentStream, 0, len(descriptors))

	for _, desc := range descriptors {
		if _, err := uuid.Parse(desc.AssetID); err != nil {
			p.logger().Warn("register: asset id is not a valid UUID, skipping",
				zap.String("peer", conn.Peer), zap.String("asset_id", desc.AssetID))
			continue
		}
		asset, ok := p.cat.ByID(desc.AssetID)
		if !ok {
			p.logger().Warn("register: unknown asset id, skipping",
				zap.String("peer", conn.Peer), zap.String("asset_id", desc.AssetID))
			continue
		}

		stream := streamregistry.NewAgentStream(conn.Peer, asset.Name, asset.SiteName, asset.SiteID)
		prev, _ := p.registry.Register(asset.ID, stream)
		if prev != nil {
			p.logger().Info("register: replaced an existing connection for asset",
				zap.String("asset_id", asset.ID), zap.String("prior_peer", prev.Peer), zap.String("peer", conn.Peer))
		}

		connectedAt := time.Now().UTC()
		p.logger().Info("agent connected", zap.String("asset_id", asset.ID), zap.String("peer", conn.Peer))
		if p.journal != nil {
			session := domain.AgentSession{
				AssetID: asset.ID, Peer: conn.Peer, AssetName: asset.Name,
				SiteName: asset.SiteName, ConnectedAt: connectedAt,
			}
			start := time.Now()
			err := p.journal.AppendSessionOpen(ctx, session)
			p.observeJournal("session", start, err)
			if err != nil {
				p.logger().Warn("journal append_session_open failed", zap.String("asset_id", asset.ID), zap.Error(err))
			}
		}

		conn.registeredAssets = append(conn.registeredAssets, asset.ID)
		streams = append(streams, stream)

		if p.metrics != nil {
			p.metrics.RegistrationsTotal.Inc()
			p.metrics.ConnectedAgents.Set(float64(p.registry.Len()))
		}
	}

	return streams
}

// HandleTelemetry implements the Telemetry variant: update the
// in-memory latest cache, append to the journal, and run the SOC event
// detector. Journal and detector failures are logged, never returned —
// the in-memory cache is already authoritative for this observation.
func (p *Pipeline) HandleTelemetry(ctx context.Context, t domain.Telemetry) (domain.Event, bool) {
	p.state.SetLatestTelemetry(t)
	if p.metrics != nil {
		p.metrics.TelemetryReceivedTotal.Inc()
	}

	if p.journal != nil {
		start := time.Now()
		err := p.journal.AppendTelemetry(ctx, t)
		p.observeJournal("telemetry", start, err)
		if err != nil {
			p.logger().Warn("journal append_telemetry failed", zap.String("asset_id", t.AssetID), zap.Error(err))
		}
	}

	asset, ok := p.cat.ByID(t.AssetID)
	if !ok {
		return domain.Event{}, false
	}
	ev, emitted := p.detector.Observe(asset, t)
	if emitted {
		if p.metrics != nil {
			p.metrics.SOCEventsEmittedTotal.WithLabelValues(ev.EventType).Inc()
		}
		if p.journal != nil {
			start := time.Now()
			err := p.journal.AppendEvent(ctx, ev)
			p.observeJournal("event", start, err)
			if err != nil {
				p.logger().Warn("journal append_event failed", zap.String("asset_id", t.AssetID), zap.Error(err))
			}
		}
	}
	return ev, emitted
}

// HandleHeartbeat implements the Heartbeat variant.
func (p *Pipeline) HandleHeartbeat(ctx context.Context, assetID string, ts time.Time) {
	if p.metrics != nil {
		p.metrics.HeartbeatsReceivedTotal.Inc()
	}
	if p.journal == nil {
		return
	}
	start := time.Now()
	err := p.journal.AppendHeartbeat(ctx, assetID, ts)
	p.observeJournal("heartbeat", start, err)
	if err != nil {
		p.logger().Warn("journal append_heartbeat failed", zap.String("asset_id", assetID), zap.Error(err))
	}
}

// HandleDispatchAck implements the DispatchAck variant: late-bind the
// ack onto the matching in-memory dispatch and, best-effort, the
// journal.
func (p *Pipeline) HandleDispatchAck(ctx context.Context, assetID, dispatchID string, status domain.AckStatus, ackedAt time.Time, reason string) {
	if !p.state.ApplyAck(assetID, dispatchID, status, ackedAt, reason) {
		p.logger().Warn("dispatch ack did not match the asset's current dispatch",
			zap.String("asset_id", assetID), zap.String("dispatch_id", dispatchID))
	}
	if p.metrics != nil {
		p.metrics.DispatchAcksReceivedTotal.WithLabelValues(string(status)).Inc()
	}
	if p.journal != nil {
		start := time.Now()
		err := p.journal.UpdateDispatchAck(ctx, dispatchID, status, ackedAt, reason)
		p.observeJournal("dispatch", start, err)
		if err != nil {
			p.logger().Warn("journal update_dispatch_ack failed", zap.String("dispatch_id", dispatchID), zap.Error(err))
		}
	}
}

// HandleEvent implements the Event variant: an agent-originated event,
// appended verbatim.
func (p *Pipeline) HandleEvent(ctx context.Context, e domain.Event) {
	if p.journal == nil {
		return
	}
	start := time.Now()
	err := p.journal.AppendEvent(ctx, e)
	p.observeJournal("event", start, err)
	if err != nil {
		p.logger().Warn("journal append_event failed", zap.String("asset_id", e.AssetID), zap.Error(err))
	}
}

// HandleDisconnect unwinds every asset conn registered: deregister its
// stream, close its AgentSession, and log.
func (p *Pipeline) HandleDisconnect(ctx context.Context, conn *Connection) {
	disconnectedAt := time.Now().UTC()
	for _, assetID := range conn.registeredAssets {
		p.registry.Deregister(assetID)
		p.logger().Info("agent disconnected", zap.String("asset_id", assetID), zap.String("peer", conn.Peer))
		if p.metrics != nil {
			p.metrics.DisconnectsTotal.Inc()
			p.metrics.ConnectedAgents.Set(float64(p.registry.Len()))
		}
		if p.journal != nil {
			start := time.Now()
			err := p.journal.CloseOpenSession(ctx, assetID, disconnectedAt)
			p.observeJournal("session", start, err)
			if err != nil {
				p.logger().Warn("journal close_open_session failed", zap.String("asset_id", assetID), zap.Error(err))
			}
		}
	}
}

// observeJournal records journal write latency and, on failure, the
// failure counter, both labeled by op. A no-op if metrics is nil.
func (p *Pipeline) observeJournal(op string, start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	p.metrics.JournalWriteLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.JournalWriteFailuresTotal.WithLabelValues(op).Inc()
	}
}

func (p *Pipeline) logger() *zap.Logger {
	if p.log != nil {
		return p.log
	}
	return zap.NewNop()
}
