// Package agentlink is the C10 agent-facing transport face: a gRPC
// server exposing the bidirectional Stream RPC and the unary Bootstrap
// RPC defined in derpb, wired to the ingest pipeline and bootstrap
// responder. No mTLS/peer-auth is layered on — the agent link is
// explicitly unauthenticated at this layer.
package agentlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"

	"github.com/der-control/headend/internal/bootstrap"
	"github.com/der-control/headend/internal/catalogue"
	"github.com/der-control/headend/internal/domain"
	"github.com/der-control/headend/internal/ingest"
	"github.com/der-control/headend/internal/streamregistry"
	"github.com/der-control/headend/internal/transport/agentlink/derpb"
)

// Server implements derpb.AgentLinkServer.
type Server struct {
	cat       *catalogue.Catalogue
	pipeline  *ingest.Pipeline
	responder *bootstrap.Responder
	log       *zap.Logger
}

// NewServer constructs a Server.
func NewServer(cat *catalogue.Catalogue, pipeline *ingest.Pipeline, responder *bootstrap.Responder, log *zap.Logger) *Server {
	return &Server{cat: cat, pipeline: pipeline, responder: responder, log: log}
}

// Bootstrap implements the unary snapshot RPC.
func (s *Server) Bootstrap(ctx context.Context, req *derpb.BootstrapRequest) (*derpb.BootstrapResponse, error) {
	results := s.responder.Bootstrap(ctx, req.AssetIDs)
	resp := &derpb.BootstrapResponse{Assets: make([]derpb.AssetBootstrap, 0, len(results))}
	for _, r := range results {
		resp.Assets = append(resp.Assets, toWireBootstrap(r))
	}
	return resp, nil
}

// Stream implements the bidirectional agent connection: one goroutine
// per accepted connection serves Recv in a loop, fanning inbound frames
// into the ingest pipeline, while per-asset outbound mailboxes drain
// into a single writer goroutine that owns the actual stream.Send calls.
func (s *Server) Stream(stream derpb.AgentLink_StreamServer) error {
	ctx := stream.Context()
	peerAddr := peerAddrFromContext(ctx)
	conn := ingest.NewConnection(peerAddr)
	log := s.log.With(zap.String("peer", peerAddr))

	outboundFrames := make(chan *derpb.HeadendToAgent, streamregistry.MailboxCapacity)
	var fanInWG sync.WaitGroup

	fanIn := func(as *streamregistry.AgentStream) {
		fanInWG.Add(1)
		go func() {
			defer fanInWG.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case sp, ok := <-as.Outbound:
					if !ok {
						return
					}
					select {
					case outboundFrames <- toWireSetpoint(sp):
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	writerDone := make(chan error, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				writerDone <- nil
				return
			case frame, ok := <-outboundFrames:
				if !ok {
					writerDone <- nil
					return
				}
				if err := stream.Send(frame); err != nil {
					writerDone <- err
					return
				}
			}
		}
	}()

	defer func() {
		s.pipeline.HandleDisconnect(context.Background(), conn)
		fanInWG.Wait()
		close(outboundFrames)
	}()

	type recvResult struct {
		frame *derpb.AgentToHeadend
		err   error
	}
	recvCh := make(chan recvResult, 1)
	recvNext := func() {
		go func() {
			frame, err := stream.Recv()
			recvCh <- recvResult{frame: frame, err: err}
		}()
	}
	recvNext()

	for {
		var frame *derpb.AgentToHeadend

		select {
		case werr := <-writerDone:
			if werr != nil {
				log.Warn("agent stream send error", zap.Error(werr))
				return werr
			}
			return nil
		case r := <-recvCh:
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					return nil
				}
				log.Warn("agent stream recv error", zap.Error(r.err))
				return r.err
			}
			frame = r.frame
			recvNext()
		}

		switch frame.Kind {
		case derpb.FrameRegister:
			if frame.Register == nil {
				continue
			}
			streams := s.pipeline.HandleRegister(ctx, conn, toDescriptors(frame.Register))
			for _, st := range streams {
				fanIn(st)
			}

		case derpb.FrameTelemetry:
			if frame.Telemetry == nil {
				continue
			}
			t, ok := s.toDomainTelemetry(frame.Telemetry)
			if !ok {
				log.Warn("telemetry for unknown asset dropped", zap.String("asset_id", frame.Telemetry.AssetID))
				continue
			}
			s.pipeline.HandleTelemetry(ctx, t)

		case derpb.FrameHeartbeat:
			if frame.Heartbeat == nil {
				continue
			}
			s.pipeline.HandleHeartbeat(ctx, frame.Heartbeat.AssetID, frame.Heartbeat.Timestamp)

		case derpb.FrameDispatchAck:
			if frame.DispatchAck == nil {
				continue
			}
			a := frame.DispatchAck
			s.pipeline.HandleDispatchAck(ctx, a.AssetID, a.DispatchID, domain.AckStatus(a.Status), a.Timestamp, a.Reason)

		case derpb.FrameEvent:
			if frame.Event == nil {
				continue
			}
			e := frame.Event
			s.pipeline.HandleEvent(ctx, domain.Event{
				ID: e.ID, AssetID: e.AssetID, Timestamp: e.Timestamp,
				EventType: e.EventType, Severity: domain.Severity(e.Severity), Message: e.Message,
			})

		default:
			log.Warn("unrecognised inbound frame kind dropped", zap.Int32("kind", int32(frame.Kind)))
		}
	}
}

// toDomainTelemetry enriches a wire telemetry frame (which carries only
// the fields the agent itself knows) with the asset's static catalogue
// data, producing a complete domain.Telemetry.
func (s *Server) toDomainTelemetry(t *derpb.Telemetry) (domain.Telemetry, bool) {
	asset, ok := s.cat.ByID(t.AssetID)
	if !ok {
		return domain.Telemetry{}, false
	}
	socPct := 0.0
	if asset.CapacityMWh > 0 {
		socPct = t.SOCMWh / asset.CapacityMWh * 100
	}
	return domain.Telemetry{
		AssetID:     t.AssetID,
		SiteID:      asset.SiteID,
		SiteName:    asset.SiteName,
		Timestamp:   t.Timestamp,
		SOCMWh:      t.SOCMWh,
		SOCPct:      socPct,
		CapacityMWh: asset.CapacityMWh,
		CurrentMW:   t.CurrentMW,
		SetpointMW:  t.SetpointMW,
		MaxMW:       asset.MaxMW,
		MinMW:       asset.MinMW,
		Status:      domain.Status(t.Status),
		Extras:      fromWireExtras(t.Extras),
	}, true
}

func toDescriptors(r *derpb.Register) []ingest.AssetDescriptor {
	out := make([]ingest.AssetDescriptor, 0, len(r.Assets)+1)
	if r.PrimaryAssetID != "" {
		out = append(out, ingest.AssetDescriptor{AssetID: r.PrimaryAssetID})
	}
	for _, a := range r.Assets {
		out = append(out, ingest.AssetDescriptor{AssetID: a.AssetID, AssetName: a.AssetName})
	}
	return out
}

func toWireSetpoint(sp domain.Setpoint) *derpb.HeadendToAgent {
	return &derpb.HeadendToAgent{
		Setpoint: &derpb.Setpoint{
			AssetID: sp.AssetID, MW: sp.MW, DurationS: sp.DurationS,
			SiteID: sp.SiteID, GroupID: sp.GroupID, DispatchID: sp.DispatchID,
		},
	}
}

func toWireBootstrap(a bootstrap.AssetBootstrap) derpb.AssetBootstrap {
	out := derpb.AssetBootstrap{AssetID: a.AssetID}
	if a.LatestTelemetry != nil {
		out.LatestTelemetry = &derpb.Telemetry{
			AssetID: a.LatestTelemetry.AssetID, Timestamp: a.LatestTelemetry.Timestamp,
			SOCMWh: a.LatestTelemetry.SOCMWh, CurrentMW: a.LatestTelemetry.CurrentMW,
			SetpointMW: a.LatestTelemetry.SetpointMW, Status: string(a.LatestTelemetry.Status),
		}
	}
	if a.ActiveSetpoint != nil {
		out.ActiveSetpoint = &derpb.Setpoint{
			AssetID: a.ActiveSetpoint.AssetID, MW: a.ActiveSetpoint.MW,
			DurationS: a.ActiveSetpoint.DurationS, SiteID: a.ActiveSetpoint.SiteID,
			GroupID: a.ActiveSetpoint.GroupID, DispatchID: a.ActiveSetpoint.DispatchID,
		}
	}
	return out
}

func fromWireExtras(extras map[string]derpb.TelemetryValue) map[string]domain.TelemetryValue {
	if len(extras) == 0 {
		return nil
	}
	out := make(map[string]domain.TelemetryValue, len(extras))
	for k, v := range extras {
		switch v.Kind {
		case derpb.ValueKindF64:
			out[k] = domain.F64Value(v.F64)
		case derpb.ValueKindI64:
			out[k] = domain.I64Value(v.I64)
		case derpb.ValueKindU64:
			out[k] = domain.U64Value(v.U64)
		case derpb.ValueKindBool:
			out[k] = domain.BoolValue(v.Bool)
		case derpb.ValueKindString:
			out[k] = domain.StringValue(v.Str)
		}
	}
	return out
}

func peerAddrFromContext(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return "unknown"
	}
	return p.Addr.String()
}

// ListenAndServe starts the agent-link gRPC server on addr and blocks
// until ctx is cancelled, then gracefully drains in-flight connections.
func ListenAndServe(ctx context.Context, addr string, srv *Server, log *zap.Logger) error {
	grpcSrv := grpc.NewServer()
	derpb.RegisterAgentLinkServer(grpcSrv, srv)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("agentlink listen %s: %w", addr, err)
	}

	log.Info("agent link server listening", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		grpcSrv.GracefulStop()
	}()

	if err := grpcSrv.Serve(lis); err != nil {
		return fmt.Errorf("agentlink grpc serve: %w", err)
	}
	return nil
}
