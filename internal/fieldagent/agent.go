// Package fieldagent implements the simulated side of the agent-link
// wire protocol: one process standing in for one or more field devices,
// ticking their physics locally and exchanging Telemetry/Heartbeat/
// Setpoint frames with a headend over the bidirectional Stream RPC.
package fieldagent

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/der-control/headend/internal/catalogue"
	"github.com/der-control/headend/internal/domain"
	"github.com/der-control/headend/internal/physics"
	"github.com/der-control/headend/internal/transport/agentlink/derpb"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// assetSim is one simulated asset's mutable runtime state, owned by the
// agent rather than the headend's simstate — the agent is the source of
// truth for its own battery model.
type assetSim struct {
	mu    sync.Mutex
	asset domain.Asset
	state domain.AssetState
}

func newAssetSim(asset domain.Asset) *assetSim {
	return &assetSim{
		asset: asset,
		state: domain.AssetState{SOCMWh: asset.InitialSOCMWh()},
	}
}

func (a *assetSim) tick(dt time.Duration) domain.Telemetry {
	a.mu.Lock()
	defer a.mu.Unlock()
	next, t := physics.Tick(a.asset, a.state, dt)
	a.state = next
	return t
}

func (a *assetSim) applySetpoint(mw float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.SetpointMW = mw
}

func (a *assetSim) seed(socMWh, currentMW, setpointMW float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = domain.AssetState{SOCMWh: socMWh, CurrentMW: currentMW, SetpointMW: setpointMW}
}

// Agent owns a set of simulated assets and the connection lifecycle to
// one headend.
type Agent struct {
	headendAddr       string
	peer              string
	assets            map[string]*assetSim
	bySite            map[string][]string
	tickInterval      time.Duration
	heartbeatInterval time.Duration
	log               *zap.Logger
}

// New builds an Agent simulating every asset in cat whose id appears in
// assetIDs (or every catalogued asset, if assetIDs is empty).
func New(cat *catalogue.Catalogue, assetIDs []string, headendAddr string, tickInterval, heartbeatInterval time.Duration, log *zap.Logger) *Agent {
	all := cat.ListAll()
	wanted := make(map[string]bool, len(assetIDs))
	for _, id := range assetIDs {
		wanted[id] = true
	}

	assets := make(map[string]*assetSim)
	bySite := make(map[string][]string)
	for _, a := range all {
		if len(wanted) > 0 && !wanted[a.ID] {
			continue
		}
		assets[a.ID] = newAssetSim(a)
		bySite[a.SiteID] = append(bySite[a.SiteID], a.ID)
	}

	return &Agent{
		headendAddr:       headendAddr,
		assets:            assets,
		bySite:            bySite,
		tickInterval:      tickInterval,
		heartbeatInterval: heartbeatInterval,
		log:               log,
	}
}

// Run dials the headend and serves the connection until ctx is
// cancelled, reconnecting with exponential backoff on any transport
// error. It returns only when ctx is done.
func (a *Agent) Run(ctx context.Context) {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		if err := a.runOnce(ctx); err != nil {
			a.log.Warn("agent-link session ended, reconnecting",
				zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-time.After(jitter(backoff)):
			case <-ctx.Done():
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = minBackoff
	}
}

func (a *Agent) runOnce(ctx context.Context) error {
	conn, err := grpc.DialContext(ctx, a.headendAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	client := derpb.NewAgentLinkClient(conn)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := client.Stream(sessionCtx)
	if err != nil {
		return err
	}

	if err := a.register(stream); err != nil {
		return err
	}
	a.bootstrap(sessionCtx, client)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- a.recvLoop(stream)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- a.tickLoop(sessionCtx, stream)
	}()

	err = <-errCh
	cancel()
	wg.Wait()
	return err
}

func (a *Agent) register(stream derpb.AgentLink_StreamClient) error {
	descriptors := make([]derpb.AssetDescriptor, 0, len(a.assets))
	primary := ""
	for id, sim := range a.assets {
		if primary == "" {
			primary = id
		}
		descriptors = append(descriptors, derpb.AssetDescriptor{AssetID: id, AssetName: sim.asset.Name})
	}

	return stream.Send(&derpb.AgentToHeadend{
		Kind: derpb.FrameRegister,
		Register: &derpb.Register{
			Peer:           a.peer,
			PrimaryAssetID: primary,
			Assets:         descriptors,
		},
	})
}

// bootstrap asks the headend for each managed asset's current snapshot
// and seeds local state from it, so a reconnecting agent resumes near
// the headend's view of SOC/setpoint instead of re-zeroing.
func (a *Agent) bootstrap(ctx context.Context, client derpb.AgentLinkClient) {
	ids := make([]string, 0, len(a.assets))
	for id := range a.assets {
		ids = append(ids, id)
	}

	resp, err := client.Bootstrap(ctx, &derpb.BootstrapRequest{AssetIDs: ids})
	if err != nil {
		a.log.Warn("bootstrap RPC failed, starting from midpoint SOC", zap.Error(err))
		return
	}

	for _, ab := range resp.Assets {
		sim, ok := a.assets[ab.AssetID]
		if !ok || ab.LatestTelemetry == nil {
			continue
		}
		setpoint := 0.0
		if ab.ActiveSetpoint != nil {
			setpoint = ab.ActiveSetpoint.MW
		}
		sim.seed(ab.LatestTelemetry.SOCMWh, ab.LatestTelemetry.CurrentMW, setpoint)
	}
}

// recvLoop applies inbound Setpoint frames to local asset state. A
// populated asset_id wins outright; an asset_id-less site_id fans the
// setpoint out across every locally simulated asset at that site, for
// gateway-style agents fronting more than one device. group_id is
// reserved and never interpreted — a non-empty value is logged on every
// setpoint that carries it and otherwise ignored.
func (a *Agent) recvLoop(stream derpb.AgentLink_StreamClient) error {
	for {
		frame, err := stream.Recv()
		if err != nil {
			return err
		}
		if frame.Setpoint == nil {
			continue
		}
		sp := frame.Setpoint

		if sp.GroupID != "" {
			a.log.Warn("setpoint group_id is reserved and ignored", zap.String("group_id", sp.GroupID))
		}

		switch {
		case sp.AssetID != "":
			if sim, ok := a.assets[sp.AssetID]; ok {
				sim.applySetpoint(sp.MW)
			}
		case sp.SiteID != "":
			for _, id := range a.bySite[sp.SiteID] {
				a.assets[id].applySetpoint(sp.MW)
			}
		}
	}
}

// tickLoop advances every simulated asset's physics on tickInterval and
// reports a Heartbeat on heartbeatInterval, sending frames over stream
// until ctx is cancelled or a Send fails.
func (a *Agent) tickLoop(ctx context.Context, stream derpb.AgentLink_StreamClient) error {
	tickTicker := time.NewTicker(a.tickInterval)
	defer tickTicker.Stop()
	hbTicker := time.NewTicker(a.heartbeatInterval)
	defer hbTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tickTicker.C:
			for id, sim := range a.assets {
				t := sim.tick(a.tickInterval)
				if err := stream.Send(&derpb.AgentToHeadend{
					Kind: derpb.FrameTelemetry,
					Telemetry: &derpb.Telemetry{
						AssetID: id, Timestamp: t.Timestamp, SOCMWh: t.SOCMWh,
						CurrentMW: t.CurrentMW, SetpointMW: t.SetpointMW, Status: string(t.Status),
					},
				}); err != nil {
					return err
				}
			}
		case <-hbTicker.C:
			for id := range a.assets {
				if err := stream.Send(&derpb.AgentToHeadend{
					Kind:      derpb.FrameHeartbeat,
					Heartbeat: &derpb.Heartbeat{AssetID: id, Timestamp: time.Now().UTC()},
				}); err != nil {
					return err
				}
			}
		}
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func jitter(d time.Duration) time.Duration {
	return d/2 + time.Duration(rand.Int63n(int64(d/2+1)))
}
