package ingest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/der-control/headend/internal/catalogue"
	"github.com/der-control/headend/internal/domain"
	"github.com/der-control/headend/internal/simstate"
	"github.com/der-control/headend/internal/socevent"
	"github.com/der-control/headend/internal/streamregistry"
)

func testCatalogue(t *testing.T) (*catalogue.Catalogue, string) {
	t.Helper()
	id := uuid.NewString()
	path := t.TempDir() + "/cat.yaml"
	require.NoError(t, os.WriteFile(path, []byte(`
sites:
  - id: site-a
    name: Site A
assets:
  - id: `+id+`
    site_id: site-a
    capacity_mwhr: 100
    min_mw: -20
    max_mw: 20
    efficiency: 1
    ramp_rate_mw_per_min: 60
`), 0o600))
	cat, err := catalogue.Load(path)
	require.NoError(t, err)
	return cat, id
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return "id" + string(rune('0'+n))
	}
}

func newHarness(t *testing.T) (*Pipeline, *catalogue.Catalogue, string, *streamregistry.Registry) {
	cat, assetID := testCatalogue(t)
	state := simstate.New(cat, sequentialIDs())
	registry := streamregistry.New()
	detector := socevent.New(sequentialIDs())
	return New(cat, state, registry, nil, detector, nil, nil), cat, assetID, registry
}

func TestHandleRegisterSkipsInvalidAndUnknownIDs(t *testing.T) {
	p, _, assetID, registry := newHarness(t)
	conn := NewConnection("peer-1")

	streams := p.HandleRegister(context.Background(), conn, []AssetDescriptor{
		{AssetID: "not-a-uuid"},
		{AssetID: uuid.NewString()}, // valid UUID, but not in the catalogue
		{AssetID: assetID},
	})

	require.Len(t, streams, 1)
	require.Len(t, conn.registeredAssets, 1)
	_, ok := registry.Get(assetID)
	require.True(t, ok)
}

func TestHandleRegisterReplacesExistingConnection(t *testing.T) {
	p, _, assetID, registry := newHarness(t)
	first := NewConnection("peer-1")
	p.HandleRegister(context.Background(), first, []AssetDescriptor{{AssetID: assetID}})

	second := NewConnection("peer-2")
	p.HandleRegister(context.Background(), second, []AssetDescriptor{{AssetID: assetID}})

	stream, ok := registry.Get(assetID)
	require.True(t, ok)
	require.Equal(t, "peer-2", stream.Peer)
}

func TestHandleTelemetryUpdatesCacheAndRunsDetector(t *testing.T) {
	p, _, assetID, _ := newHarness(t)

	_, emitted := p.HandleTelemetry(context.Background(), domain.Telemetry{AssetID: assetID, SOCMWh: 50, Timestamp: time.Now()})
	require.False(t, emitted, "first observation in range only establishes a baseline")

	ev, emitted := p.HandleTelemetry(context.Background(), domain.Telemetry{AssetID: assetID, SOCMWh: 0, Timestamp: time.Now()})
	require.True(t, emitted)
	require.Equal(t, "MIN_SOC_REACHED", ev.EventType)
}

func TestHandleDisconnectDeregistersAll(t *testing.T) {
	p, _, assetID, registry := newHarness(t)
	conn := NewConnection("peer-1")
	p.HandleRegister(context.Background(), conn, []AssetDescriptor{{AssetID: assetID}})

	p.HandleDisconnect(context.Background(), conn)

	_, ok := registry.Get(assetID)
	require.False(t, ok)
}

func TestHandleDispatchAckLogsMismatchButDoesNotPanic(t *testing.T) {
	p, _, assetID, _ := newHarness(t)
	p.HandleDispatchAck(context.Background(), assetID, "nonexistent-dispatch", domain.AckApplied, time.Now(), "")
}
