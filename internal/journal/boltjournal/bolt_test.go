package boltjournal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/der-control/headend/internal/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAppendAndQueryLatestTelemetry(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, db.AppendTelemetry(ctx, domain.Telemetry{AssetID: "a1", SOCMWh: 10, Timestamp: base}))
	require.NoError(t, db.AppendTelemetry(ctx, domain.Telemetry{AssetID: "a1", SOCMWh: 20, Timestamp: base.Add(time.Second)}))
	require.NoError(t, db.AppendTelemetry(ctx, domain.Telemetry{AssetID: "a2", SOCMWh: 99, Timestamp: base}))

	latest, found, err := db.LatestTelemetryByAsset(ctx, "a1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 20.0, latest.SOCMWh)

	_, found, err = db.LatestTelemetryByAsset(ctx, "unknown")
	require.NoError(t, err)
	require.False(t, found)
}

func TestLatestTelemetryAllOneRowPerAsset(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, db.AppendTelemetry(ctx, domain.Telemetry{AssetID: "a1", SOCMWh: 1, Timestamp: base}))
	require.NoError(t, db.AppendTelemetry(ctx, domain.Telemetry{AssetID: "a1", SOCMWh: 2, Timestamp: base.Add(time.Second)}))
	require.NoError(t, db.AppendTelemetry(ctx, domain.Telemetry{AssetID: "a2", SOCMWh: 5, Timestamp: base}))

	all, err := db.LatestTelemetryAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	byAsset := map[string]domain.Telemetry{}
	for _, t := range all {
		byAsset[t.AssetID] = t
	}
	require.Equal(t, 2.0, byAsset["a1"].SOCMWh)
	require.Equal(t, 5.0, byAsset["a2"].SOCMWh)
}

func TestAppendDispatchAndLatestByAsset(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, db.AppendDispatch(ctx, domain.Dispatch{ID: "d1", AssetID: "a1", MW: 5, SubmittedAt: base}))
	require.NoError(t, db.AppendDispatch(ctx, domain.Dispatch{ID: "d2", AssetID: "a1", MW: 7, SubmittedAt: base.Add(time.Second)}))

	latest, found, err := db.LatestDispatchByAsset(ctx, "a1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "d2", latest.ID)
}

func TestUpdateDispatchAckLateBinds(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.AppendDispatch(ctx, domain.Dispatch{ID: "d1", AssetID: "a1", MW: 5, SubmittedAt: time.Now()}))

	ackedAt := time.Now()
	require.NoError(t, db.UpdateDispatchAck(ctx, "d1", domain.AckApplied, ackedAt, ""))

	hist, err := db.DispatchHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.NotNil(t, hist[0].AckStatus)
	require.Equal(t, domain.AckApplied, *hist[0].AckStatus)
}

func TestDispatchHistoryMostRecentFirst(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, db.AppendDispatch(ctx, domain.Dispatch{
			ID: "d" + string(rune('0'+i)), AssetID: "a1", MW: float64(i),
			SubmittedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	hist, err := db.DispatchHistory(ctx, 3)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	require.Equal(t, "d4", hist[0].ID)
	require.Equal(t, "d3", hist[1].ID)
	require.Equal(t, "d2", hist[2].ID)
}

func TestSessionOpenCloseIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	connectedAt := time.Now().UTC()

	require.NoError(t, db.AppendSessionOpen(ctx, domain.AgentSession{AssetID: "a1", Peer: "p1", ConnectedAt: connectedAt}))

	// A no-op close when no session is open for a different asset.
	require.NoError(t, db.CloseOpenSession(ctx, "unknown", time.Now()))

	// Opening a second session for the same asset closes the first.
	second := connectedAt.Add(time.Minute)
	require.NoError(t, db.AppendSessionOpen(ctx, domain.AgentSession{AssetID: "a1", Peer: "p2", ConnectedAt: second}))

	require.NoError(t, db.CloseOpenSession(ctx, "a1", time.Now()))
	// Closing again is a no-op, not an error.
	require.NoError(t, db.CloseOpenSession(ctx, "a1", time.Now()))
}

func TestHeartbeatLatestAndHistory(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, db.AppendHeartbeat(ctx, "a1", base.Add(time.Duration(i)*time.Second)))
	}

	latest, found, err := db.LatestHeartbeat(ctx, "a1")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, latest.Equal(base.Add(2*time.Second)))

	hist, err := db.HeartbeatHistory(ctx, "a1", 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
}

func TestEventHistoryBoundedMostRecentFirst(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 4; i++ {
		require.NoError(t, db.AppendEvent(ctx, domain.Event{
			ID: "e" + string(rune('0'+i)), AssetID: "a1",
			Timestamp: base.Add(time.Duration(i) * time.Second), EventType: "MIN_SOC_REACHED",
		}))
	}

	hist, err := db.EventHistory(ctx, "a1", 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, "e3", hist[0].ID)
	require.Equal(t, "e2", hist[1].ID)
}

func TestTelemetryHistoryRangeBounded(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, db.AppendTelemetry(ctx, domain.Telemetry{
			AssetID: "a1", SOCMWh: float64(i), Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	hist, err := db.TelemetryHistory(ctx, "a1", base.Add(time.Minute), base.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, hist, 3)
	require.Equal(t, 1.0, hist[0].SOCMWh)
	require.Equal(t, 3.0, hist[2].SOCMWh)
}

func TestReopenPreservesSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
}
