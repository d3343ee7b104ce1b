package socevent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/der-control/headend/internal/domain"
)

func testAsset() domain.Asset {
	return domain.Asset{ID: "a1", CapacityMWh: 100, MinSOCPct: 0, MaxSOCPct: 100}
}

func idGen() func() string {
	n := 0
	return func() string {
		n++
		return "event-" + string(rune('a'+n))
	}
}

func TestObserveFirstReadingInRangeNeverEmits(t *testing.T) {
	d := New(idGen())
	_, emitted := d.Observe(testAsset(), domain.Telemetry{AssetID: "a1", SOCMWh: 50, Timestamp: time.Now()})
	require.False(t, emitted, "first observation in range only establishes a baseline")
}

func TestObserveFirstReadingInBoundaryZoneEmits(t *testing.T) {
	d := New(idGen())
	ev, emitted := d.Observe(testAsset(), domain.Telemetry{AssetID: "a1", SOCMWh: 0, Timestamp: time.Now()})
	require.True(t, emitted, "a cold-started detector must still raise an alarm for an asset already out of band")
	require.Equal(t, "MIN_SOC_REACHED", ev.EventType)
}

// P9: edge-only events.
func TestObserveEmitsOnlyOnZoneChange(t *testing.T) {
	d := New(idGen())
	asset := testAsset()

	d.Observe(asset, domain.Telemetry{SOCMWh: 50, Timestamp: time.Now()}) // baseline: in range

	_, emitted := d.Observe(asset, domain.Telemetry{SOCMWh: 0, Timestamp: time.Now()})
	require.True(t, emitted)

	_, emitted = d.Observe(asset, domain.Telemetry{SOCMWh: 0, Timestamp: time.Now()})
	require.False(t, emitted, "no duplicate emission while zone is unchanged")

	ev, emitted := d.Observe(asset, domain.Telemetry{SOCMWh: 0.0000001, Timestamp: time.Now()})
	require.False(t, emitted, "still below_min within epsilon")
	_ = ev
}

func TestObserveNoEventReenteringInRange(t *testing.T) {
	d := New(idGen())
	asset := testAsset()

	d.Observe(asset, domain.Telemetry{SOCMWh: 0, Timestamp: time.Now()}) // baseline: below min
	_, emitted := d.Observe(asset, domain.Telemetry{SOCMWh: 50, Timestamp: time.Now()})
	require.False(t, emitted, "re-entering InRange does not emit under this policy")
}

func TestObserveMaxSOCEvent(t *testing.T) {
	d := New(idGen())
	asset := testAsset()

	d.Observe(asset, domain.Telemetry{SOCMWh: 50, Timestamp: time.Now()})
	ev, emitted := d.Observe(asset, domain.Telemetry{SOCMWh: 100, Timestamp: time.Now()})
	require.True(t, emitted)
	require.Equal(t, "MAX_SOC_REACHED", ev.EventType)
	require.Equal(t, domain.SeverityWarning, ev.Severity)
}
