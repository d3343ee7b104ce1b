// Package socevent implements the per-asset SOC zone edge detector:
// it emits an event only when an asset crosses into a boundary zone,
// never while it stays there and never on re-entering the normal band.
package socevent

import (
	"fmt"
	"sync"

	"github.com/der-control/headend/internal/domain"
)

const boundaryEpsilonMWh = 1e-6

// Zone is one of the three SOC bands the detector tracks.
type Zone int

const (
	ZoneBelowMin Zone = iota
	ZoneInRange
	ZoneAboveMax
)

func (z Zone) String() string {
	switch z {
	case ZoneBelowMin:
		return "below_min"
	case ZoneAboveMax:
		return "above_max"
	default:
		return "in_range"
	}
}

// ZoneOf classifies a SOC reading against an asset's configured band.
func ZoneOf(asset domain.Asset, socMWh float64) Zone {
	minSOC, maxSOC := asset.SOCBoundsMWh()
	switch {
	case socMWh <= minSOC+boundaryEpsilonMWh:
		return ZoneBelowMin
	case socMWh >= maxSOC-boundaryEpsilonMWh:
		return ZoneAboveMax
	default:
		return ZoneInRange
	}
}

// Detector holds the last observed zone per asset.
type Detector struct {
	mu    sync.Mutex
	zones map[string]Zone
	newID func() string
}

// New constructs an empty Detector. newID mints event ids.
func New(newID func() string) *Detector {
	return &Detector{zones: make(map[string]Zone), newID: newID}
}

// Observe classifies a telemetry reading and returns an Event if, and
// only if, the asset's zone differs from its prior observation. An
// asset with no prior observation is treated as having come from
// InRange, so a first reading that already lands in a boundary zone
// still emits — matching a cold-started detector that must not stay
// silent about an asset that was already out of band. Re-entering
// InRange from either boundary does not emit either; this
// implementation follows the reference headend's "entering-zone-only"
// policy rather than also emitting a clear severity (see DESIGN.md).
func (d *Detector) Observe(asset domain.Asset, t domain.Telemetry) (domain.Event, bool) {
	zone := ZoneOf(asset, t.SOCMWh)

	d.mu.Lock()
	prev, seen := d.zones[asset.ID]
	if !seen {
		prev = ZoneInRange
	}
	d.zones[asset.ID] = zone
	d.mu.Unlock()

	if prev == zone || zone == ZoneInRange {
		return domain.Event{}, false
	}

	var eventType string
	switch zone {
	case ZoneBelowMin:
		eventType = "MIN_SOC_REACHED"
	case ZoneAboveMax:
		eventType = "MAX_SOC_REACHED"
	}

	return domain.Event{
		ID:        d.newID(),
		AssetID:   asset.ID,
		SiteID:    asset.SiteID,
		Timestamp: t.Timestamp,
		EventType: eventType,
		Severity:  domain.SeverityWarning,
		Message:   fmt.Sprintf("asset %s entered %s zone at %.6f MWh", asset.ID, zone, t.SOCMWh),
	}, true
}
