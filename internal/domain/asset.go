// Package domain holds the data model shared by every control-plane
// component: assets, their live state, telemetry, dispatches, and events.
// Nothing here talks to a transport, a store, or a lock — it's the plain
// value types the rest of internal/ passes around.
package domain

// Site groups one or more assets for dispatch fan-out.
type Site struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// Asset is an asset's read-mostly configuration, resolved from the
// catalogue at load time. It never changes for the life of the process.
type Asset struct {
	ID               string  `json:"id"`
	SiteID           string  `json:"site_id"`
	Name             string  `json:"name"`
	SiteName         string  `json:"site_name"`
	Location         string  `json:"location"`
	CapacityMWh      float64 `json:"capacity_mwhr"`
	MinMW            float64 `json:"min_mw"`
	MaxMW            float64 `json:"max_mw"`
	MinSOCPct        float64 `json:"min_soc_pct"`
	MaxSOCPct        float64 `json:"max_soc_pct"`
	Efficiency       float64 `json:"efficiency"`
	RampRateMWPerMin float64 `json:"ramp_rate_mw_per_min"`
}

// SOCBoundsMWh converts the asset's percentage SOC band into MWh bounds.
// Falls back to (0, capacity) if the configured band is inverted, the
// same guard the physics tick and dispatch gate rely on. Percentages are
// clamped to [0,100] and capacity to a non-negative value first, so a
// malformed catalogue entry can't invert the clamp below 0 or above the
// stated capacity.
func (a Asset) SOCBoundsMWh() (minMWh, maxMWh float64) {
	capacity := a.CapacityMWh
	if capacity < 0 {
		capacity = 0
	}
	minPct := clampPct(a.MinSOCPct, 0, 100)
	maxPct := clampPct(a.MaxSOCPct, 0, 100)

	minMWh = capacity * minPct / 100
	maxMWh = capacity * maxPct / 100
	if minMWh > maxMWh {
		return 0, capacity
	}
	return minMWh, maxMWh
}

func clampPct(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// InitialSOCMWh is the midpoint of the allowed SOC band, used to seed a
// freshly constructed simulator state before any telemetry or hydration
// has been observed.
func (a Asset) InitialSOCMWh() float64 {
	return a.CapacityMWh * (a.MinSOCPct + a.MaxSOCPct) / 200
}

// AssetState is an asset's mutable runtime state: owned exclusively by
// the simulator store, never constructed or mutated elsewhere.
type AssetState struct {
	SOCMWh     float64 `json:"soc_mwhr"`
	CurrentMW  float64 `json:"current_mw"`
	SetpointMW float64 `json:"setpoint_mw"`
}
