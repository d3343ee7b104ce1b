// Package physics implements the single pure function shared by the
// headend (for synthetic bootstrap fill-in) and any agent simulating its
// own battery: advancing one asset's state by dt and producing the
// resulting telemetry snapshot.
package physics

import (
	"time"

	"github.com/der-control/headend/internal/domain"
)

// boundaryEpsilonMWh is the SOC tolerance used both for the boundary
// clamp below and by the SOC gate/detector elsewhere — kept in sync by
// convention, not by shared constant, since each caller independently
// needs the same 1e-6 value.
const boundaryEpsilonMWh = 1e-6

// Tick advances state by dt, returning the new state and the telemetry
// snapshot describing it. Pure and deterministic: identical inputs
// always produce identical outputs, and no wall-clock value feeds the
// physics itself (only Telemetry.Timestamp uses time.Now).
func Tick(asset domain.Asset, state domain.AssetState, dt time.Duration) (domain.AssetState, domain.Telemetry) {
	dtSec := dt.Seconds()

	rampPerSec := asset.RampRateMWPerMin / 60
	maxDelta := rampPerSec * dtSec
	delta := clamp(state.SetpointMW-state.CurrentMW, -maxDelta, maxDelta)
	current := clamp(state.CurrentMW+delta, asset.MinMW, asset.MaxMW)

	energyMWh := current * dtSec / 3600
	var adjusted float64
	if energyMWh >= 0 {
		adjusted = energyMWh / asset.Efficiency
	} else {
		adjusted = energyMWh * asset.Efficiency
	}

	minSOC, maxSOC := asset.SOCBoundsMWh()
	soc := clamp(state.SOCMWh-adjusted, minSOC, maxSOC)

	setpoint := state.SetpointMW
	switch {
	case soc <= minSOC+boundaryEpsilonMWh && current > 0:
		setpoint, current = 0, 0
	case soc >= maxSOC-boundaryEpsilonMWh && current < 0:
		setpoint, current = 0, 0
	}

	next := domain.AssetState{SOCMWh: soc, CurrentMW: current, SetpointMW: setpoint}
	return next, snapshot(asset, next)
}

func snapshot(asset domain.Asset, s domain.AssetState) domain.Telemetry {
	status := domain.StatusIdle
	switch {
	case s.CurrentMW > 0.1:
		status = domain.StatusDischarging
	case s.CurrentMW < -0.1:
		status = domain.StatusCharging
	}

	socPct := 0.0
	if asset.CapacityMWh > 0 {
		socPct = clamp(s.SOCMWh/asset.CapacityMWh*100, 0, 100)
	}

	return domain.Telemetry{
		AssetID:     asset.ID,
		SiteID:      asset.SiteID,
		SiteName:    asset.SiteName,
		Timestamp:   time.Now().UTC(),
		SOCMWh:      s.SOCMWh,
		SOCPct:      socPct,
		CapacityMWh: asset.CapacityMWh,
		CurrentMW:   s.CurrentMW,
		SetpointMW:  s.SetpointMW,
		MaxMW:       asset.MaxMW,
		MinMW:       asset.MinMW,
		Status:      status,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
