// Package dispatch implements the C6 dispatch engine: per-asset and
// site-wide (capacity-weighted, residual-repaired) setpoint submission,
// journal persistence, and delivery via the stream registry.
package dispatch

import (
	"math"
	"sort"

	"github.com/der-control/headend/internal/domain"
)

const (
	residualTolerance = 1e-6
	maxRepairPasses   = 3
)

// allocation is one asset's share of a site-wide dispatch, before the
// per-asset gate is applied.
type allocation struct {
	assetID string
	mwRaw   float64
	mw      float64
	clamped bool
}

// allocate computes a deterministic, capacity-weighted, limit-respecting
// split of mwTotal across assets, exactly mirroring §4.6: proportional
// split by capacity, clamp to each asset's [min_mw, max_mw], then up to
// three residual-repair passes distributing any leftover across assets
// with spare headroom in the same direction as the residual.
//
// assets must already be sorted by id (the allocator itself does not
// sort — determinism is a property of its caller, the online-asset
// listing from the stream registry).
func allocate(assets []domain.Asset, mwTotal float64) []allocation {
	n := len(assets)
	out := make([]allocation, n)
	if n == 0 {
		return out
	}

	var totalCap float64
	for _, a := range assets {
		totalCap += a.CapacityMWh
	}

	raw := make([]float64, n)
	clamped := make([]float64, n)

	if totalCap <= 0 {
		for i, a := range assets {
			out[i] = allocation{assetID: a.ID, mw: 0, clamped: false}
		}
		return out
	}

	for i, a := range assets {
		raw[i] = mwTotal * a.CapacityMWh / totalCap
		clamped[i] = clampMW(raw[i], a.MinMW, a.MaxMW)
	}

	for pass := 0; pass < maxRepairPasses; pass++ {
		var sum float64
		for _, v := range clamped {
			sum += v
		}
		residual := mwTotal - sum
		if math.Abs(residual) <= residualTolerance {
			break
		}

		direction := sign(residual)
		headroom := make([]float64, n)
		var totalHeadroom float64
		for i, a := range assets {
			var h float64
			if direction > 0 {
				h = a.MaxMW - clamped[i]
			} else {
				h = a.MinMW - clamped[i]
			}
			if sign(h) == direction {
				headroom[i] = h
				totalHeadroom += math.Abs(h)
			}
		}
		if totalHeadroom <= residualTolerance {
			break
		}

		for i := range assets {
			if headroom[i] == 0 {
				continue
			}
			share := residual * (math.Abs(headroom[i]) / totalHeadroom)
			clamped[i] = clampMW(clamped[i]+share, assets[i].MinMW, assets[i].MaxMW)
		}
	}

	for i, a := range assets {
		out[i] = allocation{
			assetID: a.ID,
			mwRaw:   raw[i],
			mw:      clamped[i],
			clamped: math.Abs(raw[i]-clamped[i]) > residualTolerance,
		}
	}
	return out
}

func clampMW(v, lo, hi float64) float64 {
	if lo > hi {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// sortAssetsByID returns a copy of assets sorted by id — the
// deterministic ordering the allocator requires of its caller.
func sortAssetsByID(assets []domain.Asset) []domain.Asset {
	out := make([]domain.Asset, len(assets))
	copy(out, assets)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
