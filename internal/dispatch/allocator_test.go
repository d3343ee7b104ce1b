package dispatch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/der-control/headend/internal/domain"
)

func asset(id string, capMWh, minMW, maxMW float64) domain.Asset {
	return domain.Asset{ID: id, CapacityMWh: capMWh, MinMW: minMW, MaxMW: maxMW}
}

func sumMW(allocs []allocation) float64 {
	var s float64
	for _, a := range allocs {
		s += a.mw
	}
	return s
}

// P4/P5/P6
func TestAllocateConservesAndBoundsAndIsDeterministic(t *testing.T) {
	assets := []domain.Asset{
		asset("a1", 100, -10, 10),
		asset("a2", 200, -10, 10),
		asset("a3", 300, -10, 10),
	}

	first := allocate(assets, 15)
	second := allocate(assets, 15)
	require.Equal(t, first, second, "P6: identical inputs yield identical outputs")

	require.InDelta(t, 15, sumMW(first), 1e-6, "P4: conservation within tolerance")
	for i, a := range first {
		require.GreaterOrEqual(t, a.mw, assets[i].MinMW-1e-9)
		require.LessOrEqual(t, a.mw, assets[i].MaxMW+1e-9)
	}
}

func TestAllocateProportionalToCapacityBeforeClamping(t *testing.T) {
	assets := []domain.Asset{
		asset("a1", 100, -100, 100),
		asset("a2", 300, -100, 100),
	}
	allocs := allocate(assets, 40)
	require.InDelta(t, 10, allocs[0].mw, 1e-6) // 100/400 * 40
	require.InDelta(t, 30, allocs[1].mw, 1e-6) // 300/400 * 40
}

func TestAllocateRepairsResidualWhenOneAssetSaturates(t *testing.T) {
	// a1 wants more than its max; a2 has headroom to absorb the residual.
	assets := []domain.Asset{
		asset("a1", 100, 0, 5),
		asset("a2", 100, 0, 20),
	}
	allocs := allocate(assets, 20)
	require.InDelta(t, 20, sumMW(allocs), 1e-6)
	require.LessOrEqual(t, allocs[0].mw, 5.0+1e-9)
	require.True(t, allocs[0].clamped)
}

func TestAllocateZeroAggregateCapacityYieldsAllZero(t *testing.T) {
	assets := []domain.Asset{
		asset("a1", 0, -10, 10),
		asset("a2", 0, -10, 10),
	}
	allocs := allocate(assets, 5)
	for _, a := range allocs {
		require.Equal(t, 0.0, a.mw)
		require.False(t, a.clamped)
	}
}

func TestAllocateCannotAbsorbWhenAllAssetsSaturated(t *testing.T) {
	assets := []domain.Asset{
		asset("a1", 100, 0, 5),
		asset("a2", 100, 0, 5),
	}
	allocs := allocate(assets, 100)
	for i, a := range allocs {
		require.InDelta(t, assets[i].MaxMW, a.mw, 1e-6)
		require.True(t, a.clamped)
	}
	require.True(t, math.Abs(sumMW(allocs)-100) > 1e-6, "residual cannot be absorbed once all assets saturate")
}

func TestAllocateEmptySetReturnsEmpty(t *testing.T) {
	allocs := allocate(nil, 10)
	require.Empty(t, allocs)
}

func TestSortAssetsByID(t *testing.T) {
	assets := []domain.Asset{asset("b", 1, 0, 1), asset("a", 1, 0, 1)}
	sorted := sortAssetsByID(assets)
	require.Equal(t, "a", sorted[0].ID)
	require.Equal(t, "b", sorted[1].ID)
}
