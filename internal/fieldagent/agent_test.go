package fieldagent

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/der-control/headend/internal/catalogue"
)

func writeCat(t *testing.T) *catalogue.Catalogue {
	t.Helper()
	path := t.TempDir() + "/cat.yaml"
	content := `
sites:
  - id: site-a
    name: Site A
assets:
  - id: asset-a
    name: Battery A
    site_id: site-a
    capacity_mwhr: 100
    min_mw: -40
    max_mw: 40
    min_soc_pct: 10
    max_soc_pct: 90
    efficiency: 0.95
    ramp_rate_mw_per_min: 1000
  - id: asset-b
    name: Battery B
    site_id: site-a
    capacity_mwhr: 50
    min_mw: -20
    max_mw: 20
    efficiency: 0.95
    ramp_rate_mw_per_min: 1000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	cat, err := catalogue.Load(path)
	require.NoError(t, err)
	return cat
}

func TestNewFiltersByAssetIDs(t *testing.T) {
	cat := writeCat(t)
	a := New(cat, []string{"asset-a"}, "localhost:7443", time.Second, 10*time.Second, zap.NewNop())
	require.Len(t, a.assets, 1)
	_, ok := a.assets["asset-a"]
	require.True(t, ok)
}

func TestNewWithEmptyAssetIDsSimulatesEverything(t *testing.T) {
	cat := writeCat(t)
	a := New(cat, nil, "localhost:7443", time.Second, 10*time.Second, zap.NewNop())
	require.Len(t, a.assets, 2)
	require.ElementsMatch(t, []string{"asset-a", "asset-b"}, a.bySite["site-a"])
}

func TestAssetSimTickAdvancesTowardSetpoint(t *testing.T) {
	cat := writeCat(t)
	asset, ok := cat.ByID("asset-a")
	require.True(t, ok)

	sim := newAssetSim(asset)
	sim.applySetpoint(10)

	t1 := sim.tick(time.Minute)
	require.Greater(t, t1.CurrentMW, 0.0)
}

func TestAssetSimSeedOverridesState(t *testing.T) {
	cat := writeCat(t)
	asset, _ := cat.ByID("asset-a")
	sim := newAssetSim(asset)

	sim.seed(42, 3, 5)
	sim.mu.Lock()
	state := sim.state
	sim.mu.Unlock()

	require.Equal(t, 42.0, state.SOCMWh)
	require.Equal(t, 3.0, state.CurrentMW)
	require.Equal(t, 5.0, state.SetpointMW)
}

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	d := minBackoff
	for i := 0; i < 10; i++ {
		d = nextBackoff(d)
	}
	require.Equal(t, maxBackoff, d)
}

func TestJitterStaysWithinRange(t *testing.T) {
	for i := 0; i < 20; i++ {
		j := jitter(10 * time.Second)
		require.GreaterOrEqual(t, j, 5*time.Second)
		require.LessOrEqual(t, j, 10*time.Second+1)
	}
}
