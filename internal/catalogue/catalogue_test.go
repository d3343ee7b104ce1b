package catalogue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
sites:
  - id: site-a
    name: Alpha
    location: Somewhere
assets:
  - id: asset-2
    site_id: site-a
    name: B
    capacity_mwhr: 300
    max_mw: 20
    min_mw: -20
    efficiency: 0.95
    ramp_rate_mw_per_min: 10
  - id: asset-1
    site_id: site-a
    name: A
    capacity_mwhr: 100
    max_mw: 40
    min_mw: -40
    min_soc_pct: 10
    max_soc_pct: 90
    efficiency: 0.9
    ramp_rate_mw_per_min: 30
`

func writeCatalogue(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "assets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadResolvesSitesAndDefaults(t *testing.T) {
	path := writeCatalogue(t, sampleYAML)
	cat, err := Load(path)
	require.NoError(t, err)

	all := cat.ListAll()
	require.Len(t, all, 2)
	require.Equal(t, "asset-1", all[0].ID, "assets must be sorted by id")
	require.Equal(t, "asset-2", all[1].ID)

	a2, ok := cat.ByID("asset-2")
	require.True(t, ok)
	require.Equal(t, 0.0, a2.MinSOCPct, "missing min_soc_pct defaults to 0")
	require.Equal(t, 100.0, a2.MaxSOCPct, "missing max_soc_pct defaults to 100")
	require.Equal(t, "Alpha", a2.SiteName)

	a1, ok := cat.ByID("asset-1")
	require.True(t, ok)
	require.Equal(t, 10.0, a1.MinSOCPct)
	require.Equal(t, 90.0, a1.MaxSOCPct)
}

func TestLoadUnresolvedSiteIsFatal(t *testing.T) {
	path := writeCatalogue(t, `
sites: []
assets:
  - id: orphan
    site_id: missing-site
    capacity_mwhr: 10
    max_mw: 5
    min_mw: -5
    efficiency: 1.0
    ramp_rate_mw_per_min: 5
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadInvertedSOCBandIsFatal(t *testing.T) {
	path := writeCatalogue(t, `
sites:
  - id: site-a
    name: Alpha
assets:
  - id: inverted
    site_id: site-a
    capacity_mwhr: 10
    max_mw: 5
    min_mw: -5
    min_soc_pct: 90
    max_soc_pct: 10
    efficiency: 1.0
    ramp_rate_mw_per_min: 5
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadOutOfRangeSOCPctIsFatal(t *testing.T) {
	path := writeCatalogue(t, `
sites:
  - id: site-a
    name: Alpha
assets:
  - id: over
    site_id: site-a
    capacity_mwhr: 10
    max_mw: 5
    min_mw: -5
    max_soc_pct: 150
    efficiency: 1.0
    ramp_rate_mw_per_min: 5
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestBySiteSortedByID(t *testing.T) {
	path := writeCatalogue(t, sampleYAML)
	cat, err := Load(path)
	require.NoError(t, err)

	bySite := cat.BySite("site-a")
	require.Len(t, bySite, 2)
	require.Equal(t, "asset-1", bySite[0].ID)
	require.Equal(t, "asset-2", bySite[1].ID)
}
