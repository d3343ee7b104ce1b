// Package catalogue loads the asset/site registry from an external YAML
// document and exposes it as an immutable, process-wide lookup structure.
//
// File shape:
//
//	sites:
//	  - id: ...
//	    name: ...
//	    location: ...
//	assets:
//	  - id: ...
//	    site_id: ...
//	    name: ...
//	    capacity_mwhr: ...
//	    max_mw: ...
//	    min_mw: ...
//	    min_soc_pct: 0       # optional, default 0
//	    max_soc_pct: 100     # optional, default 100
//	    efficiency: ...
//	    ramp_rate_mw_per_min: ...
//
// Unknown fields are ignored. Every asset's site_id must resolve against
// a declared site; an unresolved foreign key is a fatal load error, since
// there is no sane partial-catalogue behavior to fall back to.
package catalogue

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/der-control/headend/internal/domain"
)

type siteDoc struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Location string `yaml:"location"`
}

type assetDoc struct {
	ID                string   `yaml:"id"`
	SiteID            string   `yaml:"site_id"`
	Name              string   `yaml:"name"`
	CapacityMWh       float64  `yaml:"capacity_mwhr"`
	MaxMW             float64  `yaml:"max_mw"`
	MinMW             float64  `yaml:"min_mw"`
	MinSOCPct         *float64 `yaml:"min_soc_pct"`
	MaxSOCPct         *float64 `yaml:"max_soc_pct"`
	Efficiency        float64  `yaml:"efficiency"`
	RampRateMWPerMin  float64  `yaml:"ramp_rate_mw_per_min"`
}

type document struct {
	Sites  []siteDoc  `yaml:"sites"`
	Assets []assetDoc `yaml:"assets"`
}

// Catalogue is the immutable, process-wide asset/site registry.
type Catalogue struct {
	sites      map[string]domain.Site
	assets     map[string]domain.Asset
	sortedIDs  []string
	bySiteSort map[string][]string
}

// Load reads and resolves the asset catalogue at path. Returns an error
// (meant to be treated as fatal by the caller) if the file is unreadable,
// unparseable, or any asset's site_id does not resolve.
func Load(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalogue.Load: read %q: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalogue.Load: parse %q: %w", path, err)
	}

	return fromDocument(doc)
}

// fromDocument builds a Catalogue from an already-parsed document.
func fromDocument(doc document) (*Catalogue, error) {
	sites := make(map[string]domain.Site, len(doc.Sites))
	for _, s := range doc.Sites {
		sites[s.ID] = domain.Site{ID: s.ID, Name: s.Name, Location: s.Location}
	}

	assets := make(map[string]domain.Asset, len(doc.Assets))
	for _, a := range doc.Assets {
		site, ok := sites[a.SiteID]
		if !ok {
			return nil, fmt.Errorf("catalogue.Load: asset %q references unresolved site_id %q", a.ID, a.SiteID)
		}

		minPct, maxPct := 0.0, 100.0
		if a.MinSOCPct != nil {
			minPct = *a.MinSOCPct
		}
		if a.MaxSOCPct != nil {
			maxPct = *a.MaxSOCPct
		}
		if minPct < 0 || maxPct > 100 || minPct > maxPct {
			return nil, fmt.Errorf("catalogue.Load: asset %q has an invalid SOC band [%g, %g]pct — must satisfy 0 <= min_soc_pct <= max_soc_pct <= 100", a.ID, minPct, maxPct)
		}

		assets[a.ID] = domain.Asset{
			ID:               a.ID,
			SiteID:           a.SiteID,
			Name:             a.Name,
			SiteName:         site.Name,
			Location:         site.Location,
			CapacityMWh:      a.CapacityMWh,
			MinMW:            a.MinMW,
			MaxMW:            a.MaxMW,
			MinSOCPct:        minPct,
			MaxSOCPct:        maxPct,
			Efficiency:       a.Efficiency,
			RampRateMWPerMin: a.RampRateMWPerMin,
		}
	}

	sortedIDs := make([]string, 0, len(assets))
	bySite := make(map[string][]string)
	for id, a := range assets {
		sortedIDs = append(sortedIDs, id)
		bySite[a.SiteID] = append(bySite[a.SiteID], id)
	}
	sort.Strings(sortedIDs)
	for siteID := range bySite {
		sort.Strings(bySite[siteID])
	}

	return &Catalogue{
		sites:      sites,
		assets:     assets,
		sortedIDs:  sortedIDs,
		bySiteSort: bySite,
	}, nil
}

// ListAll returns every asset, sorted by id.
func (c *Catalogue) ListAll() []domain.Asset {
	out := make([]domain.Asset, 0, len(c.sortedIDs))
	for _, id := range c.sortedIDs {
		out = append(out, c.assets[id])
	}
	return out
}

// ByID looks up a single asset.
func (c *Catalogue) ByID(id string) (domain.Asset, bool) {
	a, ok := c.assets[id]
	return a, ok
}

// BySite returns the assets belonging to a site, sorted by id — the
// ordering the dispatch allocator depends on for determinism.
func (c *Catalogue) BySite(siteID string) []domain.Asset {
	ids := c.bySiteSort[siteID]
	out := make([]domain.Asset, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.assets[id])
	}
	return out
}

// Sites returns every declared site.
func (c *Catalogue) Sites() []domain.Site {
	out := make([]domain.Site, 0, len(c.sites))
	for _, s := range c.sites {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SiteByID looks up a single site.
func (c *Catalogue) SiteByID(id string) (domain.Site, bool) {
	s, ok := c.sites[id]
	return s, ok
}
