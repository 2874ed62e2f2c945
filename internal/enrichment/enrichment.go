// Package enrichment tests whether trait variants are over-represented in a
// class bucket of elements and measures element distances to chromatin sites.
package enrichment

import (
	"sort"

	"regland/internal/intervals"
	"regland/internal/quality"
	"regland/internal/window"
	"regland/pkg/genome"
)

// DefaultCapKb is the display ceiling used when a query supplies none.
const DefaultCapKb int64 = 100

// Result is the outcome of one enrichment query.
type Result struct {
	Focus     []genome.ConservationClass `json:"focus"`
	Table     Table                      `json:"contingency_table"`
	OddsRatio genome.Optional[float64]   `json:"odds_ratio"`
	PValue    genome.Optional[float64]   `json:"p_value"`
}

// Enrich partitions the region's elements of the view into the focus bucket
// (classes in focus, default conserved) and the rest, counts elements carrying
// at least one variant overlap in each and runs Fisher's exact test.
func Enrich(store *intervals.Store, labels genome.LabelIndex, overlapped map[int64]int, region window.Region, focus []genome.ConservationClass, view quality.View) Result {
	if len(focus) == 0 {
		focus = []genome.ConservationClass{genome.ClassConserved}
	}
	in := make(map[genome.ConservationClass]bool, len(focus))
	for _, c := range focus {
		in[c] = true
	}
	res := Result{Focus: append([]genome.ConservationClass(nil), focus...)}
	if region.Found {
		for _, e := range store.Elements.Overlapping(region.Species, region.Chrom, region.Start, region.End) {
			if !view.Keep(e) {
				continue
			}
			row := 1
			if in[labels.Class(e.ID)] {
				row = 0
			}
			col := 1
			if overlapped[e.ID] > 0 {
				col = 0
			}
			res.Table[row][col]++
		}
	}
	if or, ok := OddsRatio(res.Table); ok {
		res.OddsRatio = genome.Some(or)
	}
	if p, ok := FisherExact(res.Table); ok {
		res.PValue = genome.Some(p)
	}
	return res
}

// OverlapCounts counts variant overlaps per element.
func OverlapCounts(overlaps []genome.VariantOverlap) map[int64]int {
	out := make(map[int64]int)
	for _, o := range overlaps {
		out[o.ElementID]++
	}
	return out
}

// Distance is the distance from one element to its nearest chromatin site.
type Distance struct {
	ElementID   int64                    `json:"element_id"`
	Class       genome.ConservationClass `json:"class"`
	QualityFlag string                   `json:"quality_flag"`
	Midpoint    int64                    `json:"midpoint"`
	SiteID      genome.Optional[int64]   `json:"site_id"`
	SiteClass   genome.ConservationClass `json:"site_class,omitempty"`
	SiteMotifP  genome.Optional[float64] `json:"site_motif_p"`
	// Distance is uncapped and used for statistics.
	Distance genome.Optional[int64] `json:"distance_bp"`
	// Capped is min(Distance, cap) for display.
	Capped genome.Optional[int64] `json:"capped_bp"`
}

// Filter narrows a distance query. Elements are read through View; an empty
// class list keeps every class.
type Filter struct {
	View           quality.View
	ElementClasses []genome.ConservationClass
	SiteClasses    []genome.ConservationClass
}

func classSet(classes []genome.ConservationClass) func(genome.ConservationClass) bool {
	if len(classes) == 0 {
		return func(genome.ConservationClass) bool { return true }
	}
	set := make(map[genome.ConservationClass]bool, len(classes))
	for _, c := range classes {
		set[c] = true
	}
	return func(c genome.ConservationClass) bool { return set[c] }
}

// NearestDistance returns, for each element of the filter overlapping the
// region, the distance from its midpoint (clipped to the region) to the
// nearest chromatin site midpoint of the filter's site classes on the same
// chromosome. Results follow element order.
func NearestDistance(store *intervals.Store, labels genome.LabelIndex, region window.Region, capKb int64, f Filter) []Distance {
	if !region.Found || region.Start >= region.End {
		return nil
	}
	if capKb <= 0 {
		capKb = DefaultCapKb
	}
	ceiling := capKb * 1000

	siteOK := classSet(f.SiteClasses)
	var sites []genome.ChromatinSite
	for _, s := range store.Sites.OnContig(region.Species, region.Chrom) {
		if siteOK(s.Class) {
			sites = append(sites, s)
		}
	}
	sort.Slice(sites, func(i, j int) bool {
		if mi, mj := sites[i].Midpoint(), sites[j].Midpoint(); mi != mj {
			return mi < mj
		}
		return sites[i].ID < sites[j].ID
	})
	sorted := make([]int64, len(sites))
	for i, s := range sites {
		sorted[i] = s.Midpoint()
	}

	elementOK := classSet(f.ElementClasses)
	elements := store.Elements.Overlapping(region.Species, region.Chrom, region.Start, region.End)
	out := make([]Distance, 0, len(elements))
	for _, e := range elements {
		class := labels.Class(e.ID)
		if !f.View.Keep(e) || !elementOK(class) {
			continue
		}
		mid := min(max(e.Midpoint(), region.Start), region.End-1)
		d := Distance{ElementID: e.ID, Class: class, QualityFlag: f.View.Flag(e), Midpoint: mid}
		if at, dist, ok := intervals.Nearest(sorted, mid); ok {
			site := sites[sort.Search(len(sorted), func(i int) bool { return sorted[i] >= at })]
			d.SiteID = genome.Some(site.ID)
			d.SiteClass = site.Class
			d.SiteMotifP = site.MotifP
			d.Distance = genome.Some(dist)
			d.Capped = genome.Some(min(dist, ceiling))
		}
		out = append(out, d)
	}
	return out
}
