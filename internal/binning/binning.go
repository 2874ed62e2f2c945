// Package binning builds per-class occupancy matrices over a resolved region.
package binning

import (
	"math"

	"regland/internal/intervals"
	"regland/internal/quality"
	"regland/internal/window"
	"regland/pkg/genome"
)

// AnyTissue disables the tissue filter, as does the empty string.
const AnyTissue = quality.AnyTissue

// Request describes one binning query. Tissue and KnownTissues pick the
// quality view the elements are read through; see quality.NewView.
type Request struct {
	Region       window.Region
	Bins         int
	Classes      []genome.ConservationClass
	Normalize    bool
	Tissue       string
	KnownTissues []string
}

// Bin is one half-open [Start, End) slice of the region.
type Bin struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Matrix holds one row per class and one column per bin.
type Matrix struct {
	Bins    []Bin                      `json:"bins"`
	Classes []genome.ConservationClass `json:"classes"`
	Counts  [][]float64                `json:"matrix"`
	TSSBin  genome.Optional[int]       `json:"tss_bin_index"`
}

// Row returns the counts of a class, or nil if the class was not requested.
func (m Matrix) Row(class genome.ConservationClass) []float64 {
	for i, c := range m.Classes {
		if c == class {
			return m.Counts[i]
		}
	}
	return nil
}

// Edges returns the N+1 float bin boundaries of [start, end). The last edge
// is exactly end.
func Edges(start, end int64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	width := float64(end-start) / float64(n)
	edges := make([]float64, n+1)
	for i := range edges {
		edges[i] = float64(start) + float64(i)*width
	}
	edges[n] = float64(end)
	return edges
}

// Compute counts, per class and bin, the elements of the region whose span
// overlaps the bin. Only scored elements of the request's quality view are
// counted. Unknown regions, empty spans and N <= 0 produce zero or
// empty matrices, never errors.
func Compute(store *intervals.Store, labels genome.LabelIndex, req Request) Matrix {
	classes := req.Classes
	if len(classes) == 0 {
		classes = genome.AllClasses
	}
	classes = append([]genome.ConservationClass(nil), classes...)
	n := max(req.Bins, 0)
	m := Matrix{Classes: classes, Counts: make([][]float64, len(classes)), Bins: make([]Bin, n)}
	for i := range m.Counts {
		m.Counts[i] = make([]float64, n)
	}
	if n == 0 {
		return m
	}

	r := req.Region
	edges := Edges(r.Start, r.End, n)
	for i := range m.Bins {
		m.Bins[i] = Bin{Start: edges[i], End: edges[i+1]}
	}
	if !r.Found || r.Start >= r.End {
		return m
	}

	row := make(map[genome.ConservationClass]int, len(classes))
	for i, c := range classes {
		if _, dup := row[c]; !dup {
			row[c] = i
		}
	}
	width := float64(r.End-r.Start) / float64(n)
	view := quality.NewView(req.Tissue, req.KnownTissues)
	for _, e := range store.Elements.Overlapping(r.Species, r.Chrom, r.Start, r.End) {
		if !view.Keep(e) {
			continue
		}
		idx, ok := row[labels.Class(e.ID)]
		if !ok {
			continue
		}
		lo := max(0, int(math.Floor(float64(e.Start-r.Start)/width))-1)
		hi := min(n-1, int(math.Floor(float64(e.End-r.Start)/width))+1)
		for b := lo; b <= hi; b++ {
			if float64(e.End) > edges[b] && float64(e.Start) < edges[b+1] {
				m.Counts[idx][b]++
			}
		}
	}

	if req.Normalize {
		for _, counts := range m.Counts {
			normalize(counts)
		}
	}
	if r.Contains(r.TSS) {
		b := min(n-1, int(math.Floor(float64(r.TSS-r.Start)/width)))
		for b > 0 && float64(r.TSS) < edges[b] {
			b--
		}
		for b < n-1 && float64(r.TSS) >= edges[b+1] {
			b++
		}
		m.TSSBin = genome.Some(b)
	}
	return m
}

// normalize rescales a row so its maximum is 1; all-zero rows stay zero.
func normalize(counts []float64) {
	var peak float64
	for _, v := range counts {
		peak = max(peak, v)
	}
	if peak == 0 {
		return
	}
	for i := range counts {
		counts[i] /= peak
	}
}
