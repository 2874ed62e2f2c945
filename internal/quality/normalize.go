// Package quality standardizes element scores, exposes the filtered read
// views, guards the derived link tables and reports data coverage.
package quality

import (
	"math"
	"sort"
	"strings"

	"regland/pkg/genome"
)

// DefaultKnownTissues is the tissue set of the high-confidence view.
var DefaultKnownTissues = []string{"Brain", "Heart", "Liver"}

// Quality flags attached to every element.
const (
	FlagHighConfidence = "high_confidence"
	FlagTissueUnknown  = "tissue_unknown"
	FlagScoreMissing   = "score_missing"
	FlagStandard       = "standard"
)

// SourceStats summarizes the scores of one source.
type SourceStats struct {
	Source string                   `json:"source"`
	N      int                      `json:"n"`
	Mean   genome.Optional[float64] `json:"mean"`
	SD     genome.Optional[float64] `json:"sd"`
}

// Standardized is the z-score of one element.
type Standardized struct {
	ElementID int64                    `json:"element_id"`
	Source    string                   `json:"source"`
	Score     genome.Optional[float64] `json:"score"`
	Z         genome.Optional[float64] `json:"z"`
	Flag      string                   `json:"quality_flag"`
}

// Stats computes the per-source mean and sample standard deviation over
// scored elements, sorted by source. SD needs at least two scores.
func Stats(elements []genome.Element) []SourceStats {
	scores := make(map[string][]float64)
	var sources []string
	for _, e := range elements {
		if _, seen := scores[e.Source]; !seen {
			sources = append(sources, e.Source)
			scores[e.Source] = nil
		}
		if s, ok := e.Score.Get(); ok {
			scores[e.Source] = append(scores[e.Source], s)
		}
	}
	sort.Strings(sources)
	out := make([]SourceStats, 0, len(sources))
	for _, src := range sources {
		vals := scores[src]
		st := SourceStats{Source: src, N: len(vals)}
		if len(vals) > 0 {
			var sum float64
			for _, v := range vals {
				sum += v
			}
			mean := sum / float64(len(vals))
			st.Mean = genome.Some(mean)
			if len(vals) >= 2 {
				var ss float64
				for _, v := range vals {
					ss += (v - mean) * (v - mean)
				}
				st.SD = genome.Some(math.Sqrt(ss / float64(len(vals)-1)))
			}
		}
		out = append(out, st)
	}
	return out
}

// Standardize returns one row per element in input order. Z is unknown when
// the element has no score, or its source has fewer than two scores or zero
// spread.
func Standardize(elements []genome.Element, known []string) []Standardized {
	bySource := make(map[string]SourceStats)
	for _, st := range Stats(elements) {
		bySource[st.Source] = st
	}
	set := tissueSet(known)
	out := make([]Standardized, len(elements))
	for i, e := range elements {
		row := Standardized{ElementID: e.ID, Source: e.Source, Score: e.Score, Flag: flag(e, set)}
		st := bySource[e.Source]
		score, scored := e.Score.Get()
		mean, _ := st.Mean.Get()
		sd, hasSD := st.SD.Get()
		if scored && st.N >= 2 && hasSD && sd > 0 {
			row.Z = genome.Some((score - mean) / sd)
		}
		out[i] = row
	}
	return out
}

// HighConfidence keeps elements with a score and a tissue from the known set.
func HighConfidence(elements []genome.Element, known []string) []genome.Element {
	set := tissueSet(known)
	var out []genome.Element
	for _, e := range elements {
		t, ok := e.Tissue.Get()
		if e.Score.Known() && ok && set[strings.ToLower(t)] {
			out = append(out, e)
		}
	}
	return out
}

// TissueFlexible keeps elements with a score whose tissue is in the known set
// or absent. Absent tissues stay in the view as the unknown category.
func TissueFlexible(elements []genome.Element, known []string) []genome.Element {
	set := tissueSet(known)
	var out []genome.Element
	for _, e := range elements {
		if !e.Score.Known() {
			continue
		}
		t, ok := e.Tissue.Get()
		if !ok || set[strings.ToLower(t)] {
			out = append(out, e)
		}
	}
	return out
}

// Flag returns the quality flag of one element.
func Flag(e genome.Element, known []string) string {
	return flag(e, tissueSet(known))
}

func flag(e genome.Element, set map[string]bool) string {
	t, hasTissue := e.Tissue.Get()
	switch {
	case e.Score.Known() && hasTissue && set[strings.ToLower(t)]:
		return FlagHighConfidence
	case !hasTissue:
		return FlagTissueUnknown
	case !e.Score.Known():
		return FlagScoreMissing
	default:
		return FlagStandard
	}
}

func tissueSet(known []string) map[string]bool {
	if len(known) == 0 {
		known = DefaultKnownTissues
	}
	set := make(map[string]bool, len(known))
	for _, t := range known {
		set[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return set
}
