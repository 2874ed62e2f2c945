package quality

import (
	"sort"

	"regland/pkg/genome"
)

// Coverage levels by element count.
const (
	CoverageCritical = "critical"
	CoverageLow      = "low"
	CoverageMedium   = "medium"
	CoverageGood     = "good"
)

// CoverageLevel grades an element count.
func CoverageLevel(n int) string {
	switch {
	case n < 100:
		return CoverageCritical
	case n < 1_000:
		return CoverageLow
	case n < 10_000:
		return CoverageMedium
	default:
		return CoverageGood
	}
}

// TissueCoverage is the element count of one species and tissue.
type TissueCoverage struct {
	Species string `json:"species"`
	Tissue  string `json:"tissue"`
	Count   int    `json:"count"`
	Level   string `json:"coverage_level"`
}

// Coverage counts elements per species and tissue category, including the
// unknown category, ordered by species then descending count then tissue.
func Coverage(elements []genome.Element) []TissueCoverage {
	type key struct{ species, tissue string }
	counts := make(map[key]int)
	for _, e := range elements {
		counts[key{e.Species, e.TissueCategory()}]++
	}
	out := make([]TissueCoverage, 0, len(counts))
	for k, n := range counts {
		out = append(out, TissueCoverage{Species: k.species, Tissue: k.tissue, Count: n, Level: CoverageLevel(n)})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Species != b.Species {
			return a.Species < b.Species
		}
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Tissue < b.Tissue
	})
	return out
}

// SpeciesSummary is the per-species quality summary.
type SpeciesSummary struct {
	Species        string `json:"species"`
	Elements       int    `json:"elements"`
	Scored         int    `json:"scored"`
	HighConfidence int    `json:"high_confidence"`
	Tissues        int    `json:"tissues"`
	Chromosomes    int    `json:"chromosomes"`
	Links          int    `json:"links"`
}

// Summarize builds one summary row per species that has elements.
func Summarize(d genome.Dataset, links []genome.Link, known []string) []SpeciesSummary {
	set := tissueSet(known)
	type acc struct {
		SpeciesSummary
		tissues map[string]struct{}
		chroms  map[string]struct{}
	}
	rows := make(map[string]*acc)
	speciesOf := make(map[int64]string, len(d.Elements))
	for _, e := range d.Elements {
		a, ok := rows[e.Species]
		if !ok {
			a = &acc{SpeciesSummary: SpeciesSummary{Species: e.Species}, tissues: map[string]struct{}{}, chroms: map[string]struct{}{}}
			rows[e.Species] = a
		}
		speciesOf[e.ID] = e.Species
		a.Elements++
		if e.Score.Known() {
			a.Scored++
		}
		if flag(e, set) == FlagHighConfidence {
			a.HighConfidence++
		}
		a.tissues[e.TissueCategory()] = struct{}{}
		a.chroms[e.Chrom] = struct{}{}
	}
	for _, l := range links {
		if sp, ok := speciesOf[l.ElementID]; ok {
			rows[sp].Links++
		}
	}
	out := make([]SpeciesSummary, 0, len(rows))
	for _, a := range rows {
		a.Tissues = len(a.tissues)
		a.Chromosomes = len(a.chroms)
		out = append(out, a.SpeciesSummary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Species < out[j].Species })
	return out
}

// MissingData counts elements by which optional fields are absent.
type MissingData struct {
	Complete      int `json:"complete"`
	TissueMissing int `json:"tissue_missing"`
	ScoreMissing  int `json:"score_missing"`
	BothMissing   int `json:"both_missing"`
}

// ScoreDistribution describes the known scores.
type ScoreDistribution struct {
	N      int                      `json:"n"`
	Min    genome.Optional[float64] `json:"min"`
	Max    genome.Optional[float64] `json:"max"`
	Mean   genome.Optional[float64] `json:"mean"`
	Median genome.Optional[float64] `json:"median"`
}

// Report is the dataset quality report.
type Report struct {
	Summary      []SpeciesSummary  `json:"summary"`
	Coverage     []TissueCoverage  `json:"coverage"`
	Missing      MissingData       `json:"missing"`
	Scores       ScoreDistribution `json:"scores"`
	Sources      []SourceStats     `json:"sources"`
	Orphans      []Orphan          `json:"orphans"`
	UnlinkedGene int               `json:"unlinked_genes"`
}

// BuildReport assembles the full quality report.
func BuildReport(d genome.Dataset, derived genome.DerivedTables, known []string) Report {
	r := Report{
		Summary:  Summarize(d, derived.Links, known),
		Coverage: Coverage(d.Elements),
		Sources:  Stats(d.Elements),
		Orphans:  Orphans(d, derived),
	}
	var scores []float64
	for _, e := range d.Elements {
		hasTissue, hasScore := e.Tissue.Known(), e.Score.Known()
		switch {
		case hasTissue && hasScore:
			r.Missing.Complete++
		case !hasTissue && !hasScore:
			r.Missing.BothMissing++
		case !hasTissue:
			r.Missing.TissueMissing++
		default:
			r.Missing.ScoreMissing++
		}
		if s, ok := e.Score.Get(); ok {
			scores = append(scores, s)
		}
	}
	r.Scores = distribution(scores)

	linked := make(map[int64]struct{}, len(derived.Links))
	for _, l := range derived.Links {
		linked[l.GeneID] = struct{}{}
	}
	for _, g := range d.Genes {
		if _, ok := linked[g.ID]; !ok {
			r.UnlinkedGene++
		}
	}
	return r
}

func distribution(scores []float64) ScoreDistribution {
	dist := ScoreDistribution{N: len(scores)}
	if len(scores) == 0 {
		return dist
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	var sum float64
	for _, s := range sorted {
		sum += s
	}
	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	dist.Min = genome.Some(sorted[0])
	dist.Max = genome.Some(sorted[n-1])
	dist.Mean = genome.Some(sum / float64(n))
	dist.Median = genome.Some(median)
	return dist
}
