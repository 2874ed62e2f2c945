package core

import (
	"cmp"
	"slices"
	"strings"

	"regland/internal/binning"
	"regland/internal/enrichment"
	"regland/internal/quality"
	"regland/internal/window"
	"regland/pkg/genome"
)

// Result limits of the lookup queries.
const (
	GeneSearchLimit  = 10
	GeneVariantLimit = 50
)

// ResolveDomain resolves the window or domain around a gene. Unknown genes
// and species yield a Region with Found == false.
func (s *Service) ResolveDomain(gene window.GeneRef, mode window.Mode, windowKb int64, snap bool) window.Region {
	return window.Resolve(s.Snapshot().Store, window.Query{Gene: gene, Mode: mode, WindowKb: windowKb, Snap: snap})
}

// Bin computes the per-class occupancy matrix of a region.
func (s *Service) Bin(region window.Region, nbins int, classes []genome.ConservationClass, normalize bool) binning.Matrix {
	return s.BinTissue(region, nbins, classes, normalize, "")
}

// BinTissue is Bin restricted to elements of one tissue; binning.AnyTissue
// keeps every tissue. A tissue from the configured set reads the
// high-confidence view; any other request reads the tissue-flexible view, so
// unscored elements never count.
func (s *Service) BinTissue(region window.Region, nbins int, classes []genome.ConservationClass, normalize bool, tissue string) binning.Matrix {
	snap := s.Snapshot()
	return binning.Compute(snap.Store, snap.Labels, binning.Request{
		Region:       region,
		Bins:         nbins,
		Classes:      classes,
		Normalize:    normalize,
		Tissue:       tissue,
		KnownTissues: s.cfg.KnownTissues,
	})
}

// Enrich tests whether variant overlap is enriched among the focus classes
// of the tissue-flexible view.
func (s *Service) Enrich(region window.Region, focus []genome.ConservationClass) enrichment.Result {
	snap := s.Snapshot()
	return enrichment.Enrich(snap.Store, snap.Labels, snap.Overlapped, region, focus, s.view(""))
}

// NearestDistance reports the nearest chromatin site of every element of the
// tissue-flexible view in the region.
func (s *Service) NearestDistance(region window.Region, capKb int64) []enrichment.Distance {
	return s.NearestDistanceFor(region, capKb, DistanceFilter{})
}

// DistanceFilter narrows NearestDistanceFor. Tissue picks the quality view as
// in BinTissue; an empty class list keeps every class.
type DistanceFilter struct {
	Tissue         string
	ElementClasses []genome.ConservationClass
	SiteClasses    []genome.ConservationClass
}

// NearestDistanceFor is NearestDistance over the elements and sites the
// filter keeps.
func (s *Service) NearestDistanceFor(region window.Region, capKb int64, f DistanceFilter) []enrichment.Distance {
	snap := s.Snapshot()
	return enrichment.NearestDistance(snap.Store, snap.Labels, region, capKb, enrichment.Filter{
		View:           s.view(f.Tissue),
		ElementClasses: f.ElementClasses,
		SiteClasses:    f.SiteClasses,
	})
}

func (s *Service) view(tissue string) quality.View {
	return quality.NewView(tissue, s.cfg.KnownTissues)
}

// SearchGenes matches symbols case-insensitively by substring within a
// species (any species when empty). Exact matches come first, then symbol
// order.
func (s *Service) SearchGenes(species, query string) []genome.Gene {
	q := strings.ToUpper(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var exact, partial []genome.Gene
	for _, g := range s.Snapshot().Store.GenesBySymbol(func(upper string) bool { return strings.Contains(upper, q) }) {
		if species != "" && g.Species != species {
			continue
		}
		if strings.EqualFold(g.Symbol, q) {
			exact = append(exact, g)
		} else {
			partial = append(partial, g)
		}
	}
	out := append(exact, partial...)
	if len(out) > GeneSearchLimit {
		out = out[:GeneSearchLimit]
	}
	return out
}

// GeneVariant is a variant reached from a gene through a linked element.
type GeneVariant struct {
	genome.Variant
	ElementID  int64             `json:"element_id"`
	Method     genome.LinkMethod `json:"method"`
	Distance   int64             `json:"distance_bp"`
	Confidence string            `json:"mapping_confidence"`
}

// VariantsForGene returns the variants overlapping elements linked to a
// gene. A variant reached through several elements keeps its best link.
// Results are ordered by link tier, distance, then p-value with unknown
// p-values last.
func (s *Service) VariantsForGene(gene window.GeneRef) []GeneVariant {
	snap := s.Snapshot()
	g, ok := snap.Store.FindGene(gene.Species, gene.Symbol)
	if !ok {
		return nil
	}
	best := make(map[int64]GeneVariant)
	for _, l := range snap.LinksForGene(g.ID) {
		for _, vid := range snap.elementVariants[l.ElementID] {
			v, ok := snap.Store.Variant(vid)
			if !ok {
				continue
			}
			cand := GeneVariant{Variant: v, ElementID: l.ElementID, Method: l.Method, Distance: l.Distance, Confidence: l.Method.Confidence()}
			if cur, seen := best[vid]; !seen || linkBefore(cand, cur) {
				best[vid] = cand
			}
		}
	}
	out := make([]GeneVariant, 0, len(best))
	for _, gv := range best {
		out = append(out, gv)
	}
	slices.SortFunc(out, func(a, b GeneVariant) int {
		if c := cmp.Compare(a.Method.Rank(), b.Method.Rank()); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		if c := comparePValues(a.PValue, b.PValue); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(out) > GeneVariantLimit {
		out = out[:GeneVariantLimit]
	}
	return out
}

func linkBefore(a, b GeneVariant) bool {
	if a.Method.Rank() != b.Method.Rank() {
		return a.Method.Rank() < b.Method.Rank()
	}
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.ElementID < b.ElementID
}

// comparePValues orders known p-values ascending before unknown ones.
func comparePValues(a, b genome.Optional[float64]) int {
	av, aok := a.Get()
	bv, bok := b.Get()
	switch {
	case aok && bok:
		return cmp.Compare(av, bv)
	case aok:
		return -1
	case bok:
		return 1
	}
	return 0
}

// CategoryCount is the number of variants in one trait category.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// VariantCategories counts variants per non-empty category, largest first.
func (s *Service) VariantCategories() []CategoryCount {
	counts := make(map[string]int)
	for _, v := range s.Snapshot().Store.Variants() {
		if v.Category != "" {
			counts[v.Category]++
		}
	}
	out := make([]CategoryCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, CategoryCount{Category: c, Count: n})
	}
	slices.SortFunc(out, func(a, b CategoryCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Category, b.Category)
	})
	return out
}

// variantGenes returns the distinct genes linked to the elements a variant
// overlaps, in symbol then id order.
func (snap *Snapshot) variantGenes(variantID int64) []genome.Gene {
	seen := make(map[int64]bool)
	var genes []genome.Gene
	for _, eid := range snap.variantElements[variantID] {
		for _, l := range snap.elementLinks[eid] {
			if seen[l.GeneID] {
				continue
			}
			seen[l.GeneID] = true
			if g, ok := snap.Store.Genes.Get(l.GeneID); ok {
				genes = append(genes, g)
			}
		}
	}
	slices.SortFunc(genes, func(a, b genome.Gene) int {
		if c := cmp.Compare(a.Symbol, b.Symbol); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return genes
}

// TraitFilter narrows TraitSummaries. Search matches trait, rsid, category
// or a linked gene symbol, case-insensitively.
type TraitFilter struct {
	Category string
	Search   string
	Limit    int
}

// TraitSummary aggregates the variants of one trait.
type TraitSummary struct {
	Trait        string                   `json:"trait"`
	Category     string                   `json:"category"`
	VariantCount int                      `json:"snp_count"`
	GeneCount    int                      `json:"gene_count"`
	MinPValue    genome.Optional[float64] `json:"min_pval"`
}

// TraitSummaries groups matching variants by trait, ordered by variant count
// descending then smallest p-value.
func (s *Service) TraitSummaries(f TraitFilter) []TraitSummary {
	snap := s.Snapshot()
	search := strings.ToLower(strings.TrimSpace(f.Search))
	type acc struct {
		sum   TraitSummary
		genes map[int64]bool
	}
	byTrait := make(map[string]*acc)
	for _, v := range snap.Store.Variants() {
		if v.Trait == "" || (f.Category != "" && v.Category != f.Category) {
			continue
		}
		genes := snap.variantGenes(v.ID)
		if search != "" && !variantMatches(v, genes, search) {
			continue
		}
		a, ok := byTrait[v.Trait]
		if !ok {
			a = &acc{sum: TraitSummary{Trait: v.Trait, Category: v.Category}, genes: make(map[int64]bool)}
			byTrait[v.Trait] = a
		}
		a.sum.VariantCount++
		if a.sum.Category == "" {
			a.sum.Category = v.Category
		}
		for _, g := range genes {
			a.genes[g.ID] = true
		}
		if p, ok := v.PValue.Get(); ok && p > 0 {
			if cur, known := a.sum.MinPValue.Get(); !known || p < cur {
				a.sum.MinPValue = genome.Some(p)
			}
		}
	}
	out := make([]TraitSummary, 0, len(byTrait))
	for _, a := range byTrait {
		a.sum.GeneCount = len(a.genes)
		out = append(out, a.sum)
	}
	slices.SortFunc(out, func(a, b TraitSummary) int {
		if c := cmp.Compare(b.VariantCount, a.VariantCount); c != 0 {
			return c
		}
		if c := comparePValues(a.MinPValue, b.MinPValue); c != 0 {
			return c
		}
		return cmp.Compare(a.Trait, b.Trait)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func variantMatches(v genome.Variant, genes []genome.Gene, search string) bool {
	for _, field := range []string{v.Trait, v.RsID, v.Category} {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	for _, g := range genes {
		if strings.Contains(strings.ToLower(g.Symbol), search) {
			return true
		}
	}
	return false
}

// TraitVariant is a variant of a trait with its linked gene symbols.
type TraitVariant struct {
	genome.Variant
	Genes []string `json:"genes"`
}

// TraitVariants lists the variants of a trait by ascending p-value, unknown
// p-values last, together with the total before limit is applied.
func (s *Service) TraitVariants(trait string, limit int) ([]TraitVariant, int) {
	snap := s.Snapshot()
	var out []TraitVariant
	for _, v := range snap.Store.Variants() {
		if v.Trait != trait {
			continue
		}
		tv := TraitVariant{Variant: v, Genes: []string{}}
		for _, g := range snap.variantGenes(v.ID) {
			tv.Genes = append(tv.Genes, g.Symbol)
		}
		out = append(out, tv)
	}
	slices.SortFunc(out, func(a, b TraitVariant) int {
		if c := comparePValues(a.PValue, b.PValue); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	total := len(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, total
}

// DomainCount is the number of elements whose midpoint lies in a domain.
type DomainCount struct {
	Domain   genome.Domain                    `json:"domain"`
	Elements int                              `json:"elements"`
	ByClass  map[genome.ConservationClass]int `json:"by_class"`
}

// ElementsPerDomain counts elements per domain of a species, optionally on a
// single chromosome, in chromosome and start order.
func (s *Service) ElementsPerDomain(species, chrom string) []DomainCount {
	snap := s.Snapshot()
	var out []DomainCount
	for _, c := range snap.Store.Domains.Contigs() {
		if c.Species != species || (chrom != "" && c.Chrom != chrom) {
			continue
		}
		for _, d := range snap.Store.Domains.OnContig(c.Species, c.Chrom) {
			dc := DomainCount{Domain: d, ByClass: make(map[genome.ConservationClass]int)}
			for _, e := range snap.Store.Elements.Overlapping(c.Species, c.Chrom, d.Start, d.End) {
				if !d.Contains(e.Midpoint()) {
					continue
				}
				dc.Elements++
				dc.ByClass[snap.Labels.Class(e.ID)]++
			}
			out = append(out, dc)
		}
	}
	slices.SortStableFunc(out, func(a, b DomainCount) int {
		if c := cmp.Compare(a.Domain.Chrom, b.Domain.Chrom); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Domain.Start, b.Domain.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.Domain.ID, b.Domain.ID)
	})
	return out
}

// TissueCoverage grades element counts per tissue, for one species or all
// when species is empty.
func (s *Service) TissueCoverage(species string) []quality.TissueCoverage {
	all := quality.Coverage(s.Snapshot().Dataset().Elements)
	if species == "" {
		return all
	}
	out := make([]quality.TissueCoverage, 0, len(all))
	for _, c := range all {
		if c.Species == species {
			out = append(out, c)
		}
	}
	return out
}

// QualitySummary returns the per-species element and link summary.
func (s *Service) QualitySummary() []quality.SpeciesSummary {
	snap := s.Snapshot()
	return quality.Summarize(snap.Dataset(), snap.Tables.Links, s.cfg.KnownTissues)
}

// QualityReport builds the full data quality report of the current snapshot.
func (s *Service) QualityReport() quality.Report {
	snap := s.Snapshot()
	return quality.BuildReport(snap.Dataset(), snap.Tables, s.cfg.KnownTissues)
}

// StandardizedScores returns per-source z-scores and quality flags.
func (s *Service) StandardizedScores() []quality.Standardized {
	return quality.Standardize(s.Snapshot().Dataset().Elements, s.cfg.KnownTissues)
}

// HighConfidenceElements returns scored elements of a known tissue.
func (s *Service) HighConfidenceElements() []genome.Element {
	return quality.HighConfidence(s.Snapshot().Dataset().Elements, s.cfg.KnownTissues)
}

// TissueFlexibleElements returns scored elements of a known or absent
// tissue.
func (s *Service) TissueFlexibleElements() []genome.Element {
	return quality.TissueFlexible(s.Snapshot().Dataset().Elements, s.cfg.KnownTissues)
}
