// Package linker links regulatory elements to genes through a tiered,
// tie-broken priority rule and records which variants fall inside elements.
package linker

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"regland/internal/intervals"
	"regland/pkg/genome"
)

// Defaults for the tier parameters.
const (
	DefaultPromoterBP     int64 = 2_000
	DefaultNearestMaxBP   int64 = 100_000
	DefaultWindowCapBP    int64 = 500_000
	DefaultVariantSpecies       = "human_hg38"
)

// Config holds the tier parameters of one linking pass.
type Config struct {
	PromoterBP   int64
	NearestMaxBP int64
	WindowCapBP  int64
	// VariantSpecies is the assembly variant positions are expressed in.
	VariantSpecies string
	// Parallelism bounds concurrent per-contig work; <= 0 means unbounded.
	Parallelism int
}

// DefaultConfig returns the standard tier parameters.
func DefaultConfig() Config {
	return Config{
		PromoterBP:     DefaultPromoterBP,
		NearestMaxBP:   DefaultNearestMaxBP,
		WindowCapBP:    DefaultWindowCapBP,
		VariantSpecies: DefaultVariantSpecies,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PromoterBP <= 0 {
		c.PromoterBP = d.PromoterBP
	}
	if c.NearestMaxBP <= 0 {
		c.NearestMaxBP = d.NearestMaxBP
	}
	if c.WindowCapBP <= 0 {
		c.WindowCapBP = d.WindowCapBP
	}
	if c.VariantSpecies == "" {
		c.VariantSpecies = d.VariantSpecies
	}
	return c
}

// Output is the full replacement for the link and overlap tables.
type Output struct {
	Links    []genome.Link
	Overlaps []genome.VariantOverlap
}

// Link builds every gene/element link and variant/element overlap.
func Link(ctx context.Context, store *intervals.Store, cfg Config) (Output, error) {
	cfg = cfg.withDefaults()
	contigs := store.Elements.Contigs()
	links := make([][]genome.Link, len(contigs))
	overlaps := make([][]genome.VariantOverlap, len(contigs))

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Parallelism > 0 {
		g.SetLimit(cfg.Parallelism)
	}
	for i, c := range contigs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			elements := store.Elements.OnContig(c.Species, c.Chrom)
			links[i] = linkContig(store, c, elements, cfg)
			if c.Species == cfg.VariantSpecies {
				overlaps[i] = overlapContig(store, c.Chrom, elements)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Output{}, fmt.Errorf("link contigs: %w", err)
	}

	var out Output
	for i := range contigs {
		out.Links = append(out.Links, links[i]...)
		out.Overlaps = append(out.Overlaps, overlaps[i]...)
	}
	sort.Slice(out.Links, func(i, j int) bool {
		a, b := out.Links[i], out.Links[j]
		if a.GeneID != b.GeneID {
			return a.GeneID < b.GeneID
		}
		return a.ElementID < b.ElementID
	})
	sort.Slice(out.Overlaps, func(i, j int) bool {
		a, b := out.Overlaps[i], out.Overlaps[j]
		if a.VariantID != b.VariantID {
			return a.VariantID < b.VariantID
		}
		return a.ElementID < b.ElementID
	})
	return out, nil
}

// genesNear returns the genes whose TSS lies within [lo, hi]. genes must be
// sorted by start, which is the TSS.
func genesNear(genes []genome.Gene, lo, hi int64) []genome.Gene {
	from := sort.Search(len(genes), func(i int) bool { return genes[i].TSS() >= lo })
	to := sort.Search(len(genes), func(i int) bool { return genes[i].TSS() > hi })
	if from >= to {
		return nil
	}
	return genes[from:to]
}

func linkContig(store *intervals.Store, c intervals.Contig, elements []genome.Element, cfg Config) []genome.Link {
	genes := store.Genes.OnContig(c.Species, c.Chrom)
	if len(genes) == 0 {
		return nil
	}
	tss := make([]int64, len(genes))
	for i, gene := range genes {
		tss[i] = gene.TSS()
	}

	var tagged []genome.Link
	for _, e := range elements {
		mid := e.Midpoint()

		for _, gene := range genesNear(genes, mid-cfg.PromoterBP, mid+cfg.PromoterBP) {
			tagged = append(tagged, genome.Link{GeneID: gene.ID, ElementID: e.ID, Method: genome.MethodPromoter, Distance: genome.AbsDiff(mid, gene.TSS())})
		}

		for _, gene := range store.Genes.Overlapping(c.Species, c.Chrom, e.Start, e.End) {
			var dist int64
			if !gene.Encloses(e.Interval) {
				dist = min(genome.AbsDiff(mid, gene.Start), genome.AbsDiff(mid, gene.End))
			}
			tagged = append(tagged, genome.Link{GeneID: gene.ID, ElementID: e.ID, Method: genome.MethodOverlap, Distance: dist})
		}

		if at, dist, ok := intervals.Nearest(tss, mid); ok && dist <= cfg.NearestMaxBP {
			// Several genes may share the winning TSS, or sit at the mirror
			// position on the other side; the lowest gene id wins.
			var best *genome.Gene
			for _, gene := range genesNear(genes, min(at, 2*mid-at), max(at, 2*mid-at)) {
				if genome.AbsDiff(mid, gene.TSS()) != dist {
					continue
				}
				if best == nil || gene.ID < best.ID {
					best = &gene
				}
			}
			if best != nil {
				tagged = append(tagged, genome.Link{GeneID: best.ID, ElementID: e.ID, Method: genome.MethodNearest, Distance: dist})
			}
		}

		for _, gene := range genesNear(genes, mid-cfg.WindowCapBP, mid+cfg.WindowCapBP) {
			tagged = append(tagged, genome.Link{GeneID: gene.ID, ElementID: e.ID, Method: genome.MethodWindow, Distance: genome.AbsDiff(mid, gene.TSS())})
		}
	}
	return fold(tagged)
}

// fold keeps, for every pair, the candidate of the highest-priority tier and
// within that tier the minimum distance.
func fold(tagged []genome.Link) []genome.Link {
	sort.Slice(tagged, func(i, j int) bool {
		a, b := tagged[i], tagged[j]
		if a.GeneID != b.GeneID {
			return a.GeneID < b.GeneID
		}
		if a.ElementID != b.ElementID {
			return a.ElementID < b.ElementID
		}
		if a.Method.Rank() != b.Method.Rank() {
			return a.Method.Rank() < b.Method.Rank()
		}
		return a.Distance < b.Distance
	})
	out := tagged[:0]
	for _, l := range tagged {
		if n := len(out); n > 0 && out[n-1].GeneID == l.GeneID && out[n-1].ElementID == l.ElementID {
			continue
		}
		out = append(out, l)
	}
	return out
}

func overlapContig(store *intervals.Store, chrom string, elements []genome.Element) []genome.VariantOverlap {
	var out []genome.VariantOverlap
	for _, e := range elements {
		for _, v := range store.VariantsIn(chrom, e.Start, e.End) {
			out = append(out, genome.VariantOverlap{VariantID: v.ID, ElementID: e.ID})
		}
	}
	return out
}
