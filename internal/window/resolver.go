// Package window resolves the genomic region shown around a gene, either as a
// fixed window centred on the TSS or snapped to the smallest enclosing domain.
package window

import (
	"strings"

	"regland/internal/intervals"
	"regland/pkg/genome"
)

// Mode selects how a region is resolved.
type Mode string

const (
	ModeTSS    Mode = "tss"
	ModeDomain Mode = "domain"
)

// DefaultWindowKb is used when a query carries no positive window.
const DefaultWindowKb int64 = 100

// ParseMode maps user input onto a mode; anything unrecognized is TSS mode.
func ParseMode(s string) Mode {
	if Mode(strings.ToLower(strings.TrimSpace(s))) == ModeDomain {
		return ModeDomain
	}
	return ModeTSS
}

// GeneRef names a gene by species and symbol.
type GeneRef struct {
	Species string `json:"species"`
	Symbol  string `json:"symbol"`
}

// Query is one resolve request.
type Query struct {
	Gene     GeneRef
	Mode     Mode
	WindowKb int64
	// Snap enables domain snapping in domain mode.
	Snap bool
}

// Region is a resolved region. When Found is false the gene or species is
// unknown and every other field is zero.
type Region struct {
	genome.Interval
	Found    bool                   `json:"found"`
	GeneID   int64                  `json:"gene_id"`
	Symbol   string                 `json:"symbol"`
	TSS      int64                  `json:"tss"`
	Mode     Mode                   `json:"mode"`
	DomainID genome.Optional[int64] `json:"domain_id"`
}

// Resolve looks the gene up and resolves its region.
func Resolve(store *intervals.Store, q Query) Region {
	gene, ok := store.FindGene(q.Gene.Species, q.Gene.Symbol)
	if !ok {
		return Region{}
	}
	return ResolveGene(store, gene, q.Mode, q.WindowKb, q.Snap)
}

// ResolveGene resolves the region for a known gene. Domain mode falls back to
// the TSS window when snapping is off or no domain contains the TSS; the
// returned Mode records the mode actually used.
func ResolveGene(store *intervals.Store, gene genome.Gene, mode Mode, windowKb int64, snap bool) Region {
	r := Region{Found: true, GeneID: gene.ID, Symbol: gene.Symbol, TSS: gene.TSS()}
	if mode == ModeDomain && snap {
		if d, ok := SmallestEnclosingDomain(store, gene.Species, gene.Chrom, gene.TSS()); ok {
			r.Interval = d.Interval
			r.Mode = ModeDomain
			r.DomainID = genome.Some(d.ID)
			return r
		}
	}
	r.Interval = TSSWindow(gene, windowKb)
	r.Mode = ModeTSS
	return r
}

// TSSWindow returns [max(0, TSS-hw), TSS+hw) with hw = windowKb*1000.
func TSSWindow(gene genome.Gene, windowKb int64) genome.Interval {
	if windowKb <= 0 {
		windowKb = DefaultWindowKb
	}
	hw := windowKb * 1000
	tss := gene.TSS()
	return genome.Interval{Species: gene.Species, Chrom: gene.Chrom, Start: max(0, tss-hw), End: tss + hw}
}

// SmallestEnclosingDomain returns the domain with start <= pos < end and the
// minimum span; ties go to the lowest start, then the lowest id.
func SmallestEnclosingDomain(store *intervals.Store, species, chrom string, pos int64) (genome.Domain, bool) {
	var best genome.Domain
	found := false
	for _, d := range store.Domains.Containing(species, chrom, pos) {
		if !found || better(d, best) {
			best, found = d, true
		}
	}
	return best, found
}

func better(a, b genome.Domain) bool {
	if a.Span() != b.Span() {
		return a.Span() < b.Span()
	}
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return a.ID < b.ID
}
