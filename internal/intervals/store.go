package intervals

import (
	"fmt"
	"sort"
	"strings"

	"regland/pkg/genome"
)

// Store is the typed, read-only snapshot of every interval collection in a
// dataset. It is built once per refresh and never mutated afterwards.
type Store struct {
	Genes    *Index[genome.Gene]
	Elements *Index[genome.Element]
	Sites    *Index[genome.ChromatinSite]
	Domains  *Index[genome.Domain]
	Evidence *Index[genome.LineageEvidence]

	dataset  genome.Dataset
	variants map[string][]genome.Variant
	varByID  map[int64]genome.Variant
	symbols  map[string][]genome.Gene
}

// NewStore validates the dataset and indexes it. Malformed intervals are
// rejected here, never clamped.
func NewStore(d genome.Dataset) (*Store, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("validate dataset: %w", err)
	}
	s := &Store{
		Genes:    New(d.Genes, func(g genome.Gene) genome.Interval { return g.Interval }, func(g genome.Gene) int64 { return g.ID }),
		Elements: New(d.Elements, func(e genome.Element) genome.Interval { return e.Interval }, func(e genome.Element) int64 { return e.ID }),
		Sites:    New(d.Sites, func(c genome.ChromatinSite) genome.Interval { return c.Interval }, func(c genome.ChromatinSite) int64 { return c.ID }),
		Domains:  New(d.Domains, func(t genome.Domain) genome.Interval { return t.Interval }, func(t genome.Domain) int64 { return t.ID }),
		Evidence: New(d.Evidence, func(e genome.LineageEvidence) genome.Interval { return e.Interval }, func(e genome.LineageEvidence) int64 { return e.ID }),
		dataset:  d,
		variants: make(map[string][]genome.Variant),
		varByID:  make(map[int64]genome.Variant, len(d.Variants)),
		symbols:  make(map[string][]genome.Gene),
	}
	for _, v := range d.Variants {
		s.variants[v.Chrom] = append(s.variants[v.Chrom], v)
		s.varByID[v.ID] = v
	}
	for chrom := range s.variants {
		vs := s.variants[chrom]
		sort.Slice(vs, func(i, j int) bool {
			if vs[i].Pos != vs[j].Pos {
				return vs[i].Pos < vs[j].Pos
			}
			return vs[i].ID < vs[j].ID
		})
	}
	for _, g := range s.Genes.All() {
		key := strings.ToUpper(g.Symbol)
		s.symbols[key] = append(s.symbols[key], g)
	}
	for key := range s.symbols {
		gs := s.symbols[key]
		sort.Slice(gs, func(i, j int) bool { return gs[i].ID < gs[j].ID })
	}
	return s, nil
}

// Dataset returns the batch the store was built from.
func (s *Store) Dataset() genome.Dataset { return s.dataset }

// FindGene resolves a gene by case-insensitive symbol within a species. When
// several genes share the symbol the lowest id wins.
func (s *Store) FindGene(species, symbol string) (genome.Gene, bool) {
	for _, g := range s.symbols[strings.ToUpper(strings.TrimSpace(symbol))] {
		if g.Species == species {
			return g, true
		}
	}
	return genome.Gene{}, false
}

// GenesBySymbol returns every gene whose upper-cased symbol passes match, in
// symbol then id order.
func (s *Store) GenesBySymbol(match func(upper string) bool) []genome.Gene {
	keys := make([]string, 0, len(s.symbols))
	for k := range s.symbols {
		if match(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var out []genome.Gene
	for _, k := range keys {
		out = append(out, s.symbols[k]...)
	}
	return out
}

// HasSpecies reports whether any gene or element belongs to species.
func (s *Store) HasSpecies(species string) bool {
	for _, sp := range s.Genes.Species() {
		if sp == species {
			return true
		}
	}
	for _, sp := range s.Elements.Species() {
		if sp == species {
			return true
		}
	}
	return false
}

// Variant returns a variant by id.
func (s *Store) Variant(id int64) (genome.Variant, bool) {
	v, ok := s.varByID[id]
	return v, ok
}

// Variants returns every variant ordered by chromosome, position and id.
func (s *Store) Variants() []genome.Variant {
	chroms := make([]string, 0, len(s.variants))
	for c := range s.variants {
		chroms = append(chroms, c)
	}
	sort.Strings(chroms)
	out := make([]genome.Variant, 0, len(s.varByID))
	for _, c := range chroms {
		out = append(out, s.variants[c]...)
	}
	return out
}

// VariantsIn returns variants with start <= pos < end on chrom.
func (s *Store) VariantsIn(chrom string, start, end int64) []genome.Variant {
	vs := s.variants[chrom]
	lo := sort.Search(len(vs), func(i int) bool { return vs[i].Pos >= start })
	hi := sort.Search(len(vs), func(i int) bool { return vs[i].Pos >= end })
	if lo >= hi {
		return nil
	}
	return append([]genome.Variant(nil), vs[lo:hi]...)
}
