package core

import (
	"time"

	"regland/internal/conservation"
	"regland/internal/enrichment"
	"regland/internal/intervals"
	"regland/pkg/genome"
)

// Snapshot is one immutable generation of the engine: the indexed input
// dataset plus the derived tables of the last committed refresh. Readers load
// it once per query and never observe a partially built generation.
type Snapshot struct {
	Store      *intervals.Store
	Tables     genome.DerivedTables
	Labels     genome.LabelIndex
	Overlapped map[int64]int
	Clusters   []conservation.Cluster
	BuiltAt    time.Time

	geneLinks       map[int64][]genome.Link
	elementLinks    map[int64][]genome.Link
	elementVariants map[int64][]int64
	variantElements map[int64][]int64
}

func newSnapshot(store *intervals.Store, tables genome.DerivedTables, clusters []conservation.Cluster, builtAt time.Time) *Snapshot {
	snap := &Snapshot{
		Store:      store,
		Tables:     tables,
		Labels:     genome.NewLabelIndex(tables.Labels),
		Overlapped: enrichment.OverlapCounts(tables.Overlaps),
		Clusters:   clusters,
		BuiltAt:    builtAt,

		geneLinks:       make(map[int64][]genome.Link),
		elementLinks:    make(map[int64][]genome.Link),
		elementVariants: make(map[int64][]int64),
		variantElements: make(map[int64][]int64),
	}
	for _, l := range tables.Links {
		snap.geneLinks[l.GeneID] = append(snap.geneLinks[l.GeneID], l)
		snap.elementLinks[l.ElementID] = append(snap.elementLinks[l.ElementID], l)
	}
	for _, o := range tables.Overlaps {
		snap.elementVariants[o.ElementID] = append(snap.elementVariants[o.ElementID], o.VariantID)
		snap.variantElements[o.VariantID] = append(snap.variantElements[o.VariantID], o.ElementID)
	}
	return snap
}

// Dataset implements genome.RuleView.
func (s *Snapshot) Dataset() genome.Dataset { return s.Store.Dataset() }

// Derived implements genome.RuleView.
func (s *Snapshot) Derived() genome.DerivedTables { return s.Tables }

// LinksForGene returns the links of one gene in table order.
func (s *Snapshot) LinksForGene(geneID int64) []genome.Link {
	return s.geneLinks[geneID]
}
