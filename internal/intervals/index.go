// Package intervals provides the read-only IntervalStore: collections of
// genomic records indexed by species and chromosome for range queries.
package intervals

import (
	"sort"

	"github.com/biogo/store/interval"

	"regland/pkg/genome"
)

// Contig identifies one chromosome of one species.
type Contig struct {
	Species string
	Chrom   string
}

// span is a half-open [Start, End) range. As a tree entry its ID is the
// position of the record in the sorted contig slice.
type span struct {
	pos int
	r   interval.IntRange
}

func (s span) Overlap(b interval.IntRange) bool { return b.Start < s.r.End && s.r.Start < b.End }
func (s span) ID() uintptr                      { return uintptr(s.pos) }
func (s span) Range() interval.IntRange         { return s.r }

type bucket[T any] struct {
	items []T
	tree  interval.IntTree
}

// Index is an immutable per-contig interval tree. Items on a contig are
// ordered by (start, end, key) so that every query result is deterministic.
type Index[T any] struct {
	loc     func(T) genome.Interval
	key     func(T) int64
	contigs map[Contig]*bucket[T]
	order   []Contig
	byKey   map[int64]T
	size    int
}

// New builds an index. The input slice is not retained.
func New[T any](items []T, loc func(T) genome.Interval, key func(T) int64) *Index[T] {
	idx := &Index[T]{
		loc:     loc,
		key:     key,
		contigs: make(map[Contig]*bucket[T]),
		byKey:   make(map[int64]T, len(items)),
		size:    len(items),
	}
	for _, item := range items {
		iv := loc(item)
		c := Contig{Species: iv.Species, Chrom: iv.Chrom}
		b, ok := idx.contigs[c]
		if !ok {
			b = &bucket[T]{}
			idx.contigs[c] = b
			idx.order = append(idx.order, c)
		}
		b.items = append(b.items, item)
		idx.byKey[key(item)] = item
	}
	sort.Slice(idx.order, func(i, j int) bool {
		if idx.order[i].Species != idx.order[j].Species {
			return idx.order[i].Species < idx.order[j].Species
		}
		return idx.order[i].Chrom < idx.order[j].Chrom
	})
	for _, b := range idx.contigs {
		sort.SliceStable(b.items, func(i, j int) bool {
			a, c := loc(b.items[i]), loc(b.items[j])
			if a.Start != c.Start {
				return a.Start < c.Start
			}
			if a.End != c.End {
				return a.End < c.End
			}
			return key(b.items[i]) < key(b.items[j])
		})
		for i, item := range b.items {
			iv := loc(item)
			// Empty or inverted spans overlap nothing; the tree rejects them.
			_ = b.tree.Insert(span{pos: i, r: interval.IntRange{Start: int(iv.Start), End: int(iv.End)}}, true)
		}
		b.tree.AdjustRanges()
	}
	return idx
}

// Len returns the number of indexed records.
func (x *Index[T]) Len() int { return x.size }

// Get returns the record with the given key.
func (x *Index[T]) Get(key int64) (T, bool) {
	v, ok := x.byKey[key]
	return v, ok
}

// Contigs returns every contig in (species, chrom) order.
func (x *Index[T]) Contigs() []Contig {
	return append([]Contig(nil), x.order...)
}

// Species returns the distinct species in sorted order.
func (x *Index[T]) Species() []string {
	var out []string
	for _, c := range x.order {
		if len(out) == 0 || out[len(out)-1] != c.Species {
			out = append(out, c.Species)
		}
	}
	return out
}

// OnContig returns the sorted records of one contig. The returned slice is
// shared with the index and must not be modified.
func (x *Index[T]) OnContig(species, chrom string) []T {
	b, ok := x.contigs[Contig{Species: species, Chrom: chrom}]
	if !ok {
		return nil
	}
	return b.items
}

// All returns every record ordered by contig then position.
func (x *Index[T]) All() []T {
	out := make([]T, 0, x.size)
	for _, c := range x.order {
		out = append(out, x.contigs[c].items...)
	}
	return out
}

// Overlapping returns records on the contig whose span overlaps [start, end),
// in index order.
func (x *Index[T]) Overlapping(species, chrom string, start, end int64) []T {
	b, ok := x.contigs[Contig{Species: species, Chrom: chrom}]
	if !ok || start >= end || b.tree.Len() == 0 {
		return nil
	}
	hits := b.tree.Get(span{pos: -1, r: interval.IntRange{Start: int(start), End: int(end)}})
	pos := make([]int, len(hits))
	for i, h := range hits {
		pos[i] = h.(span).pos
	}
	sort.Ints(pos)
	out := make([]T, len(pos))
	for i, p := range pos {
		out[i] = b.items[p]
	}
	return out
}

// Containing returns records whose span contains pos.
func (x *Index[T]) Containing(species, chrom string, pos int64) []T {
	return x.Overlapping(species, chrom, pos, pos+1)
}

// Nearest returns the value in the sorted slice closest to target and the
// absolute distance to it. Ties resolve to the lower value.
func Nearest(sorted []int64, target int64) (int64, int64, bool) {
	if len(sorted) == 0 {
		return 0, 0, false
	}
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i] >= target })
	best, bestDist := int64(0), int64(-1)
	for _, j := range []int{i - 1, i} {
		if j < 0 || j >= len(sorted) {
			continue
		}
		d := genome.AbsDiff(sorted[j], target)
		if bestDist < 0 || d < bestDist {
			best, bestDist = sorted[j], d
		}
	}
	return best, bestDist, true
}
