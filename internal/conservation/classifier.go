// Package conservation merges per-species element calls into canonical
// regions, clusters the regions across species and assigns conservation
// labels.
package conservation

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"regland/internal/intervals"
	"regland/pkg/genome"
)

// Config restricts a classification pass.
type Config struct {
	// Species limits the pass to these species. Empty means every species.
	// Elements of other species receive no label and read back as unlabeled.
	Species []string
	// Parallelism bounds concurrent per-chromosome work; <= 0 means unbounded.
	Parallelism int
}

// Cluster is a connected group of overlapping canonical regions.
type Cluster struct {
	ID      int                      `json:"cluster_id"`
	Chrom   string                   `json:"chrom"`
	Start   int64                    `json:"start"`
	End     int64                    `json:"end"`
	Species []string                 `json:"species"`
	Regions []string                 `json:"regions"`
	Support int                      `json:"support"`
	Class   genome.ConservationClass `json:"class"`
}

// Output is the full replacement for the label and region tables.
type Output struct {
	Labels   []genome.ConservationLabel
	Regions  []genome.CanonicalRegion
	Clusters []Cluster
}

type call struct {
	iv genome.Interval
	id int64
}

// Merge collapses overlapping intervals of the same species and chromosome.
// The result is sorted, non-overlapping and covers exactly the input
// point-set; Merge(Merge(x)) == Merge(x) and input order is irrelevant.
func Merge(ivs []genome.Interval) []genome.Interval {
	calls := make([]call, len(ivs))
	for i, iv := range ivs {
		calls[i] = call{iv: iv, id: int64(i)}
	}
	merged := mergeCalls(calls)
	out := make([]genome.Interval, len(merged))
	for i, m := range merged {
		out[i] = m.Interval
	}
	return out
}

// mergeCalls sorts calls by (species, chrom, start, end, id) and folds each run
// of overlapping spans into one region. Book-ended spans stay separate.
func mergeCalls(calls []call) []genome.CanonicalRegion {
	sorted := append([]call(nil), calls...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.iv != b.iv {
			return a.iv.Less(b.iv)
		}
		return a.id < b.id
	})
	var out []genome.CanonicalRegion
	for _, c := range sorted {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.SameContig(c.iv) && c.iv.Start < last.End {
				if c.iv.End > last.End {
					last.End = c.iv.End
				}
				last.Members = append(last.Members, c.id)
				continue
			}
		}
		out = append(out, genome.CanonicalRegion{Interval: c.iv, Members: []int64{c.id}})
	}
	for i := range out {
		sort.Slice(out[i].Members, func(a, b int) bool { return out[i].Members[a] < out[i].Members[b] })
	}
	return out
}

// Classify runs the three classification steps over the store's elements.
func Classify(ctx context.Context, store *intervals.Store, cfg Config) (Output, error) {
	allowed := make(map[string]bool, len(cfg.Species))
	for _, sp := range cfg.Species {
		allowed[sp] = true
	}
	bySpecies := make(map[string][]call)
	for _, e := range store.Elements.All() {
		if len(allowed) > 0 && !allowed[e.Species] {
			continue
		}
		bySpecies[e.Species] = append(bySpecies[e.Species], call{iv: e.Interval, id: e.ID})
	}
	species := make([]string, 0, len(bySpecies))
	for sp := range bySpecies {
		species = append(species, sp)
	}
	sort.Strings(species)

	// Step 1: per-species merge with species-scoped sequential ids.
	merged := make([][]genome.CanonicalRegion, len(species))
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Parallelism > 0 {
		g.SetLimit(cfg.Parallelism)
	}
	for i, sp := range species {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			regions := mergeCalls(bySpecies[sp])
			for n := range regions {
				regions[n].ID = fmt.Sprintf("%s:%d", sp, n+1)
			}
			merged[i] = regions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Output{}, fmt.Errorf("merge regions: %w", err)
	}

	var regions []genome.CanonicalRegion
	byChrom := make(map[string][]genome.CanonicalRegion)
	for _, rs := range merged {
		regions = append(regions, rs...)
		for _, r := range rs {
			byChrom[r.Chrom] = append(byChrom[r.Chrom], r)
		}
	}
	chroms := make([]string, 0, len(byChrom))
	for c := range byChrom {
		chroms = append(chroms, c)
	}
	sort.Strings(chroms)

	// Step 2: cluster across species per chromosome.
	perChrom := make([][]Cluster, len(chroms))
	g, gctx = errgroup.WithContext(ctx)
	if cfg.Parallelism > 0 {
		g.SetLimit(cfg.Parallelism)
	}
	for i, chrom := range chroms {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perChrom[i] = clusterChrom(chrom, byChrom[chrom])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Output{}, fmt.Errorf("cluster regions: %w", err)
	}

	regionByID := make(map[string]genome.CanonicalRegion, len(regions))
	for _, r := range regions {
		regionByID[r.ID] = r
	}
	var clusters []Cluster
	for _, cs := range perChrom {
		clusters = append(clusters, cs...)
	}
	lowest := make([]int64, len(clusters))
	for i, c := range clusters {
		lowest[i] = -1
		for _, id := range c.Regions {
			for _, m := range regionByID[id].Members {
				if lowest[i] < 0 || m < lowest[i] {
					lowest[i] = m
				}
			}
		}
	}
	order := make([]int, len(clusters))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := clusters[order[i]], clusters[order[j]]
		if a.Chrom != b.Chrom {
			return a.Chrom < b.Chrom
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return lowest[order[i]] < lowest[order[j]]
	})
	ordered := make([]Cluster, len(clusters))
	for i, n := range order {
		ordered[i] = clusters[n]
	}
	clusters = ordered

	// Step 3: support and labels.
	var labels []genome.ConservationLabel
	for i := range clusters {
		c := &clusters[i]
		c.ID = i + 1
		c.Support = len(c.Species)
		c.Class = classify(store, *c)
		for _, rid := range c.Regions {
			for _, member := range regionByID[rid].Members {
				labels = append(labels, genome.ConservationLabel{
					ElementID: member,
					Class:     c.Class,
					Support:   c.Support,
					RegionID:  rid,
					ClusterID: c.ID,
				})
			}
		}
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].ElementID < labels[j].ElementID })
	return Output{Labels: labels, Regions: regions, Clusters: clusters}, nil
}

func clusterChrom(chrom string, regions []genome.CanonicalRegion) []Cluster {
	sorted := append([]genome.CanonicalRegion(nil), regions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		if a.Species != b.Species {
			return a.Species < b.Species
		}
		return a.ID < b.ID
	})
	var out []Cluster
	var species map[string]struct{}
	flush := func() {
		if len(out) == 0 {
			return
		}
		last := &out[len(out)-1]
		last.Species = make([]string, 0, len(species))
		for sp := range species {
			last.Species = append(last.Species, sp)
		}
		sort.Strings(last.Species)
	}
	for _, r := range sorted {
		if n := len(out); n > 0 && r.Start < out[n-1].End {
			last := &out[n-1]
			if r.End > last.End {
				last.End = r.End
			}
			last.Regions = append(last.Regions, r.ID)
			species[r.Species] = struct{}{}
			continue
		}
		flush()
		out = append(out, Cluster{Chrom: chrom, Start: r.Start, End: r.End, Regions: []string{r.ID}})
		species = map[string]struct{}{r.Species: {}}
	}
	flush()
	return out
}

// classify applies the labeling rule. Single-species clusters are only
// gained or lost with explicit lineage evidence; everything else that lacks
// cross-species support stays unlabeled.
func classify(store *intervals.Store, c Cluster) genome.ConservationClass {
	switch {
	case c.Support >= 2:
		return genome.ClassConserved
	case c.Support == 1:
		evidence := store.Evidence.Overlapping(c.Species[0], c.Chrom, c.Start, c.End)
		if len(evidence) > 0 {
			best := evidence[0]
			for _, ev := range evidence[1:] {
				if ev.Start < best.Start || (ev.Start == best.Start && ev.ID < best.ID) {
					best = ev
				}
			}
			return best.Class
		}
	}
	return genome.ClassUnlabeled
}
