package genome

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Dataset is one immutable input batch handed over by the upstream pipeline.
type Dataset struct {
	Genes    []Gene            `json:"genes"`
	Elements []Element         `json:"elements"`
	Sites    []ChromatinSite   `json:"sites"`
	Domains  []Domain          `json:"domains"`
	Variants []Variant         `json:"variants"`
	Evidence []LineageEvidence `json:"evidence"`
}

// Validate checks every interval and identifier. All problems are joined so a
// single pass reports the whole batch.
func (d Dataset) Validate() error {
	var errs []error
	seen := make(map[EntityType]map[int64]struct{})
	check := func(entity EntityType, id int64, iv Interval) {
		if err := iv.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s %d: %w", entity, id, err))
		}
		if iv.Species == "" {
			errs = append(errs, fmt.Errorf("%s %d: species required", entity, id))
		}
		ids, ok := seen[entity]
		if !ok {
			ids = make(map[int64]struct{})
			seen[entity] = ids
		}
		if _, dup := ids[id]; dup {
			errs = append(errs, fmt.Errorf("%s %d: duplicate id", entity, id))
		}
		ids[id] = struct{}{}
	}
	for _, g := range d.Genes {
		check(EntityGene, g.ID, g.Interval)
	}
	for _, e := range d.Elements {
		check(EntityElement, e.ID, e.Interval)
	}
	for _, s := range d.Sites {
		check(EntityChromatinSite, s.ID, s.Interval)
	}
	for _, dm := range d.Domains {
		check(EntityDomain, dm.ID, dm.Interval)
	}
	for _, ev := range d.Evidence {
		check(EntityEvidence, ev.ID, ev.Interval)
		if ev.Class != ClassGained && ev.Class != ClassLost {
			errs = append(errs, fmt.Errorf("%s %d: class must be gained or lost, got %q", EntityEvidence, ev.ID, ev.Class))
		}
	}
	variantIDs := make(map[int64]struct{}, len(d.Variants))
	for _, v := range d.Variants {
		if v.Pos < 0 {
			errs = append(errs, fmt.Errorf("%s %d: %w", EntityVariant, v.ID, &MalformedIntervalError{
				Interval: Interval{Chrom: v.Chrom, Start: v.Pos, End: v.Pos + 1},
				Reason:   "negative coordinate",
			}))
		}
		if _, dup := variantIDs[v.ID]; dup {
			errs = append(errs, fmt.Errorf("%s %d: duplicate id", EntityVariant, v.ID))
		}
		variantIDs[v.ID] = struct{}{}
	}
	return errors.Join(errs...)
}

// Species returns the distinct species present in genes and elements, sorted.
func (d Dataset) Species() []string {
	set := make(map[string]struct{})
	for _, g := range d.Genes {
		set[g.Species] = struct{}{}
	}
	for _, e := range d.Elements {
		set[e.Species] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}

// DerivedTables holds every table rebuilt by a refresh. The tables are always
// replaced wholesale, never patched.
type DerivedTables struct {
	RunID    string              `json:"run_id"`
	BuiltAt  time.Time           `json:"built_at"`
	Labels   []ConservationLabel `json:"labels"`
	Regions  []CanonicalRegion   `json:"regions"`
	Links    []Link              `json:"links"`
	Overlaps []VariantOverlap    `json:"overlaps"`
}

// Clone returns a deep copy.
func (t DerivedTables) Clone() DerivedTables {
	out := DerivedTables{RunID: t.RunID, BuiltAt: t.BuiltAt}
	out.Labels = append([]ConservationLabel(nil), t.Labels...)
	out.Links = append([]Link(nil), t.Links...)
	out.Overlaps = append([]VariantOverlap(nil), t.Overlaps...)
	if t.Regions != nil {
		out.Regions = make([]CanonicalRegion, len(t.Regions))
		for i, r := range t.Regions {
			r.Members = append([]int64(nil), r.Members...)
			out.Regions[i] = r
		}
	}
	return out
}
