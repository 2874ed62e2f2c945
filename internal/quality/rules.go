package quality

import (
	"context"
	"fmt"
	"strconv"

	"regland/pkg/genome"
)

// DefaultRulesEngine returns an engine with every derived-table guard.
func DefaultRulesEngine() *genome.RulesEngine {
	engine := genome.NewRulesEngine()
	engine.Register(LinkMethodRule())
	engine.Register(LinkDistanceRule())
	engine.Register(UniquePairRule())
	engine.Register(ReferenceIntegrityRule())
	return engine
}

func pairID(a, b int64) string {
	return strconv.FormatInt(a, 10) + "/" + strconv.FormatInt(b, 10)
}

func blocking(rule string, entity genome.EntityType, id, message string) genome.Violation {
	return genome.Violation{Rule: rule, Severity: genome.SeverityBlock, Message: message, Entity: entity, EntityID: id}
}

// LinkMethodRule rejects links whose method is not one of the four tiers.
func LinkMethodRule() genome.Rule { return linkMethodRule{} }

type linkMethodRule struct{}

func (linkMethodRule) Name() string { return "link_method" }

func (r linkMethodRule) Evaluate(_ context.Context, view genome.RuleView) (genome.Result, error) {
	res := genome.Result{}
	for _, l := range view.Derived().Links {
		if !l.Method.Valid() {
			res.Violations = append(res.Violations, blocking(r.Name(), genome.EntityLink, pairID(l.GeneID, l.ElementID),
				fmt.Sprintf("link %d/%d has unknown method %q", l.GeneID, l.ElementID, l.Method)))
		}
	}
	return res, nil
}

// LinkDistanceRule rejects negative link distances.
func LinkDistanceRule() genome.Rule { return linkDistanceRule{} }

type linkDistanceRule struct{}

func (linkDistanceRule) Name() string { return "link_distance" }

func (r linkDistanceRule) Evaluate(_ context.Context, view genome.RuleView) (genome.Result, error) {
	res := genome.Result{}
	for _, l := range view.Derived().Links {
		if l.Distance < 0 {
			res.Violations = append(res.Violations, blocking(r.Name(), genome.EntityLink, pairID(l.GeneID, l.ElementID),
				fmt.Sprintf("link %d/%d has negative distance %d", l.GeneID, l.ElementID, l.Distance)))
		}
	}
	return res, nil
}

// UniquePairRule rejects duplicate link pairs, duplicate overlap pairs and
// elements carrying more than one label.
func UniquePairRule() genome.Rule { return uniquePairRule{} }

type uniquePairRule struct{}

func (uniquePairRule) Name() string { return "unique_pairs" }

func (r uniquePairRule) Evaluate(_ context.Context, view genome.RuleView) (genome.Result, error) {
	res := genome.Result{}
	derived := view.Derived()
	links := make(map[[2]int64]struct{}, len(derived.Links))
	for _, l := range derived.Links {
		key := [2]int64{l.GeneID, l.ElementID}
		if _, dup := links[key]; dup {
			res.Violations = append(res.Violations, blocking(r.Name(), genome.EntityLink, pairID(l.GeneID, l.ElementID),
				fmt.Sprintf("gene %d and element %d are linked more than once", l.GeneID, l.ElementID)))
		}
		links[key] = struct{}{}
	}
	overlaps := make(map[[2]int64]struct{}, len(derived.Overlaps))
	for _, o := range derived.Overlaps {
		key := [2]int64{o.VariantID, o.ElementID}
		if _, dup := overlaps[key]; dup {
			res.Violations = append(res.Violations, blocking(r.Name(), genome.EntityOverlap, pairID(o.VariantID, o.ElementID),
				fmt.Sprintf("variant %d overlaps element %d more than once", o.VariantID, o.ElementID)))
		}
		overlaps[key] = struct{}{}
	}
	labels := make(map[int64]struct{}, len(derived.Labels))
	for _, l := range derived.Labels {
		if _, dup := labels[l.ElementID]; dup {
			res.Violations = append(res.Violations, blocking(r.Name(), genome.EntityLabel, strconv.FormatInt(l.ElementID, 10),
				fmt.Sprintf("element %d has more than one conservation label", l.ElementID)))
		}
		labels[l.ElementID] = struct{}{}
	}
	return res, nil
}

// ReferenceIntegrityRule rejects derived rows pointing at genes, elements or
// variants missing from the dataset.
func ReferenceIntegrityRule() genome.Rule { return referenceIntegrityRule{} }

type referenceIntegrityRule struct{}

func (referenceIntegrityRule) Name() string { return "reference_integrity" }

func (r referenceIntegrityRule) Evaluate(ctx context.Context, view genome.RuleView) (genome.Result, error) {
	res := genome.Result{}
	orphans := Orphans(view.Dataset(), view.Derived())
	for _, o := range orphans {
		if err := ctx.Err(); err != nil {
			return genome.Result{}, err
		}
		res.Violations = append(res.Violations, blocking(r.Name(), o.Entity, o.ID, o.Message))
	}
	return res, nil
}

// Orphan is a derived row referencing a missing record.
type Orphan struct {
	Entity  genome.EntityType `json:"entity"`
	ID      string            `json:"id"`
	Message string            `json:"message"`
}

// Orphans lists derived rows whose references are not in the dataset.
func Orphans(d genome.Dataset, derived genome.DerivedTables) []Orphan {
	genes := make(map[int64]struct{}, len(d.Genes))
	for _, g := range d.Genes {
		genes[g.ID] = struct{}{}
	}
	elements := make(map[int64]struct{}, len(d.Elements))
	for _, e := range d.Elements {
		elements[e.ID] = struct{}{}
	}
	variants := make(map[int64]struct{}, len(d.Variants))
	for _, v := range d.Variants {
		variants[v.ID] = struct{}{}
	}
	var out []Orphan
	for _, l := range derived.Links {
		if _, ok := genes[l.GeneID]; !ok {
			out = append(out, Orphan{Entity: genome.EntityLink, ID: pairID(l.GeneID, l.ElementID), Message: fmt.Sprintf("link references missing gene %d", l.GeneID)})
		}
		if _, ok := elements[l.ElementID]; !ok {
			out = append(out, Orphan{Entity: genome.EntityLink, ID: pairID(l.GeneID, l.ElementID), Message: fmt.Sprintf("link references missing element %d", l.ElementID)})
		}
	}
	for _, o := range derived.Overlaps {
		if _, ok := variants[o.VariantID]; !ok {
			out = append(out, Orphan{Entity: genome.EntityOverlap, ID: pairID(o.VariantID, o.ElementID), Message: fmt.Sprintf("overlap references missing variant %d", o.VariantID)})
		}
		if _, ok := elements[o.ElementID]; !ok {
			out = append(out, Orphan{Entity: genome.EntityOverlap, ID: pairID(o.VariantID, o.ElementID), Message: fmt.Sprintf("overlap references missing element %d", o.ElementID)})
		}
	}
	for _, l := range derived.Labels {
		if _, ok := elements[l.ElementID]; !ok {
			out = append(out, Orphan{Entity: genome.EntityLabel, ID: strconv.FormatInt(l.ElementID, 10), Message: fmt.Sprintf("label references missing element %d", l.ElementID)})
		}
	}
	return out
}
