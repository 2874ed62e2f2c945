package quality

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"regland/pkg/genome"
)

func scored(id int64, source string, score float64, tissue string) genome.Element {
	e := genome.Element{ID: id, Source: source, Score: genome.Some(score), Interval: genome.Interval{Species: "human_hg38", Chrom: "chr1", Start: id * 10, End: id*10 + 5}}
	if tissue != "" {
		e.Tissue = genome.Some(tissue)
	}
	return e
}

func unscored(id int64, source, tissue string) genome.Element {
	e := scored(id, source, 0, tissue)
	e.Score = genome.None[float64]()
	return e
}

func TestStandardizeZScores(t *testing.T) {
	elements := []genome.Element{
		scored(1, "a", 1, "Brain"),
		scored(2, "a", 3, "Brain"),
		scored(3, "a", 5, ""),
		scored(4, "b", 2, "Heart"),
		scored(5, "c", 4, "Liver"),
		scored(6, "c", 4, "Liver"),
		unscored(7, "a", "Brain"),
	}
	rows := Standardize(elements, nil)
	z := func(i int) (float64, bool) { return rows[i].Z.Get() }
	if v, ok := z(0); !ok || math.Abs(v+1) > 1e-12 {
		t.Fatalf("z for score 1: %v %v", v, ok)
	}
	if v, ok := z(2); !ok || math.Abs(v-1) > 1e-12 {
		t.Fatalf("z for score 5: %v %v", v, ok)
	}
	if _, ok := z(3); ok {
		t.Fatalf("single-score source must have undefined z")
	}
	if _, ok := z(4); ok {
		t.Fatalf("zero-spread source must have undefined z")
	}
	if _, ok := z(6); ok {
		t.Fatalf("unscored element must have undefined z")
	}
	stats := Stats(elements)
	if len(stats) != 3 || stats[0].Source != "a" || stats[0].N != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if sd, ok := stats[0].SD.Get(); !ok || sd != 2 {
		t.Fatalf("sample sd: %v", sd)
	}
}

func TestViewsKeepUnknownTissue(t *testing.T) {
	elements := []genome.Element{
		scored(1, "a", 1, "Brain"),
		scored(2, "a", 1, "Kidney"),
		scored(3, "a", 1, ""),
		unscored(4, "a", "Heart"),
	}
	high := HighConfidence(elements, nil)
	if len(high) != 1 || high[0].ID != 1 {
		t.Fatalf("high confidence view: %+v", high)
	}
	flex := TissueFlexible(elements, nil)
	if len(flex) != 2 || flex[0].ID != 1 || flex[1].ID != 3 {
		t.Fatalf("tissue flexible view: %+v", flex)
	}
	if flex[1].TissueCategory() != genome.UnknownTissue {
		t.Fatalf("absent tissue should read as unknown")
	}
	want := []string{FlagHighConfidence, FlagStandard, FlagTissueUnknown, FlagScoreMissing}
	for i, e := range elements {
		if got := Flag(e, nil); got != want[i] {
			t.Fatalf("flag %d: got %s want %s", e.ID, got, want[i])
		}
	}
}

func TestNewViewPicksViewPerTissue(t *testing.T) {
	elements := []genome.Element{
		scored(1, "a", 1, "Brain"),
		scored(2, "a", 1, "Kidney"),
		scored(3, "a", 1, ""),
		unscored(4, "a", "Heart"),
		scored(5, "a", 1, "heart"),
	}
	keep := func(v View) []int64 {
		var ids []int64
		for _, e := range elements {
			if v.Keep(e) {
				ids = append(ids, e.ID)
			}
		}
		return ids
	}
	cases := []struct {
		tissue string
		known  []string
		name   string
		want   []int64
	}{
		{"", nil, ViewTissueFlexible, []int64{1, 3, 5}},
		{"Other", nil, ViewTissueFlexible, []int64{1, 3, 5}},
		{"Heart", nil, ViewHighConfidence, []int64{5}},
		{"unknown", nil, ViewTissueFlexible, []int64{3}},
		{"Kidney", nil, ViewTissueFlexible, nil},
		{"Kidney", []string{"Kidney"}, ViewHighConfidence, []int64{2}},
	}
	for _, tc := range cases {
		v := NewView(tc.tissue, tc.known)
		if v.Name() != tc.name {
			t.Fatalf("%q: view %s want %s", tc.tissue, v.Name(), tc.name)
		}
		if got := keep(v); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%q: kept %v want %v", tc.tissue, got, tc.want)
		}
	}
	if got, want := keep(View{}), keep(NewView("", DefaultKnownTissues)); !reflect.DeepEqual(got, want) {
		t.Fatalf("zero view kept %v, want %v", got, want)
	}
	if got := (View{}).Flag(elements[2]); got != FlagTissueUnknown {
		t.Fatalf("zero view flag %s", got)
	}
}

type view struct {
	dataset genome.Dataset
	derived genome.DerivedTables
}

func (v view) Dataset() genome.Dataset       { return v.dataset }
func (v view) Derived() genome.DerivedTables { return v.derived }

func TestGuardRulesBlockBadLinks(t *testing.T) {
	d := genome.Dataset{
		Genes:    []genome.Gene{{ID: 1, Symbol: "A", Interval: genome.Interval{Species: "human_hg38", Chrom: "chr1", Start: 0, End: 10}}},
		Elements: []genome.Element{scored(1, "a", 1, "")},
	}
	engine := DefaultRulesEngine()
	clean := view{dataset: d, derived: genome.DerivedTables{Links: []genome.Link{{GeneID: 1, ElementID: 1, Method: genome.MethodOverlap}}}}
	res, err := engine.Evaluate(context.Background(), clean)
	if err != nil || len(res.Violations) != 0 {
		t.Fatalf("clean tables: %+v %v", res, err)
	}

	bad := view{dataset: d, derived: genome.DerivedTables{Links: []genome.Link{
		{GeneID: 1, ElementID: 1, Method: "upstream", Distance: 3},
		{GeneID: 1, ElementID: 1, Method: genome.MethodNearest, Distance: -1},
		{GeneID: 9, ElementID: 1, Method: genome.MethodWindow, Distance: 5},
	}}}
	res, err = engine.Evaluate(context.Background(), bad)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.HasBlocking() {
		t.Fatalf("expected blocking violations")
	}
	rules := make(map[string]int)
	for _, v := range res.Violations {
		rules[v.Rule]++
	}
	for _, name := range []string{"link_method", "link_distance", "unique_pairs", "reference_integrity"} {
		if rules[name] == 0 {
			t.Fatalf("expected a %s violation, got %+v", name, res.Violations)
		}
	}
	var rv genome.RuleViolationError
	if !errors.As(error(genome.RuleViolationError{Result: res}), &rv) {
		t.Fatalf("rule violation error should be matchable")
	}
}

func TestReportAndCoverage(t *testing.T) {
	var elements []genome.Element
	for i := int64(1); i <= 120; i++ {
		elements = append(elements, scored(i, "a", float64(i), "Brain"))
	}
	elements = append(elements, unscored(200, "a", ""), scored(201, "a", 1000, ""), unscored(202, "a", "Heart"))
	d := genome.Dataset{
		Genes:    []genome.Gene{{ID: 1, Symbol: "A", Interval: genome.Interval{Species: "human_hg38", Chrom: "chr1", Start: 0, End: 10}}, {ID: 2, Symbol: "B", Interval: genome.Interval{Species: "human_hg38", Chrom: "chr1", Start: 20, End: 30}}},
		Elements: elements,
	}
	derived := genome.DerivedTables{Links: []genome.Link{
		{GeneID: 1, ElementID: 1, Method: genome.MethodPromoter},
		{GeneID: 1, ElementID: 999, Method: genome.MethodWindow, Distance: 10},
	}}
	r := BuildReport(d, derived, nil)

	cov := Coverage(elements)
	if cov[0].Tissue != "Brain" || cov[0].Count != 120 || cov[0].Level != CoverageLow {
		t.Fatalf("coverage %+v", cov[0])
	}
	if len(r.Coverage) != 3 || r.Coverage[1].Tissue != genome.UnknownTissue || r.Coverage[1].Level != CoverageCritical {
		t.Fatalf("report coverage %+v", r.Coverage)
	}
	if r.Missing != (MissingData{Complete: 120, TissueMissing: 1, ScoreMissing: 1, BothMissing: 1}) {
		t.Fatalf("missing data %+v", r.Missing)
	}
	if r.Scores.N != 121 {
		t.Fatalf("score count %d", r.Scores.N)
	}
	if v, _ := r.Scores.Max.Get(); v != 1000 {
		t.Fatalf("max %v", v)
	}
	if v, _ := r.Scores.Median.Get(); v != 61 {
		t.Fatalf("median %v", v)
	}
	if len(r.Orphans) != 1 || r.UnlinkedGene != 1 {
		t.Fatalf("orphans %+v unlinked %d", r.Orphans, r.UnlinkedGene)
	}
	if len(r.Summary) != 1 || r.Summary[0].Elements != 123 || r.Summary[0].HighConfidence != 120 || r.Summary[0].Links != 1 || r.Summary[0].Tissues != 3 {
		t.Fatalf("summary %+v", r.Summary)
	}
	for n, want := range map[int]string{0: CoverageCritical, 99: CoverageCritical, 100: CoverageLow, 9_999: CoverageMedium, 10_000: CoverageGood} {
		if got := CoverageLevel(n); got != want {
			t.Fatalf("coverage level %d: got %s want %s", n, got, want)
		}
	}
}
