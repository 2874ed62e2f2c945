package core

import (
	"reflect"
	"testing"

	"regland/internal/quality"
	"regland/internal/window"
	"regland/pkg/genome"
)

func geneRef(symbol string) window.GeneRef {
	return window.GeneRef{Species: human, Symbol: symbol}
}

func geneSymbols(genes []genome.Gene) []string {
	out := make([]string, len(genes))
	for i, g := range genes {
		out[i] = g.Symbol
	}
	return out
}

func TestResolveDomainModes(t *testing.T) {
	svc := newTestService(t)
	tss := svc.ResolveDomain(geneRef("shh"), window.ModeTSS, 100, false)
	if !tss.Found || tss.Start != 900_000 || tss.End != 1_100_000 || tss.Mode != window.ModeTSS {
		t.Fatalf("unexpected tss window %+v", tss)
	}
	dom := svc.ResolveDomain(geneRef("SHH"), window.ModeDomain, 100, true)
	if id, ok := dom.DomainID.Get(); !ok || id != 201 || dom.Start != 990_000 || dom.End != 1_010_000 {
		t.Fatalf("expected smallest enclosing domain, got %+v", dom)
	}
	if got := svc.ResolveDomain(window.GeneRef{Species: "zebrafish_danRer11", Symbol: "SHH"}, window.ModeTSS, 100, false); got.Found {
		t.Fatalf("unknown species should not resolve")
	}
	if got := svc.ResolveDomain(geneRef("NOPE"), window.ModeTSS, 100, false); got.Found {
		t.Fatalf("unknown gene should not resolve")
	}
}

func TestBinEnrichAndNearestOverSnapshot(t *testing.T) {
	svc := newTestService(t)
	region := svc.ResolveDomain(geneRef("SHH"), window.ModeTSS, 100, false)
	before := svc.Enrich(region, nil)
	if before.OddsRatio.Known() {
		t.Fatalf("empty conserved bucket must leave the odds ratio undefined: %+v", before)
	}

	svc = refreshed(t)
	classes := []genome.ConservationClass{genome.ClassConserved, genome.ClassUnlabeled}
	m := svc.Bin(region, 10, classes, false)
	if len(m.Bins) != 10 || m.Counts[0][5] != 1 || m.Counts[1][6] != 1 {
		t.Fatalf("unexpected matrix %+v", m.Counts)
	}
	if b, ok := m.TSSBin.Get(); !ok || b != 5 {
		t.Fatalf("unexpected tss bin %v", m.TSSBin)
	}
	heart := svc.BinTissue(region, 10, classes, true, "Heart")
	if heart.Counts[0][5] != 0 || heart.Counts[1][6] != 1 {
		t.Fatalf("tissue filter not applied: %+v", heart.Counts)
	}

	res := svc.Enrich(region, []genome.ConservationClass{genome.ClassConserved})
	if res.Table[0][0] != 1 || res.Table[1][0] != 1 {
		t.Fatalf("unexpected contingency table %+v", res.Table)
	}
	if got := svc.NearestDistance(region, 100); len(got) != 2 {
		t.Fatalf("expected a distance per element, got %+v", got)
	}
}

func TestQueriesReadScoredElementsOfTheQualityView(t *testing.T) {
	d := fixture()
	d.Elements = append(d.Elements,
		genome.Element{ID: 13, Interval: iv(human, "chr7", 1_040_000, 1_040_300), Tissue: genome.Some("Heart"), Source: "atlas"},
		genome.Element{ID: 14, Interval: iv(human, "chr7", 1_060_000, 1_060_100), Tissue: genome.Some("Kidney"), Score: genome.Some(1.0), Source: "atlas"},
	)
	svc, err := NewService(d)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	region := svc.ResolveDomain(geneRef("SHH"), window.ModeTSS, 100, false)
	unlabeled := []genome.ConservationClass{genome.ClassUnlabeled}

	if got := svc.Bin(region, 10, unlabeled, false).Counts[0]; !reflect.DeepEqual(got, []float64{0, 0, 0, 0, 0, 1, 1, 0, 0, 0}) {
		t.Fatalf("unscored and unknown-tissue elements must drop out of the bins: %v", got)
	}
	if got := svc.BinTissue(region, 10, unlabeled, false, "Heart").Counts[0]; !reflect.DeepEqual(got, []float64{0, 0, 0, 0, 0, 0, 1, 0, 0, 0}) {
		t.Fatalf("heart view: %v", got)
	}
	if got := svc.Enrich(region, unlabeled).Table; got[0][0]+got[0][1] != 2 {
		t.Fatalf("enrichment should read two elements, got %v", got)
	}

	cfg := DefaultConfig()
	cfg.KnownTissues = []string{"Heart", "Kidney"}
	wide, err := NewService(d, WithConfig(cfg))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if got := wide.BinTissue(region, 10, unlabeled, false, "Kidney").Counts[0]; got[8] != 1 {
		t.Fatalf("configured tissue should read the high-confidence view: %v", got)
	}

	rows := svc.NearestDistance(region, 100)
	if len(rows) != 2 || rows[0].ElementID != 10 || rows[0].QualityFlag != quality.FlagHighConfidence {
		t.Fatalf("unexpected distance rows %+v", rows)
	}
	if id, _ := rows[0].SiteID.Get(); id != 300 || rows[0].SiteClass != genome.ClassConserved {
		t.Fatalf("unexpected nearest site %+v", rows[0])
	}
	if got := svc.NearestDistanceFor(region, 100, DistanceFilter{ElementClasses: []genome.ConservationClass{genome.ClassConserved}}); len(got) != 0 {
		t.Fatalf("element class filter kept %+v", got)
	}
	gained := svc.NearestDistanceFor(region, 100, DistanceFilter{Tissue: "Brain", SiteClasses: []genome.ConservationClass{genome.ClassGained}})
	if len(gained) != 1 || gained[0].ElementID != 10 || gained[0].SiteID.Known() {
		t.Fatalf("site class filter should leave no site: %+v", gained)
	}
}

func TestSearchGenesExactFirst(t *testing.T) {
	svc := newTestService(t)
	if got := geneSymbols(svc.SearchGenes(human, "shh")); !reflect.DeepEqual(got, []string{"SHH", "ASHH", "SHHX"}) {
		t.Fatalf("unexpected human matches %v", got)
	}
	if got := geneSymbols(svc.SearchGenes("", "Shh")); !reflect.DeepEqual(got, []string{"SHH", "Shh", "ASHH", "SHHX"}) {
		t.Fatalf("unexpected cross-species matches %v", got)
	}
	if got := svc.SearchGenes(human, "  "); got != nil {
		t.Fatalf("blank query should match nothing, got %v", got)
	}
}

func TestVariantsForGeneOrdering(t *testing.T) {
	svc := refreshed(t)
	got := svc.VariantsForGene(geneRef("SHH"))
	ids := make([]int64, len(got))
	for i, gv := range got {
		ids[i] = gv.ID
	}
	if !reflect.DeepEqual(ids, []int64{100, 103, 101}) {
		t.Fatalf("unexpected order %v", ids)
	}
	if got[0].Method != genome.MethodPromoter || got[0].Confidence != "high_confidence" || got[0].ElementID != 10 {
		t.Fatalf("unexpected first variant %+v", got[0])
	}
	if svc.VariantsForGene(geneRef("NOPE")) != nil {
		t.Fatalf("unknown gene should have no variants")
	}
}

func TestTraitQueries(t *testing.T) {
	svc := refreshed(t)
	cats := svc.VariantCategories()
	if !reflect.DeepEqual(cats, []CategoryCount{{"Anthropometric", 2}, {"Metabolic", 2}}) {
		t.Fatalf("unexpected categories %+v", cats)
	}

	all := svc.TraitSummaries(TraitFilter{})
	if len(all) != 2 || all[0].Trait != "Height" || all[1].Trait != "BMI" {
		t.Fatalf("unexpected summaries %+v", all)
	}
	if p, _ := all[0].MinPValue.Get(); p != 1e-8 || all[0].GeneCount != 1 || all[0].VariantCount != 2 {
		t.Fatalf("unexpected height summary %+v", all[0])
	}
	if p, ok := all[1].MinPValue.Get(); !ok || p != 1e-3 {
		t.Fatalf("zero p-values must not count as minimum, got %v", all[1].MinPValue)
	}

	byGene := svc.TraitSummaries(TraitFilter{Search: "shh"})
	if len(byGene) != 2 || byGene[0].Trait != "Height" || byGene[1].VariantCount != 1 {
		t.Fatalf("gene symbol search: %+v", byGene)
	}
	metabolic := svc.TraitSummaries(TraitFilter{Category: "Metabolic", Limit: 5})
	if len(metabolic) != 1 || metabolic[0].Trait != "BMI" {
		t.Fatalf("category filter: %+v", metabolic)
	}

	height, total := svc.TraitVariants("Height", 0)
	if total != 2 || height[0].ID != 100 || height[1].ID != 101 || !reflect.DeepEqual(height[0].Genes, []string{"SHH"}) {
		t.Fatalf("unexpected height variants %+v", height)
	}
	bmi, total := svc.TraitVariants("BMI", 1)
	if total != 2 || len(bmi) != 1 || bmi[0].ID != 103 {
		t.Fatalf("unexpected bmi variants %+v (total %d)", bmi, total)
	}
}

func TestElementsPerDomain(t *testing.T) {
	svc := refreshed(t)
	got := svc.ElementsPerDomain(human, "")
	if len(got) != 2 || got[0].Domain.ID != 200 || got[0].Elements != 2 || got[1].Elements != 1 {
		t.Fatalf("unexpected domain counts %+v", got)
	}
	if got[0].ByClass[genome.ClassConserved] != 1 || got[0].ByClass[genome.ClassUnlabeled] != 1 {
		t.Fatalf("unexpected class breakdown %+v", got[0].ByClass)
	}
	if len(svc.ElementsPerDomain(human, "chr1")) != 0 || len(svc.ElementsPerDomain(mouse, "")) != 0 {
		t.Fatalf("filters should exclude other contigs and species")
	}
}

func TestQualityViews(t *testing.T) {
	svc := refreshed(t)
	cov := svc.TissueCoverage(mouse)
	if len(cov) != 1 || cov[0].Tissue != genome.UnknownTissue || cov[0].Level != quality.CoverageCritical {
		t.Fatalf("unexpected mouse coverage %+v", cov)
	}
	if len(svc.TissueCoverage("")) != 3 {
		t.Fatalf("expected coverage for every species and tissue")
	}
	summary := svc.QualitySummary()
	if len(summary) != 2 || summary[0].Species != human || summary[0].HighConfidence != 2 || summary[0].Links == 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	report := svc.QualityReport()
	if report.Missing.BothMissing != 1 || len(report.Orphans) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	scores := svc.StandardizedScores()
	if len(scores) != 3 {
		t.Fatalf("expected a standardized row per element, got %d", len(scores))
	}
	if len(svc.HighConfidenceElements()) != 2 || len(svc.TissueFlexibleElements()) != 2 {
		t.Fatalf("unexpected quality views")
	}
}
