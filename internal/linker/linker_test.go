package linker

import (
	"bytes"
	"context"
	"math/rand"
	"strings"
	"testing"

	"regland/internal/intervals"
	"regland/pkg/genome"
)

const human = "human_hg38"

func gene(id int64, chrom string, start, end int64) genome.Gene {
	return genome.Gene{ID: id, Symbol: "G" + chrom, Interval: genome.Interval{Species: human, Chrom: chrom, Start: start, End: end}}
}

func element(id int64, chrom string, start, end int64) genome.Element {
	return genome.Element{ID: id, Interval: genome.Interval{Species: human, Chrom: chrom, Start: start, End: end}}
}

func run(t *testing.T, d genome.Dataset, cfg Config) Output {
	t.Helper()
	store, err := intervals.NewStore(d)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	out, err := Link(context.Background(), store, cfg)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	return out
}

func find(links []genome.Link, geneID, elementID int64) (genome.Link, bool) {
	for _, l := range links {
		if l.GeneID == geneID && l.ElementID == elementID {
			return l, true
		}
	}
	return genome.Link{}, false
}

func TestLinkTiers(t *testing.T) {
	d := genome.Dataset{
		Genes: []genome.Gene{
			gene(1, "chr1", 1_000_000, 1_050_000),
			gene(2, "chr2", 1_000_000, 1_010_000),
			gene(3, "chr3", 2_000_000, 2_100_000),
			gene(4, "chr4", 1_000_000, 1_010_000),
			gene(5, "chr4", 1_100_000, 1_110_000),
		},
		Elements: []genome.Element{
			// Inside the promoter window and the gene body: promoter wins.
			element(10, "chr1", 1_000_500, 1_001_000),
			// 300kb from the TSS, beyond the nearest cut-off.
			element(20, "chr2", 1_299_900, 1_300_100),
			// Beyond the window cap.
			element(21, "chr2", 1_600_000, 1_600_100),
			// Contained in the gene body.
			element(30, "chr3", 2_050_000, 2_050_100),
			// Partial overlap at the gene end.
			element(31, "chr3", 2_099_000, 2_103_000),
			// Equidistant from two TSSs.
			element(40, "chr4", 1_049_950, 1_050_050),
		},
	}
	out := run(t, d, DefaultConfig())

	cases := []struct {
		gene, element int64
		method        genome.LinkMethod
		distance      int64
	}{
		{1, 10, genome.MethodPromoter, 750},
		{2, 20, genome.MethodWindow, 300_000},
		{3, 30, genome.MethodOverlap, 0},
		{3, 31, genome.MethodOverlap, 1_000},
		{4, 40, genome.MethodNearest, 50_000},
		{5, 40, genome.MethodWindow, 50_000},
	}
	for _, tc := range cases {
		l, ok := find(out.Links, tc.gene, tc.element)
		if !ok {
			t.Fatalf("missing link %d/%d", tc.gene, tc.element)
		}
		if l.Method != tc.method || l.Distance != tc.distance {
			t.Fatalf("link %d/%d: got %s/%d want %s/%d", tc.gene, tc.element, l.Method, l.Distance, tc.method, tc.distance)
		}
	}
	if _, ok := find(out.Links, 2, 21); ok {
		t.Fatalf("pair beyond the window cap must not link")
	}
	if len(out.Links) != len(cases) {
		t.Fatalf("expected %d links, got %+v", len(cases), out.Links)
	}
}

func TestLinkRespectsConfiguredPromoterWidth(t *testing.T) {
	d := genome.Dataset{
		Genes:    []genome.Gene{gene(1, "chr1", 10_000, 20_000)},
		Elements: []genome.Element{element(1, "chr1", 6_900, 7_100)},
	}
	if l, _ := find(run(t, d, DefaultConfig()).Links, 1, 1); l.Method != genome.MethodNearest {
		t.Fatalf("default promoter width: got %s", l.Method)
	}
	cfg := DefaultConfig()
	cfg.PromoterBP = 5_000
	if l, _ := find(run(t, d, cfg).Links, 1, 1); l.Method != genome.MethodPromoter || l.Distance != 3_000 {
		t.Fatalf("wide promoter: got %+v", l)
	}
}

func randomDataset(rng *rand.Rand) genome.Dataset {
	var d genome.Dataset
	chroms := []string{"chr1", "chr2"}
	for i := 0; i < 60; i++ {
		start := int64(rng.Intn(2_000_000))
		d.Genes = append(d.Genes, gene(int64(i+1), chroms[rng.Intn(2)], start, start+1_000+int64(rng.Intn(80_000))))
	}
	for i := 0; i < 200; i++ {
		start := int64(rng.Intn(2_000_000))
		d.Elements = append(d.Elements, element(int64(i+1), chroms[rng.Intn(2)], start, start+100+int64(rng.Intn(3_000))))
	}
	return d
}

func TestLinkUniqueNonNegativeAndByteIdentical(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	d := randomDataset(rng)
	first := run(t, d, Config{Parallelism: 1})

	seen := make(map[[2]int64]bool)
	for _, l := range first.Links {
		key := [2]int64{l.GeneID, l.ElementID}
		if seen[key] {
			t.Fatalf("duplicate pair %v", key)
		}
		seen[key] = true
		if l.Distance < 0 {
			t.Fatalf("negative distance %+v", l)
		}
		if !l.Method.Valid() {
			t.Fatalf("invalid method %+v", l)
		}
	}

	rng.Shuffle(len(d.Genes), func(i, j int) { d.Genes[i], d.Genes[j] = d.Genes[j], d.Genes[i] })
	rng.Shuffle(len(d.Elements), func(i, j int) { d.Elements[i], d.Elements[j] = d.Elements[j], d.Elements[i] })
	second := run(t, d, Config{})

	var a, b bytes.Buffer
	if err := EncodeLinks(&a, first.Links); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := EncodeLinks(&b, second.Links); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatalf("relinking produced different bytes")
	}
	if !strings.HasPrefix(a.String(), "gene_id\telement_id\tmethod\tdistance_bp\tconfidence\n") {
		t.Fatalf("unexpected header: %q", strings.SplitN(a.String(), "\n", 2)[0])
	}
}

func TestVariantOverlapsUseHalfOpenElements(t *testing.T) {
	d := genome.Dataset{
		Elements: []genome.Element{
			element(1, "chr1", 100, 200),
			{ID: 2, Interval: genome.Interval{Species: "mouse_mm39", Chrom: "chr1", Start: 100, End: 200}},
		},
		Variants: []genome.Variant{
			{ID: 1, Chrom: "chr1", Pos: 100},
			{ID: 2, Chrom: "chr1", Pos: 199},
			{ID: 3, Chrom: "chr1", Pos: 200},
		},
	}
	out := run(t, d, DefaultConfig())
	if len(out.Overlaps) != 2 {
		t.Fatalf("expected two overlaps, got %+v", out.Overlaps)
	}
	for _, o := range out.Overlaps {
		if o.ElementID != 1 || o.VariantID == 3 {
			t.Fatalf("unexpected overlap %+v", o)
		}
	}
	var buf bytes.Buffer
	if err := EncodeOverlaps(&buf, out.Overlaps); err != nil {
		t.Fatalf("encode overlaps: %v", err)
	}
	if got := buf.String(); got != "variant_id\telement_id\n1\t1\n2\t1\n" {
		t.Fatalf("encoded overlaps %q", got)
	}
}

func TestLinkStopsOnCancelledContext(t *testing.T) {
	store, err := intervals.NewStore(genome.Dataset{Elements: []genome.Element{element(1, "chr1", 1, 2)}})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Link(ctx, store, DefaultConfig()); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
