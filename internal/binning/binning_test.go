package binning

import (
	"math/rand"
	"testing"

	"regland/internal/intervals"
	"regland/internal/window"
	"regland/pkg/genome"
)

func el(id int64, start, end int64, tissue string) genome.Element {
	e := genome.Element{
		ID:       id,
		Interval: genome.Interval{Species: "human_hg38", Chrom: "chr11", Start: start, End: end},
		Score:    genome.Some(1.0),
	}
	if tissue != "" {
		e.Tissue = genome.Some(tissue)
	}
	return e
}

func region(start, end, tss int64) window.Region {
	return window.Region{
		Interval: genome.Interval{Species: "human_hg38", Chrom: "chr11", Start: start, End: end},
		Found:    true,
		TSS:      tss,
		Mode:     window.ModeTSS,
	}
}

func newStore(t *testing.T, elements ...genome.Element) *intervals.Store {
	t.Helper()
	store, err := intervals.NewStore(genome.Dataset{Elements: elements})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestComputeTwoConservedElementsInBinsTenAndEleven(t *testing.T) {
	store := newStore(t,
		el(1, 27_651_000, 27_652_000, "Brain"),
		el(2, 27_656_000, 27_657_000, "Liver"),
		el(3, 27_700_000, 27_700_500, ""),
	)
	labels := genome.LabelIndex{1: genome.ClassConserved, 2: genome.ClassConserved, 3: genome.ClassGained}
	m := Compute(store, labels, Request{
		Region:  region(27_600_000, 27_750_000, 27_700_000),
		Bins:    30,
		Classes: []genome.ConservationClass{genome.ClassConserved},
	})
	row := m.Row(genome.ClassConserved)
	if len(row) != 30 {
		t.Fatalf("expected 30 bins, got %d", len(row))
	}
	nonZero := 0
	for i, v := range row {
		switch i {
		case 10, 11:
			if v != 1 {
				t.Fatalf("bin %d: got %v want 1", i, v)
			}
			nonZero++
		default:
			if v != 0 {
				t.Fatalf("bin %d: got %v want 0", i, v)
			}
		}
	}
	if nonZero != 2 {
		t.Fatalf("expected two non-zero bins")
	}
	if m.Bins[10].Start != 27_650_000 || m.Bins[29].End != 27_750_000 {
		t.Fatalf("unexpected bin edges %+v %+v", m.Bins[10], m.Bins[29])
	}
	if idx, ok := m.TSSBin.Get(); !ok || idx != 20 {
		t.Fatalf("tss bin: %v", m.TSSBin)
	}
}

func TestComputeNormalizesAndKeepsZeroRows(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	var elements []genome.Element
	labels := genome.LabelIndex{}
	for i := 0; i < 120; i++ {
		start := int64(rng.Intn(100_000))
		elements = append(elements, el(int64(i+1), start, start+1+int64(rng.Intn(8_000)), ""))
		if rng.Intn(2) == 0 {
			labels[int64(i+1)] = genome.ClassConserved
		}
	}
	store := newStore(t, elements...)
	m := Compute(store, labels, Request{Region: region(0, 100_000, 200_000), Bins: 17, Normalize: true})
	if len(m.Classes) != len(genome.AllClasses) {
		t.Fatalf("default classes should be all four, got %v", m.Classes)
	}
	for i, c := range m.Classes {
		var peak float64
		for _, v := range m.Counts[i] {
			if v < 0 {
				t.Fatalf("negative count in %s", c)
			}
			peak = max(peak, v)
		}
		switch c {
		case genome.ClassGained, genome.ClassLost:
			if peak != 0 {
				t.Fatalf("absent class %s should be all zero", c)
			}
		default:
			if peak != 1 {
				t.Fatalf("normalized row %s has max %v", c, peak)
			}
		}
	}
	if m.TSSBin.Known() {
		t.Fatalf("tss outside region must omit the marker")
	}
}

func TestComputeTissueFilter(t *testing.T) {
	store := newStore(t, el(1, 10, 20, "Brain"), el(2, 10, 20, "Heart"), el(3, 10, 20, ""))
	req := Request{Region: region(0, 100, 0), Bins: 1, Classes: []genome.ConservationClass{genome.ClassUnlabeled}}
	for tissue, want := range map[string]float64{"": 3, "Other": 3, "brain": 1, "Kidney": 0, "unknown": 1} {
		req.Tissue = tissue
		if got := Compute(store, nil, req).Counts[0][0]; got != want {
			t.Fatalf("tissue %q: got %v want %v", tissue, got, want)
		}
	}
}

func TestComputeSkipsUnscoredElements(t *testing.T) {
	unscored := el(2, 10, 20, "Brain")
	unscored.Score = genome.Optional[float64]{}
	kidney := el(3, 10, 20, "Kidney")
	store := newStore(t, el(1, 10, 20, "Brain"), unscored, kidney)
	req := Request{Region: region(0, 100, 0), Bins: 1, Classes: []genome.ConservationClass{genome.ClassUnlabeled}}
	for tissue, want := range map[string]float64{"": 1, "Brain": 1} {
		req.Tissue = tissue
		if got := Compute(store, nil, req).Counts[0][0]; got != want {
			t.Fatalf("tissue %q: got %v want %v", tissue, got, want)
		}
	}
	req.Tissue = "Kidney"
	if got := Compute(store, nil, req).Counts[0][0]; got != 0 {
		t.Fatalf("kidney outside the known set: got %v want 0", got)
	}
	req.KnownTissues = []string{"Brain", "Kidney"}
	if got := Compute(store, nil, req).Counts[0][0]; got != 1 {
		t.Fatalf("kidney in the configured set: got %v want 1", got)
	}
}

func TestComputeDegenerateInputs(t *testing.T) {
	store := newStore(t, el(1, 10, 20, ""))
	m := Compute(store, nil, Request{Region: region(0, 100, 5), Bins: 0})
	if len(m.Bins) != 0 || len(m.Counts) != 4 || len(m.Counts[0]) != 0 {
		t.Fatalf("zero bins should produce an empty matrix: %+v", m)
	}
	m = Compute(store, nil, Request{Region: window.Region{}, Bins: 5})
	for _, row := range m.Counts {
		for _, v := range row {
			if v != 0 {
				t.Fatalf("unresolved region should be all zero")
			}
		}
	}
	m = Compute(store, nil, Request{Region: region(50, 50, 50), Bins: 3})
	if len(m.Bins) != 3 || m.TSSBin.Known() {
		t.Fatalf("empty span: %+v", m)
	}
}

func TestEdgesEndExactly(t *testing.T) {
	edges := Edges(0, 10, 3)
	if len(edges) != 4 || edges[0] != 0 || edges[3] != 10 {
		t.Fatalf("edges %v", edges)
	}
	if Edges(0, 10, 0) != nil {
		t.Fatalf("no bins means no edges")
	}
}
