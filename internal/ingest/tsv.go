// Package ingest reads the cleaned, tab-separated interval lists produced by
// the upstream pipeline into a genome.Dataset. Columns are located by header
// name so extra columns are ignored. Empty cells, "NA" and "." are read as
// unknown values.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"regland/pkg/genome"
)

// Input file names looked up by LoadDir.
const (
	GenesFile    = "genes.tsv"
	ElementsFile = "elements.tsv"
	SitesFile    = "ctcf_sites.tsv"
	DomainsFile  = "domains.tsv"
	VariantsFile = "variants.tsv"
	EvidenceFile = "lineage_evidence.tsv"
)

// RowError locates a rejected row.
type RowError struct {
	Entity genome.EntityType
	Line   int
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s line %d: %v", e.Entity, e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

type row struct {
	cols   map[string]int
	fields []string
}

func (r row) str(name string) string {
	i, ok := r.cols[name]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

func missing(v string) bool {
	return v == "" || v == "." || strings.EqualFold(v, "NA")
}

func (r row) int(name string) (int64, error) {
	v := r.str(name)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %q is not an integer", name, v)
	}
	return n, nil
}

func (r row) optString(name string) genome.Optional[string] {
	v := r.str(name)
	if missing(v) {
		return genome.None[string]()
	}
	return genome.Some(v)
}

func (r row) optFloat(name string) (genome.Optional[float64], error) {
	v := r.str(name)
	if missing(v) {
		return genome.None[float64](), nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return genome.None[float64](), fmt.Errorf("column %s: %q is not a number", name, v)
	}
	return genome.Some(f), nil
}

func (r row) interval() (genome.Interval, error) {
	start, err := r.int("start")
	if err != nil {
		return genome.Interval{}, err
	}
	end, err := r.int("end")
	if err != nil {
		return genome.Interval{}, err
	}
	iv := genome.Interval{Species: r.str("species"), Chrom: r.str("chrom"), Start: start, End: end}
	if err := iv.Validate(); err != nil {
		return genome.Interval{}, err
	}
	if iv.Species == "" {
		return genome.Interval{}, errors.New("column species: value required")
	}
	return iv, nil
}

// scan reads a header row then calls fn for every data row. Lines starting
// with '#' are comments.
func scan(r io.Reader, entity genome.EntityType, required []string, fn func(row) error) error {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s: empty input", entity)
		}
		return fmt.Errorf("%s header: %w", entity, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return fmt.Errorf("%s header: missing column %s", entity, name)
		}
	}
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			line := 0
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.Line
			}
			return &RowError{Entity: entity, Line: line, Err: err}
		}
		line, _ := cr.FieldPos(0)
		if err := fn(row{cols: cols, fields: fields}); err != nil {
			return &RowError{Entity: entity, Line: line, Err: err}
		}
	}
}

var intervalCols = []string{"species", "chrom", "start", "end"}

func withInterval(id string, extra ...string) []string {
	out := append([]string{id}, intervalCols...)
	return append(out, extra...)
}

// ReadGenes parses gene_id, species, chrom, start, end, symbol.
func ReadGenes(r io.Reader) ([]genome.Gene, error) {
	var out []genome.Gene
	err := scan(r, genome.EntityGene, withInterval("gene_id", "symbol"), func(rw row) error {
		id, err := rw.int("gene_id")
		if err != nil {
			return err
		}
		iv, err := rw.interval()
		if err != nil {
			return err
		}
		out = append(out, genome.Gene{ID: id, Symbol: rw.str("symbol"), Interval: iv})
		return nil
	})
	return out, err
}

// ReadElements parses element_id, species, chrom, start, end and the
// optional tissue, score and source columns.
func ReadElements(r io.Reader) ([]genome.Element, error) {
	var out []genome.Element
	err := scan(r, genome.EntityElement, withInterval("element_id"), func(rw row) error {
		id, err := rw.int("element_id")
		if err != nil {
			return err
		}
		iv, err := rw.interval()
		if err != nil {
			return err
		}
		score, err := rw.optFloat("score")
		if err != nil {
			return err
		}
		out = append(out, genome.Element{ID: id, Interval: iv, Tissue: rw.optString("tissue"), Score: score, Source: rw.str("source")})
		return nil
	})
	return out, err
}

// ReadSites parses CTCF sites: site_id, species, chrom, start, end, score,
// motif_p, class.
func ReadSites(r io.Reader) ([]genome.ChromatinSite, error) {
	var out []genome.ChromatinSite
	err := scan(r, genome.EntityChromatinSite, withInterval("site_id"), func(rw row) error {
		id, err := rw.int("site_id")
		if err != nil {
			return err
		}
		iv, err := rw.interval()
		if err != nil {
			return err
		}
		score, err := rw.optFloat("score")
		if err != nil {
			return err
		}
		motif, err := rw.optFloat("motif_p")
		if err != nil {
			return err
		}
		out = append(out, genome.ChromatinSite{ID: id, Interval: iv, Score: score, MotifP: motif, Class: genome.ParseClass(rw.str("class"))})
		return nil
	})
	return out, err
}

// ReadDomains parses domain_id, species, chrom, start, end, source.
func ReadDomains(r io.Reader) ([]genome.Domain, error) {
	var out []genome.Domain
	err := scan(r, genome.EntityDomain, withInterval("domain_id"), func(rw row) error {
		id, err := rw.int("domain_id")
		if err != nil {
			return err
		}
		iv, err := rw.interval()
		if err != nil {
			return err
		}
		out = append(out, genome.Domain{ID: id, Interval: iv, Source: rw.str("source")})
		return nil
	})
	return out, err
}

// ReadVariants parses variant_id, rsid, chrom, pos, trait, pval, category,
// source. Positions are 0-based.
func ReadVariants(r io.Reader) ([]genome.Variant, error) {
	var out []genome.Variant
	err := scan(r, genome.EntityVariant, []string{"variant_id", "chrom", "pos"}, func(rw row) error {
		id, err := rw.int("variant_id")
		if err != nil {
			return err
		}
		pos, err := rw.int("pos")
		if err != nil {
			return err
		}
		chrom := rw.str("chrom")
		if pos < 0 || chrom == "" {
			return &genome.MalformedIntervalError{
				Interval: genome.Interval{Chrom: chrom, Start: pos, End: pos + 1},
				Reason:   "variant needs a chromosome and a non-negative position",
			}
		}
		pval, err := rw.optFloat("pval")
		if err != nil {
			return err
		}
		out = append(out, genome.Variant{
			ID:       id,
			RsID:     rw.str("rsid"),
			Chrom:    chrom,
			Pos:      pos,
			Trait:    rw.str("trait"),
			PValue:   pval,
			Category: rw.str("category"),
			Source:   rw.str("source"),
		})
		return nil
	})
	return out, err
}

// ReadEvidence parses evidence_id, species, chrom, start, end, class where
// class must be gained or lost.
func ReadEvidence(r io.Reader) ([]genome.LineageEvidence, error) {
	var out []genome.LineageEvidence
	err := scan(r, genome.EntityEvidence, withInterval("evidence_id", "class"), func(rw row) error {
		id, err := rw.int("evidence_id")
		if err != nil {
			return err
		}
		iv, err := rw.interval()
		if err != nil {
			return err
		}
		class := genome.ParseClass(rw.str("class"))
		if class != genome.ClassGained && class != genome.ClassLost {
			return fmt.Errorf("column class: %q must be gained or lost", rw.str("class"))
		}
		out = append(out, genome.LineageEvidence{ID: id, Interval: iv, Class: class})
		return nil
	})
	return out, err
}

// LoadDir reads every known file present in dir. Missing files leave the
// corresponding table empty; the assembled dataset is validated as a whole.
func LoadDir(dir string) (genome.Dataset, error) {
	var d genome.Dataset
	load := func(name string, read func(io.Reader) error) error {
		f, err := os.Open(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		if err := read(f); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
	steps := []struct {
		name string
		read func(io.Reader) error
	}{
		{GenesFile, func(r io.Reader) (err error) { d.Genes, err = ReadGenes(r); return }},
		{ElementsFile, func(r io.Reader) (err error) { d.Elements, err = ReadElements(r); return }},
		{SitesFile, func(r io.Reader) (err error) { d.Sites, err = ReadSites(r); return }},
		{DomainsFile, func(r io.Reader) (err error) { d.Domains, err = ReadDomains(r); return }},
		{VariantsFile, func(r io.Reader) (err error) { d.Variants, err = ReadVariants(r); return }},
		{EvidenceFile, func(r io.Reader) (err error) { d.Evidence, err = ReadEvidence(r); return }},
	}
	for _, step := range steps {
		if err := load(step.name, step.read); err != nil {
			return genome.Dataset{}, err
		}
	}
	if err := d.Validate(); err != nil {
		return genome.Dataset{}, fmt.Errorf("validate %s: %w", dir, err)
	}
	return d, nil
}
