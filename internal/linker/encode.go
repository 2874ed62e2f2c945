package linker

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"regland/pkg/genome"
)

// LinkHeader is the column layout written by EncodeLinks.
var LinkHeader = []string{"gene_id", "element_id", "method", "distance_bp", "confidence"}

// OverlapHeader is the column layout written by EncodeOverlaps.
var OverlapHeader = []string{"variant_id", "element_id"}

// EncodeLinks writes links as tab-separated rows in the given order. Identical
// link tables always encode to identical bytes.
func EncodeLinks(w io.Writer, links []genome.Link) error {
	cw := newTSVWriter(w)
	if err := cw.Write(LinkHeader); err != nil {
		return fmt.Errorf("write link header: %w", err)
	}
	for _, l := range links {
		row := []string{
			strconv.FormatInt(l.GeneID, 10),
			strconv.FormatInt(l.ElementID, 10),
			string(l.Method),
			strconv.FormatInt(l.Distance, 10),
			l.Method.Confidence(),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write link %d/%d: %w", l.GeneID, l.ElementID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// EncodeOverlaps writes variant overlaps as tab-separated rows.
func EncodeOverlaps(w io.Writer, overlaps []genome.VariantOverlap) error {
	cw := newTSVWriter(w)
	if err := cw.Write(OverlapHeader); err != nil {
		return fmt.Errorf("write overlap header: %w", err)
	}
	for _, o := range overlaps {
		if err := cw.Write([]string{strconv.FormatInt(o.VariantID, 10), strconv.FormatInt(o.ElementID, 10)}); err != nil {
			return fmt.Errorf("write overlap %d/%d: %w", o.VariantID, o.ElementID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func newTSVWriter(w io.Writer) *csv.Writer {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	return cw
}
