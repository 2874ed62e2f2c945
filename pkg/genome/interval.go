// Package genome defines the interval model shared by the batch passes and the
// query components: genes, regulatory elements, chromatin sites, domains,
// variants and the derived annotation tables built from them.
package genome

import (
	"errors"
	"fmt"
)

// ErrMalformedInterval is matched by every *MalformedIntervalError.
var ErrMalformedInterval = errors.New("malformed interval")

// MalformedIntervalError reports an interval rejected at ingestion.
type MalformedIntervalError struct {
	Interval Interval
	Reason   string
}

func (e *MalformedIntervalError) Error() string {
	return fmt.Sprintf("malformed interval %s: %s", e.Interval, e.Reason)
}

// Is lets errors.Is match ErrMalformedInterval.
func (e *MalformedIntervalError) Is(target error) bool {
	return target == ErrMalformedInterval
}

// Interval is a half-open [Start, End) span in base pairs on one chromosome of
// one species. All species share a single coordinate system per species; any
// liftover has been applied upstream.
type Interval struct {
	Species string `json:"species"`
	Chrom   string `json:"chrom"`
	Start   int64  `json:"start"`
	End     int64  `json:"end"`
}

// Validate rejects negative coordinates and empty or inverted spans.
func (iv Interval) Validate() error {
	switch {
	case iv.Start < 0 || iv.End < 0:
		return &MalformedIntervalError{Interval: iv, Reason: "negative coordinate"}
	case iv.Start >= iv.End:
		return &MalformedIntervalError{Interval: iv, Reason: "start must be less than end"}
	case iv.Chrom == "":
		return &MalformedIntervalError{Interval: iv, Reason: "chromosome required"}
	}
	return nil
}

// Span returns End-Start.
func (iv Interval) Span() int64 { return iv.End - iv.Start }

// Midpoint returns floor((Start+End)/2).
func (iv Interval) Midpoint() int64 { return (iv.Start + iv.End) / 2 }

// SameContig reports whether both intervals sit on the same species and chromosome.
func (iv Interval) SameContig(other Interval) bool {
	return iv.Species == other.Species && iv.Chrom == other.Chrom
}

// Overlaps reports whether the two half-open spans share at least one base on
// the same contig.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.SameContig(other) && iv.Start < other.End && other.Start < iv.End
}

// Contains reports whether pos lies within [Start, End).
func (iv Interval) Contains(pos int64) bool {
	return iv.Start <= pos && pos < iv.End
}

// Encloses reports whether other lies entirely within iv.
func (iv Interval) Encloses(other Interval) bool {
	return iv.SameContig(other) && iv.Start <= other.Start && other.End <= iv.End
}

func (iv Interval) String() string {
	if iv.Species == "" {
		return fmt.Sprintf("%s:%d-%d", iv.Chrom, iv.Start, iv.End)
	}
	return fmt.Sprintf("%s/%s:%d-%d", iv.Species, iv.Chrom, iv.Start, iv.End)
}

// Less orders intervals by species, chromosome, start then end.
func (iv Interval) Less(other Interval) bool {
	if iv.Species != other.Species {
		return iv.Species < other.Species
	}
	if iv.Chrom != other.Chrom {
		return iv.Chrom < other.Chrom
	}
	if iv.Start != other.Start {
		return iv.Start < other.Start
	}
	return iv.End < other.End
}

// AbsDiff returns |a-b|.
func AbsDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
