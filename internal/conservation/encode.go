package conservation

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"regland/pkg/genome"
)

// LabelHeader is the column layout written by EncodeLabels.
var LabelHeader = []string{"element_id", "class", "support", "region_id", "cluster_id"}

// RegionHeader is the column layout written by EncodeRegions.
var RegionHeader = []string{"region_id", "species", "chrom", "start", "end", "members"}

// EncodeLabels writes one tab-separated row per label.
func EncodeLabels(w io.Writer, labels []genome.ConservationLabel) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(LabelHeader); err != nil {
		return fmt.Errorf("write label header: %w", err)
	}
	for _, l := range labels {
		row := []string{
			strconv.FormatInt(l.ElementID, 10),
			string(l.Class),
			strconv.Itoa(l.Support),
			l.RegionID,
			strconv.Itoa(l.ClusterID),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write label %d: %w", l.ElementID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// EncodeRegions writes canonical regions with comma-joined member ids.
func EncodeRegions(w io.Writer, regions []genome.CanonicalRegion) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(RegionHeader); err != nil {
		return fmt.Errorf("write region header: %w", err)
	}
	for _, r := range regions {
		members := make([]string, len(r.Members))
		for i, id := range r.Members {
			members[i] = strconv.FormatInt(id, 10)
		}
		row := []string{
			r.ID,
			r.Species,
			r.Chrom,
			strconv.FormatInt(r.Start, 10),
			strconv.FormatInt(r.End, 10),
			strings.Join(members, ","),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write region %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
