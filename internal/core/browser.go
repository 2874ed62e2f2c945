package core

import (
	"fmt"
	"strconv"
)

const ucscBrowser = "https://genome.ucsc.edu/cgi-bin/hgTracks"

// ucscAssemblies maps species build identifiers to UCSC database names.
var ucscAssemblies = map[string]string{
	"human_hg38":       "hg38",
	"mouse_mm39":       "mm39",
	"macaque_rheMac10": "rheMac10",
	"chicken_galGal6":  "galGal6",
	"pig_susScr11":     "susScr11",
}

// BrowserURL returns the UCSC genome browser link for a position. Species
// without a UCSC assembly yield false.
func BrowserURL(species, chrom string, start, end int64) (string, bool) {
	db, ok := ucscAssemblies[species]
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s?db=%s&position=%s:%s-%s", ucscBrowser, db, chrom, groupThousands(start), groupThousands(end)), true
}

// BrowserURL links the resolved region, if any.
func (s *Service) BrowserURL(species, chrom string, start, end int64) (string, bool) {
	return BrowserURL(species, chrom, start, end)
}

func groupThousands(n int64) string {
	digits := strconv.FormatInt(n, 10)
	sign := ""
	if n < 0 {
		sign, digits = "-", digits[1:]
	}
	if len(digits) <= 3 {
		return sign + digits
	}
	head := len(digits) % 3
	if head == 0 {
		head = 3
	}
	out := []byte(digits[:head])
	for i := head; i < len(digits); i += 3 {
		out = append(out, ',')
		out = append(out, digits[i:i+3]...)
	}
	return sign + string(out)
}
