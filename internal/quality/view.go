package quality

import (
	"strings"

	"regland/pkg/genome"
)

// AnyTissue requests every tissue of a view, as does the empty string.
const AnyTissue = "Other"

// View names.
const (
	ViewHighConfidence = "high_confidence"
	ViewTissueFlexible = "tissue_flexible"
)

var defaultSet = tissueSet(nil)

// View selects the elements a positional query reads. A tissue from the known
// set reads the high-confidence view restricted to that tissue. Any other
// request reads the tissue-flexible view, restricted to the requested tissue
// unless it is empty or AnyTissue. The zero View is the tissue-flexible view
// over DefaultKnownTissues with no tissue restriction.
type View struct {
	tissue string
	hiconf bool
	known  map[string]bool
}

// NewView picks the view for a tissue request.
func NewView(tissue string, known []string) View {
	set := tissueSet(known)
	t := strings.ToLower(strings.TrimSpace(tissue))
	if t == strings.ToLower(AnyTissue) {
		t = ""
	}
	return View{tissue: t, hiconf: t != "" && set[t], known: set}
}

// Name reports which view is read.
func (v View) Name() string {
	if v.hiconf {
		return ViewHighConfidence
	}
	return ViewTissueFlexible
}

func (v View) set() map[string]bool {
	if v.known == nil {
		return defaultSet
	}
	return v.known
}

// Keep reports whether e belongs to the view. Both views require a score.
func (v View) Keep(e genome.Element) bool {
	if !e.Score.Known() {
		return false
	}
	t, ok := e.Tissue.Get()
	lower := strings.ToLower(t)
	if v.hiconf {
		return ok && lower == v.tissue
	}
	if ok && !v.set()[lower] {
		return false
	}
	return v.tissue == "" || strings.ToLower(e.TissueCategory()) == v.tissue
}

// Flag returns the quality flag of an element read through the view.
func (v View) Flag(e genome.Element) string {
	return flag(e, v.set())
}
