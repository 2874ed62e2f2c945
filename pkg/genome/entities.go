package genome

import (
	"fmt"
	"strings"
)

// EntityType identifies a record family for error reporting and rule violations.
type EntityType string

const (
	EntityGene          EntityType = "gene"
	EntityElement       EntityType = "element"
	EntityChromatinSite EntityType = "chromatin_site"
	EntityDomain        EntityType = "domain"
	EntityVariant       EntityType = "variant"
	EntityEvidence      EntityType = "lineage_evidence"
	EntityLink          EntityType = "gene_element_link"
	EntityOverlap       EntityType = "variant_element_overlap"
	EntityLabel         EntityType = "conservation_label"
	EntitySpecies       EntityType = "species"
)

// ErrNotFound is returned by lookups that miss.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// UnknownTissue is the explicit category used wherever an absent tissue must be
// displayed or grouped.
const UnknownTissue = "unknown"

// Gene is an annotated gene. Its transcription start site is the start
// boundary of the interval regardless of strand.
type Gene struct {
	ID       int64  `json:"gene_id"`
	Symbol   string `json:"symbol"`
	Interval `json:"interval"`
}

// TSS returns the transcription start site.
func (g Gene) TSS() int64 { return g.Start }

// Element is a regulatory element (enhancer call). Elements are never mutated
// after ingestion; conservation labels live in a separate derived table.
type Element struct {
	ID       int64 `json:"element_id"`
	Interval `json:"interval"`
	Tissue   Optional[string]  `json:"tissue"`
	Score    Optional[float64] `json:"score"`
	Source   string            `json:"source"`
}

// TissueCategory returns the tissue name or UnknownTissue.
func (e Element) TissueCategory() string {
	return e.Tissue.OrElse(UnknownTissue)
}

// ConservationClass is the cross-species conservation taxonomy.
type ConservationClass string

const (
	ClassConserved ConservationClass = "conserved"
	ClassGained    ConservationClass = "gained"
	ClassLost      ConservationClass = "lost"
	ClassUnlabeled ConservationClass = "unlabeled"
)

// AllClasses lists every class in display order.
var AllClasses = []ConservationClass{ClassConserved, ClassGained, ClassLost, ClassUnlabeled}

// ParseClass maps a free-form label onto the taxonomy; anything unrecognized
// is unlabeled.
func ParseClass(s string) ConservationClass {
	if c, ok := LookupClass(s); ok {
		return c
	}
	return ClassUnlabeled
}

// LookupClass matches a class name case-insensitively.
func LookupClass(s string) (ConservationClass, bool) {
	c := ConservationClass(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case ClassConserved, ClassGained, ClassLost, ClassUnlabeled:
		return c, true
	}
	return "", false
}

// ConservationLabel is the derived class of one element.
type ConservationLabel struct {
	ElementID int64             `json:"element_id"`
	Class     ConservationClass `json:"class"`
	Support   int               `json:"support"`
	RegionID  string            `json:"region_id"`
	ClusterID int               `json:"cluster_id"`
}

// CanonicalRegion is a merged, non-overlapping same-species region.
type CanonicalRegion struct {
	ID       string `json:"region_id"`
	Interval `json:"interval"`
	Members  []int64 `json:"members"`
}

// LineageEvidence is explicit single-species evidence that elements in a
// region were gained or lost in that lineage.
type LineageEvidence struct {
	ID       int64 `json:"evidence_id"`
	Interval `json:"interval"`
	Class    ConservationClass `json:"class"`
}

// ChromatinSite is a CTCF binding site.
type ChromatinSite struct {
	ID       int64 `json:"site_id"`
	Interval `json:"interval"`
	Score    Optional[float64] `json:"score"`
	MotifP   Optional[float64] `json:"motif_p"`
	Class    ConservationClass `json:"class"`
}

// Domain is a topologically associating domain used only for containment.
type Domain struct {
	ID       int64 `json:"domain_id"`
	Interval `json:"interval"`
	Source   string `json:"source"`
}

// Variant is a trait-associated point variant.
type Variant struct {
	ID       int64             `json:"variant_id"`
	RsID     string            `json:"rsid"`
	Chrom    string            `json:"chrom"`
	Pos      int64             `json:"pos"`
	Trait    string            `json:"trait"`
	PValue   Optional[float64] `json:"pval"`
	Category string            `json:"category"`
	Source   string            `json:"source"`
}

// LinkMethod names the tier that produced a gene/element link.
type LinkMethod string

const (
	MethodPromoter LinkMethod = "promoter"
	MethodOverlap  LinkMethod = "overlap"
	MethodNearest  LinkMethod = "nearest"
	MethodWindow   LinkMethod = "window-capped"
)

// LinkMethods lists the tiers in priority order.
var LinkMethods = []LinkMethod{MethodPromoter, MethodOverlap, MethodNearest, MethodWindow}

// Rank returns the tier priority (1 is highest) or 0 for unknown methods.
func (m LinkMethod) Rank() int {
	for i, candidate := range LinkMethods {
		if m == candidate {
			return i + 1
		}
	}
	return 0
}

// Valid reports whether m is one of the enumerated tiers.
func (m LinkMethod) Valid() bool { return m.Rank() > 0 }

// Confidence grades how much a link can be trusted for downstream mapping.
func (m LinkMethod) Confidence() string {
	switch m {
	case MethodPromoter, MethodOverlap:
		return "high_confidence"
	case MethodNearest:
		return "medium_confidence"
	case MethodWindow:
		return "low_confidence"
	default:
		return "unknown"
	}
}

// Link connects a gene and an element. At most one link exists per pair.
type Link struct {
	GeneID    int64      `json:"gene_id"`
	ElementID int64      `json:"element_id"`
	Method    LinkMethod `json:"method"`
	Distance  int64      `json:"distance_bp"`
}

// VariantOverlap records that a variant position falls inside an element.
type VariantOverlap struct {
	VariantID int64 `json:"variant_id"`
	ElementID int64 `json:"element_id"`
}

// LabelIndex maps element ids to their conservation class.
type LabelIndex map[int64]ConservationClass

// NewLabelIndex indexes a label table.
func NewLabelIndex(labels []ConservationLabel) LabelIndex {
	x := make(LabelIndex, len(labels))
	for _, l := range labels {
		x[l.ElementID] = l.Class
	}
	return x
}

// Class returns the class of an element; elements without a label are
// unlabeled.
func (x LabelIndex) Class(elementID int64) ConservationClass {
	if c, ok := x[elementID]; ok {
		return c
	}
	return ClassUnlabeled
}
