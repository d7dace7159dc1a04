// Package fields implements form-field discovery: enumerating the
// interactive widgets of a PDF document, classifying them, locating
// them on the page and assigning each one a stable row id plus a
// best-effort label. The resulting mapping is the unit the rest of
// the pipeline caches, enriches and fills against.
package fields

import "fmt"

// Kind classifies a fillable region.
type Kind string

const (
	KindText     Kind = "text"
	KindCheckbox Kind = "checkbox"
	KindRadio    Kind = "radio"
	KindUnknown  Kind = "unknown"
)

// BoundingBox is a widget rectangle in page coordinate space (points,
// origin at the lower-left corner, x1/y1 lower-left and x2/y2
// upper-right after normalization).
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Normalize returns the box with its corners ordered.
func (b BoundingBox) Normalize() BoundingBox {
	if b.X1 > b.X2 {
		b.X1, b.X2 = b.X2, b.X1
	}
	if b.Y1 > b.Y2 {
		b.Y1, b.Y2 = b.Y2, b.Y1
	}
	return b
}

// Width returns the horizontal extent of the box.
func (b BoundingBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b BoundingBox) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the area of the box.
func (b BoundingBox) Area() float64 { return b.Width() * b.Height() }

// Center returns the midpoint of the box.
func (b BoundingBox) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Intersect returns the overlapping region of two boxes. A degenerate
// (empty) box is returned when they do not overlap.
func (b BoundingBox) Intersect(o BoundingBox) BoundingBox {
	r := BoundingBox{
		X1: max(b.X1, o.X1),
		Y1: max(b.Y1, o.Y1),
		X2: min(b.X2, o.X2),
		Y2: min(b.Y2, o.Y2),
	}
	if r.X1 >= r.X2 || r.Y1 >= r.Y2 {
		return BoundingBox{}
	}
	return r
}

// Descriptor is one fillable region of a document.
type Descriptor struct {
	// Row is the 1-based id assigned in discovery order (page order,
	// then per-page widget order). Stable once a mapping is persisted.
	Row int `json:"row"`

	// Heading and Subheading are the first two segments of the
	// fully-qualified field name, a crude hierarchy hint.
	Heading    string `json:"heading"`
	Subheading string `json:"subheading"`

	// RawLabel is the best-effort label from the tiered heuristic.
	RawLabel string `json:"raw_label"`

	// RichDescription starts equal to RawLabel and is overwritten by
	// the vision labeling stage.
	RichDescription string `json:"rich_description"`

	Page int         `json:"page"` // 1-based
	BBox BoundingBox `json:"bbox"`

	// ObjNr is the PDF object number of the widget annotation, the
	// stable identity used for exact matching at fill time. Zero when
	// the widget was not an indirect object.
	ObjNr int `json:"widget_identity"`

	Kind Kind `json:"kind"`

	// OnState is the appearance state that marks a checkbox or radio
	// as selected, discovered from the widget's appearance dictionary.
	// Empty for text fields or when discovery failed.
	OnState string `json:"on_state,omitempty"`
}

// Mapping is the ordered field table for one document identity.
type Mapping struct {
	Identity string       `json:"identity,omitempty"`
	Fields   []Descriptor `json:"fields"`
}

// ByRow returns the descriptor with the given row id, or nil.
func (m *Mapping) ByRow(row int) *Descriptor {
	// Rows are assigned sequentially from 1, so the common case is a
	// direct index; fall back to a scan for hand-edited tables.
	if row >= 1 && row <= len(m.Fields) && m.Fields[row-1].Row == row {
		return &m.Fields[row-1]
	}
	for i := range m.Fields {
		if m.Fields[i].Row == row {
			return &m.Fields[i]
		}
	}
	return nil
}

// OnPage returns the descriptors located on the given 1-based page.
func (m *Mapping) OnPage(page int) []Descriptor {
	var out []Descriptor
	for _, d := range m.Fields {
		if d.Page == page {
			out = append(out, d)
		}
	}
	return out
}

// Pages returns the sorted distinct page numbers carrying fields.
func (m *Mapping) Pages() []int {
	seen := map[int]bool{}
	var pages []int
	for _, d := range m.Fields {
		if !seen[d.Page] {
			seen[d.Page] = true
			pages = append(pages, d.Page)
		}
	}
	for i := 1; i < len(pages); i++ {
		for j := i; j > 0 && pages[j] < pages[j-1]; j-- {
			pages[j], pages[j-1] = pages[j-1], pages[j]
		}
	}
	return pages
}

// Validate checks the row-id invariant: unique, 1-based, sequential.
func (m *Mapping) Validate() error {
	for i, d := range m.Fields {
		if d.Row != i+1 {
			return fmt.Errorf("field %d has row id %d, want %d", i, d.Row, i+1)
		}
	}
	return nil
}
