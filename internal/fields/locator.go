package fields

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/rs/zerolog"
)

// ErrNoFields is returned when a document carries no fillable widgets.
// This is fatal for the document: it cannot be mapped at all.
var ErrNoFields = errors.New("no interactive form fields found")

// Widget is the raw enumeration result shared by discovery and fill:
// one widget annotation with its page, geometry and dictionaries.
type Widget struct {
	ObjNr   int
	Page    int
	Rect    BoundingBox
	Kind    Kind
	OnState string

	// Dict is the widget annotation dictionary. FieldDict is the
	// dictionary carrying the field's value; for merged fields the two
	// are the same object.
	Dict      types.Dict
	FieldDict types.Dict

	// Name is the fully-qualified field name (T entries joined on dots).
	Name    string
	Tooltip string
}

// Locator discovers the fillable fields of a document.
type Locator struct {
	// MaxLabelDistance bounds the horizontal search for printed text
	// to the left of a widget, in points.
	MaxLabelDistance float64
	// VerticalPad loosens the vertical-overlap test for neighbor text.
	VerticalPad float64

	log zerolog.Logger
}

// NewLocator creates a locator with the reference search parameters.
func NewLocator(log zerolog.Logger) *Locator {
	return &Locator{
		MaxLabelDistance: 200,
		VerticalPad:      2,
		log:              log,
	}
}

// Locate enumerates the document's fillable fields in page order and
// returns the mapping with row ids assigned in discovery order.
func (l *Locator) Locate(docBytes []byte) (*Mapping, error) {
	ctx, err := ReadContext(docBytes)
	if err != nil {
		return nil, err
	}

	widgets, err := EnumerateWidgets(ctx)
	if err != nil {
		return nil, err
	}
	if len(widgets) == 0 {
		return nil, ErrNoFields
	}

	words := newWordIndex(docBytes, l.log)

	m := &Mapping{Fields: make([]Descriptor, 0, len(widgets))}
	for i, w := range widgets {
		label := l.resolveLabel(w, words.onPage(w.Page))
		heading, subheading := splitFieldName(w.Name)

		m.Fields = append(m.Fields, Descriptor{
			Row:             i + 1,
			Heading:         heading,
			Subheading:      subheading,
			RawLabel:        label,
			RichDescription: label,
			Page:            w.Page,
			BBox:            w.Rect,
			ObjNr:           w.ObjNr,
			Kind:            w.Kind,
			OnState:         w.OnState,
		})
	}
	return m, nil
}

// ReadContext opens a pdfcpu context over raw bytes with relaxed
// validation, the mode tolerant of producer quirks.
func ReadContext(docBytes []byte) (*model.Context, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(docBytes), conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF context: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("failed to ensure page count: %w", err)
	}
	return ctx, nil
}

// EnumerateWidgets walks every page's annotations and returns the
// fillable widgets in page order, then per-page annotation order.
// Pushbuttons are excluded: they trigger actions, they hold no value.
func EnumerateWidgets(ctx *model.Context) ([]Widget, error) {
	var widgets []Widget

	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		pageDict, _, _, err := ctx.PageDict(pageNr, false)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve page %d: %w", pageNr, err)
		}
		if pageDict == nil {
			continue
		}

		annotsObj, found := pageDict.Find("Annots")
		if !found {
			continue
		}
		annots, err := ctx.DereferenceArray(annotsObj)
		if err != nil || annots == nil {
			continue
		}

		for _, annotRef := range annots {
			objNr := 0
			if ir, ok := annotRef.(types.IndirectRef); ok {
				objNr = ir.ObjectNumber.Value()
			}

			annotDict, err := ctx.DereferenceDict(annotRef)
			if err != nil || annotDict == nil {
				continue
			}
			if subtype := annotDict.NameEntry("Subtype"); subtype == nil || *subtype != "Widget" {
				continue
			}

			w, ok := buildWidget(ctx, annotDict, objNr, pageNr)
			if !ok {
				continue
			}
			widgets = append(widgets, w)
		}
	}

	return widgets, nil
}

func buildWidget(ctx *model.Context, annotDict types.Dict, objNr, pageNr int) (Widget, bool) {
	rect, ok := widgetRect(ctx, annotDict)
	if !ok {
		return Widget{}, false
	}

	kind := classifyField(ctx, annotDict, 0)
	if kind == "" {
		// Pushbutton or otherwise non-fillable.
		return Widget{}, false
	}

	w := Widget{
		ObjNr:     objNr,
		Page:      pageNr,
		Rect:      rect,
		Kind:      kind,
		Dict:      annotDict,
		FieldDict: valueDict(ctx, annotDict),
		Name:      qualifiedName(ctx, annotDict, 0),
		Tooltip:   tooltip(ctx, annotDict),
	}
	if kind == KindCheckbox || kind == KindRadio {
		w.OnState = onState(ctx, annotDict)
	}
	return w, true
}

func widgetRect(ctx *model.Context, annotDict types.Dict) (BoundingBox, bool) {
	rectObj, found := annotDict.Find("Rect")
	if !found {
		return BoundingBox{}, false
	}
	arr, err := ctx.DereferenceArray(rectObj)
	if err != nil || len(arr) != 4 {
		return BoundingBox{}, false
	}
	coords := make([]float64, 4)
	for i, c := range arr {
		f, err := ctx.DereferenceNumber(c)
		if err != nil {
			return BoundingBox{}, false
		}
		coords[i] = f
	}
	b := BoundingBox{X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3]}.Normalize()
	if b.Area() == 0 {
		return BoundingBox{}, false
	}
	return b, true
}

const maxParentDepth = 16

// classifyField maps the field type and flags onto a Kind, following
// the Parent chain for inherited FT/Ff entries. An empty Kind marks a
// widget that must be skipped.
func classifyField(ctx *model.Context, fieldDict types.Dict, depth int) Kind {
	if depth > maxParentDepth {
		return KindUnknown
	}

	ftObj, found := fieldDict.Find("FT")
	if !found {
		if parent := parentDict(ctx, fieldDict); parent != nil {
			return classifyField(ctx, parent, depth+1)
		}
		return KindUnknown
	}
	ftName, err := ctx.DereferenceName(ftObj, model.V10, nil)
	if err != nil {
		return KindUnknown
	}

	switch ftName {
	case "Tx", "Ch":
		// Choice fields take a string value, same application path as text.
		return KindText
	case "Btn":
		flags := fieldFlags(ctx, fieldDict, 0)
		if flags&(1<<16) != 0 { // Bit 17: Pushbutton
			return ""
		}
		if flags&(1<<15) != 0 { // Bit 16: Radio
			return KindRadio
		}
		return KindCheckbox
	default:
		return KindUnknown
	}
}

func fieldFlags(ctx *model.Context, fieldDict types.Dict, depth int) int {
	if depth > maxParentDepth {
		return 0
	}
	if flagsObj, found := fieldDict.Find("Ff"); found {
		if flags, err := ctx.DereferenceInteger(flagsObj); err == nil && flags != nil {
			return (*flags).Value()
		}
	}
	if parent := parentDict(ctx, fieldDict); parent != nil {
		return fieldFlags(ctx, parent, depth+1)
	}
	return 0
}

func parentDict(ctx *model.Context, d types.Dict) types.Dict {
	parentObj, found := d.Find("Parent")
	if !found {
		return nil
	}
	parent, err := ctx.DereferenceDict(parentObj)
	if err != nil {
		return nil
	}
	return parent
}

// valueDict returns the dictionary that owns the field's value: the
// widget itself when it carries a name (merged field/widget), else the
// nearest ancestor with a T entry.
func valueDict(ctx *model.Context, annotDict types.Dict) types.Dict {
	d := annotDict
	for depth := 0; depth <= maxParentDepth; depth++ {
		if _, found := d.Find("T"); found {
			return d
		}
		parent := parentDict(ctx, d)
		if parent == nil {
			return annotDict
		}
		d = parent
	}
	return annotDict
}

// qualifiedName joins the T entries along the Parent chain into the
// fully-qualified field name.
func qualifiedName(ctx *model.Context, annotDict types.Dict, depth int) string {
	if depth > maxParentDepth {
		return ""
	}
	var own string
	if nameObj, found := annotDict.Find("T"); found {
		if name, err := ctx.DereferenceStringOrHexLiteral(nameObj, model.V10, nil); err == nil {
			own = name
		}
	}
	if parent := parentDict(ctx, annotDict); parent != nil {
		if prefix := qualifiedName(ctx, parent, depth+1); prefix != "" {
			if own == "" {
				return prefix
			}
			return prefix + "." + own
		}
	}
	return own
}

func tooltip(ctx *model.Context, annotDict types.Dict) string {
	d := annotDict
	for depth := 0; depth <= maxParentDepth; depth++ {
		if tuObj, found := d.Find("TU"); found {
			if tu, err := ctx.DereferenceStringOrHexLiteral(tuObj, model.V10, nil); err == nil {
				return normalizeSpace(tu)
			}
		}
		parent := parentDict(ctx, d)
		if parent == nil {
			return ""
		}
		d = parent
	}
	return ""
}

// onState discovers the appearance state that marks a button widget as
// selected. The name varies per producer ("Yes", "On", "1", arbitrary
// export values), so it is read from the normal appearance dictionary
// rather than assumed.
func onState(ctx *model.Context, annotDict types.Dict) string {
	apObj, found := annotDict.Find("AP")
	if !found {
		return ""
	}
	apDict, err := ctx.DereferenceDict(apObj)
	if err != nil || apDict == nil {
		return ""
	}
	nObj, found := apDict.Find("N")
	if !found {
		return ""
	}
	nDict, err := ctx.DereferenceDict(nObj)
	if err != nil || nDict == nil {
		return ""
	}

	states := make([]string, 0, len(nDict))
	for state := range nDict {
		if state != "Off" {
			states = append(states, state)
		}
	}
	if len(states) == 0 {
		return ""
	}
	sort.Strings(states)
	return states[0]
}

// splitFieldName derives the heading/subheading hint from the
// fully-qualified field name.
func splitFieldName(name string) (string, string) {
	parts := strings.Split(name, ".")
	heading := strings.TrimSpace(parts[0])
	subheading := ""
	if len(parts) > 1 {
		subheading = strings.TrimSpace(parts[1])
	}
	return heading, subheading
}
