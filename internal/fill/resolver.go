package fill

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/rs/zerolog"

	"github.com/acroflow/acroflow/internal/fields"
)

// overlapThreshold is the minimum share of a descriptor's area that a
// widget rectangle must cover for a geometric match. Below it the two
// rectangles describe different fields.
const overlapThreshold = 0.80

// Skip records a plan item that could not be applied, with the reason
// surfaced to the caller.
type Skip struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// Result is the outcome of applying a plan.
type Result struct {
	Editable  []byte
	Flattened []byte
	Applied   int
	Skipped   []Skip
}

// Filler maps plan items onto live widgets and writes their values.
type Filler struct {
	flattener Flattener
	log       zerolog.Logger
}

// NewFiller builds a filler. flattener may be nil to skip the
// flattened rendition.
func NewFiller(flattener Flattener, log zerolog.Logger) *Filler {
	return &Filler{
		flattener: flattener,
		log:       log.With().Str("component", "filler").Logger(),
	}
}

// Fill applies the plan to the document. Items that cannot be matched
// to a widget are skipped with a warning, never failed: a partially
// filled form is worth more than no form.
func (f *Filler) Fill(ctx context.Context, doc []byte, m *fields.Mapping, plan *Plan) (*Result, error) {
	pctx, err := fields.ReadContext(doc)
	if err != nil {
		return nil, err
	}

	widgets, err := fields.EnumerateWidgets(pctx)
	if err != nil {
		return nil, err
	}
	if len(widgets) == 0 {
		return nil, fields.ErrNoFields
	}

	if err := prepareAcroForm(pctx); err != nil {
		return nil, err
	}

	res := &Result{}
	for _, item := range plan.Items {
		d := m.ByRow(item.Row)
		if d == nil {
			f.skip(res, item.Row, "no such row in mapping")
			continue
		}

		w := resolveWidget(d, widgets)
		if w == nil {
			f.skip(res, item.Row, "no widget matches the mapping row")
			continue
		}

		if err := f.apply(pctx, w, item); err != nil {
			f.skip(res, item.Row, err.Error())
			continue
		}
		res.Applied++
	}

	var buf bytes.Buffer
	if err := api.WriteContext(pctx, &buf); err != nil {
		return nil, fmt.Errorf("write filled document: %w", err)
	}
	res.Editable = buf.Bytes()

	if f.flattener != nil {
		if res.Flattened, err = f.flattener.Flatten(ctx, res.Editable); err != nil {
			return nil, fmt.Errorf("flatten filled document: %w", err)
		}
	}

	f.log.Info().Int("applied", res.Applied).Int("skipped", len(res.Skipped)).Msg("plan applied")
	return res, nil
}

func (f *Filler) skip(res *Result, row int, reason string) {
	f.log.Warn().Int("row", row).Str("reason", reason).Msg("skipping plan item")
	res.Skipped = append(res.Skipped, Skip{Row: row, Reason: reason})
}

// resolveWidget finds the live widget for a descriptor: the stored
// object number when it still matches, else the same-page widget whose
// rectangle covers most of the descriptor's box.
func resolveWidget(d *fields.Descriptor, widgets []fields.Widget) *fields.Widget {
	for i := range widgets {
		w := &widgets[i]
		if d.ObjNr != 0 && w.ObjNr == d.ObjNr && w.Page == d.Page {
			return w
		}
	}

	area := d.BBox.Area()
	if area <= 0 {
		return nil
	}

	var best *fields.Widget
	bestShare := overlapThreshold
	for i := range widgets {
		w := &widgets[i]
		if w.Page != d.Page {
			continue
		}
		share := d.BBox.Intersect(w.Rect).Area() / area
		if share > bestShare {
			best = w
			bestShare = share
		}
	}
	return best
}

func (f *Filler) apply(pctx *model.Context, w *fields.Widget, item Item) error {
	switch w.Kind {
	case fields.KindText:
		return f.applyText(pctx, w, item.Value)
	case fields.KindCheckbox:
		return f.applyCheckbox(w, item.Value)
	case fields.KindRadio:
		return f.applyRadio(w, item.Value)
	default:
		return fmt.Errorf("unfillable field kind %q", w.Kind)
	}
}

func (f *Filler) applyText(pctx *model.Context, w *fields.Widget, value string) error {
	w.FieldDict.Update("V", types.StringLiteral(escapePDFString(value)))
	w.FieldDict.Delete("I")

	if value == "" {
		w.Dict.Delete("AP")
		return nil
	}

	ap, err := textAppearance(pctx, w.Rect, value)
	if err != nil {
		return fmt.Errorf("build appearance: %w", err)
	}
	w.Dict.Update("AP", types.Dict{"N": *ap})
	return nil
}

func (f *Filler) applyCheckbox(w *fields.Widget, value string) error {
	state := "Off"
	if Truthy(value) {
		state = w.OnState
		if state == "" {
			state = "Yes"
		}
	}
	w.FieldDict.Update("V", types.Name(state))
	w.Dict.Update("AS", types.Name(state))
	return nil
}

// applyRadio selects the widget's own export state. A falsy value is
// ignored rather than written: deselecting one member of a radio group
// is not a meaningful form operation.
func (f *Filler) applyRadio(w *fields.Widget, value string) error {
	if !Truthy(value) && !matchesExport(w.OnState, value) {
		return nil
	}
	state := w.OnState
	if state == "" {
		return fmt.Errorf("radio widget has no export state")
	}
	w.FieldDict.Update("V", types.Name(state))
	w.Dict.Update("AS", types.Name(state))
	return nil
}

// matchesExport lets a plan select a radio option by naming its export
// value directly.
func matchesExport(onState, value string) bool {
	return onState != "" && value == onState
}

// prepareAcroForm drops any XFA overlay and asks viewers to regenerate
// appearances, so the written values actually show up.
func prepareAcroForm(pctx *model.Context) error {
	catalog, err := pctx.Catalog()
	if err != nil {
		return fmt.Errorf("resolve catalog: %w", err)
	}
	acroObj, found := catalog.Find("AcroForm")
	if !found {
		return nil
	}
	acro, err := pctx.DereferenceDict(acroObj)
	if err != nil || acro == nil {
		return nil
	}
	acro.Delete("XFA")
	acro.Update("NeedAppearances", types.Boolean(true))
	return nil
}

func escapePDFString(s string) string {
	var out []byte
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', '(', ')':
			out = append(out, '\\', s[i])
		case '\n':
			out = append(out, '\\', 'n')
		case '\r':
			out = append(out, '\\', 'r')
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}
