package fill

import (
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/acroflow/acroflow/internal/fields"
)

const (
	maxAppearanceFontSize = 11.0
	minAppearanceFontSize = 4.0
	// Average glyph advance for Helvetica, as a fraction of the font
	// size. Good enough for shrink-to-fit sizing.
	helvAvgWidth = 0.5
	textInset    = 2.0
)

// autoFontSize picks a size that fits the value into the widget box,
// shrinking from the default rather than clipping.
func autoFontSize(value string, w, h float64) float64 {
	size := maxAppearanceFontSize
	if byHeight := h - 2*textInset; byHeight < size {
		size = byHeight
	}
	if n := len(value); n > 0 {
		if byWidth := (w - 2*textInset) / (helvAvgWidth * float64(n)); byWidth < size {
			size = byWidth
		}
	}
	if size < minAppearanceFontSize {
		size = minAppearanceFontSize
	}
	return size
}

// textAppearance builds the normal appearance stream for a filled text
// widget: a form XObject drawing the value in Helvetica, left aligned
// and vertically centered.
func textAppearance(pctx *model.Context, rect fields.BoundingBox, value string) (*types.IndirectRef, error) {
	w, h := rect.Width(), rect.Height()
	size := autoFontSize(value, w, h)
	baseline := (h-size)/2 + size*0.2

	content := fmt.Sprintf(
		"/Tx BMC q BT /Helv %.2f Tf 0 g %.2f %.2f Td (%s) Tj ET Q EMC",
		size, textInset, baseline, escapePDFString(value),
	)

	sd, err := pctx.NewStreamDictForBuf([]byte(content))
	if err != nil {
		return nil, err
	}
	sd.InsertName("Type", "XObject")
	sd.InsertName("Subtype", "Form")
	sd.Insert("BBox", types.NewNumberArray(0, 0, w, h))
	sd.Insert("Resources", types.Dict{
		"Font": types.Dict{
			"Helv": types.Dict{
				"Type":     types.Name("Font"),
				"Subtype":  types.Name("Type1"),
				"BaseFont": types.Name("Helvetica"),
				"Encoding": types.Name("WinAnsiEncoding"),
			},
		},
	})
	if err := sd.Encode(); err != nil {
		return nil, err
	}
	return pctx.IndRefForNewObject(*sd)
}
