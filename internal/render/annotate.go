package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/acroflow/acroflow/internal/fields"
)

// Verification is the reviewable rendering of a mapping: every widget
// stamped with its row number on the page image, plus the stamped
// pages reassembled into a single PDF.
type Verification struct {
	AnnotatedPDF []byte
	// Pages holds the stamped page images as PNG bytes, in page order.
	Pages [][]byte
}

// Annotator burns row numerals into rasterized pages so a reviewer or
// a vision model can tie each number back to a form field.
type Annotator struct {
	raster     Rasterizer
	dpi        int
	scratchDir string
	log        zerolog.Logger
}

func NewAnnotator(raster Rasterizer, dpi int, scratchDir string, log zerolog.Logger) *Annotator {
	return &Annotator{
		raster:     raster,
		dpi:        dpi,
		scratchDir: scratchDir,
		log:        log.With().Str("component", "annotator").Logger(),
	}
}

var (
	fontOnce   sync.Once
	fontParsed *truetype.Font
	fontErr    error
)

func numeralFace(size float64) (font.Face, error) {
	fontOnce.Do(func() {
		fontParsed, fontErr = truetype.Parse(goregular.TTF)
	})
	if fontErr != nil {
		return nil, fmt.Errorf("parse numeral font: %w", fontErr)
	}
	return truetype.NewFace(fontParsed, &truetype.Options{Size: size}), nil
}

// Render rasterizes the document and stamps each mapped widget with
// its row number in red, returning the stamped pages and their PDF
// assembly.
func (a *Annotator) Render(ctx context.Context, doc []byte, m *fields.Mapping) (*Verification, error) {
	workDir, err := os.MkdirTemp(a.scratchDir, "annotate-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	inputPath := filepath.Join(workDir, "input.pdf")
	if err := os.WriteFile(inputPath, doc, 0o640); err != nil {
		return nil, fmt.Errorf("stage document: %w", err)
	}

	rasterPaths, err := a.raster.Rasterize(ctx, inputPath, filepath.Join(workDir, "raster"), a.dpi)
	if err != nil {
		return nil, err
	}

	scale := float64(a.dpi) / 72.0
	face, err := numeralFace(14 * scale)
	if err != nil {
		return nil, err
	}

	stampedDir := filepath.Join(workDir, "stamped")
	if err := os.MkdirAll(stampedDir, 0o750); err != nil {
		return nil, fmt.Errorf("create stamped dir: %w", err)
	}

	stampedPaths := make([]string, 0, len(rasterPaths))
	for i, p := range rasterPaths {
		pageNr := i + 1

		img, err := imaging.Open(p)
		if err != nil {
			return nil, fmt.Errorf("open raster page %d: %w", pageNr, err)
		}

		dc := gg.NewContextForImage(img)
		dc.SetFontFace(face)
		pageH := float64(dc.Height())

		for _, d := range m.OnPage(pageNr) {
			// Page images grow downward while PDF coordinates grow
			// upward, so the vertical axis flips here.
			_, cy := d.BBox.Center()
			ix := d.BBox.X1 * scale
			iy := pageH - cy*scale

			dc.SetRGB(0.85, 0, 0)
			dc.SetLineWidth(1.5)
			dc.DrawRectangle(
				d.BBox.X1*scale,
				pageH-d.BBox.Y2*scale,
				d.BBox.Width()*scale,
				d.BBox.Height()*scale,
			)
			dc.Stroke()
			dc.DrawStringAnchored(strconv.Itoa(d.Row), ix-4*scale, iy, 1, 0.5)
		}

		outPath := filepath.Join(stampedDir, fmt.Sprintf("page-%04d.png", pageNr))
		if err := imaging.Save(dc.Image(), outPath); err != nil {
			return nil, fmt.Errorf("save stamped page %d: %w", pageNr, err)
		}
		stampedPaths = append(stampedPaths, outPath)
	}

	outPDF := filepath.Join(workDir, "annotated.pdf")
	if err := api.ImportImagesFile(stampedPaths, outPDF, nil, nil); err != nil {
		return nil, fmt.Errorf("assemble annotated pdf: %w", err)
	}

	v := &Verification{}
	if v.AnnotatedPDF, err = os.ReadFile(outPDF); err != nil {
		return nil, fmt.Errorf("read annotated pdf: %w", err)
	}
	for pageNr, p := range stampedPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read stamped page %d: %w", pageNr+1, err)
		}
		v.Pages = append(v.Pages, data)
	}

	a.log.Debug().Int("pages", len(v.Pages)).Int("fields", len(m.Fields)).Msg("rendered verification")
	return v, nil
}
