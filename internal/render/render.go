// Package render turns PDF documents into page images and produces the
// numbered verification rendering used during mapping review.
package render

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
)

// Rasterizer renders every page of a PDF file to a PNG image and
// returns the image paths in page order.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfPath, outDir string, dpi int) ([]string, error)
}

// PopplerRasterizer shells out to pdftoppm from the poppler-utils
// suite, the common headless PDF rasterizer on Linux hosts.
type PopplerRasterizer struct {
	// Binary overrides the executable name, mainly for packaging
	// layouts where pdftoppm is not on PATH.
	Binary string
	log    zerolog.Logger
}

func NewPopplerRasterizer(binary string, log zerolog.Logger) *PopplerRasterizer {
	if binary == "" {
		binary = "pdftoppm"
	}
	return &PopplerRasterizer{
		Binary: binary,
		log:    log.With().Str("component", "rasterizer").Logger(),
	}
}

func (r *PopplerRasterizer) Rasterize(ctx context.Context, pdfPath, outDir string, dpi int) ([]string, error) {
	if dpi <= 0 {
		dpi = 200
	}
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("create raster dir: %w", err)
	}

	prefix := filepath.Join(outDir, "page")
	cmd := exec.CommandContext(ctx, r.Binary,
		"-png",
		"-r", fmt.Sprintf("%d", dpi),
		pdfPath,
		prefix,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.log.Error().Err(err).Str("output", string(out)).Msg("pdftoppm failed")
		return nil, fmt.Errorf("rasterize %s: %w", filepath.Base(pdfPath), err)
	}

	paths, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, fmt.Errorf("collect raster pages: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("rasterize %s: no pages produced", filepath.Base(pdfPath))
	}

	// pdftoppm zero-pads page numbers within a run, so the lexical
	// order is the page order.
	sort.Strings(paths)

	r.log.Debug().Int("pages", len(paths)).Int("dpi", dpi).Msg("rasterized document")
	return paths, nil
}
