package fill

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog"

	"github.com/acroflow/acroflow/internal/render"
)

// Flattener turns an editable filled document into a
// no-longer-editable one.
type Flattener interface {
	Flatten(ctx context.Context, doc []byte) ([]byte, error)
}

// RasterFlattener flattens by rasterizing every page and reassembling
// the images into a PDF. Brutal but producer-proof: whatever the
// viewer would have shown is what the flat copy shows.
type RasterFlattener struct {
	raster     render.Rasterizer
	dpi        int
	scratchDir string
	log        zerolog.Logger
}

func NewRasterFlattener(raster render.Rasterizer, dpi int, scratchDir string, log zerolog.Logger) *RasterFlattener {
	return &RasterFlattener{
		raster:     raster,
		dpi:        dpi,
		scratchDir: scratchDir,
		log:        log.With().Str("component", "flattener").Logger(),
	}
}

func (f *RasterFlattener) Flatten(ctx context.Context, doc []byte) ([]byte, error) {
	workDir, err := os.MkdirTemp(f.scratchDir, "flatten-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	inputPath := filepath.Join(workDir, "input.pdf")
	if err := os.WriteFile(inputPath, doc, 0o640); err != nil {
		return nil, fmt.Errorf("stage document: %w", err)
	}

	pages, err := f.raster.Rasterize(ctx, inputPath, filepath.Join(workDir, "raster"), f.dpi)
	if err != nil {
		return nil, err
	}

	outPath := filepath.Join(workDir, "flat.pdf")
	if err := api.ImportImagesFile(pages, outPath, nil, nil); err != nil {
		return nil, fmt.Errorf("assemble flattened pdf: %w", err)
	}

	flat, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read flattened pdf: %w", err)
	}
	f.log.Debug().Int("pages", len(pages)).Msg("flattened document")
	return flat, nil
}

var _ Flattener = (*RasterFlattener)(nil)
