package mapping

import (
	"context"

	"github.com/acroflow/acroflow/internal/fields"
	"github.com/acroflow/acroflow/internal/render"
)

// Extractor produces the base mapping and its verification rendering
// from a raw document.
type Extractor interface {
	Extract(ctx context.Context, doc []byte) (*fields.Mapping, *render.Verification, error)
}

// Enricher rewrites a base mapping with reviewed descriptions, usually
// by showing the stamped pages to a vision model.
type Enricher interface {
	Enrich(ctx context.Context, m *fields.Mapping, pages [][]byte) (*fields.Mapping, error)
}

// DocumentExtractor is the production Extractor: widget location via
// the form dictionary, then the numbered page rendering.
type DocumentExtractor struct {
	locator   *fields.Locator
	annotator *render.Annotator
}

func NewDocumentExtractor(locator *fields.Locator, annotator *render.Annotator) *DocumentExtractor {
	return &DocumentExtractor{locator: locator, annotator: annotator}
}

func (e *DocumentExtractor) Extract(ctx context.Context, doc []byte) (*fields.Mapping, *render.Verification, error) {
	m, err := e.locator.Locate(doc)
	if err != nil {
		return nil, nil, err
	}
	v, err := e.annotator.Render(ctx, doc, m)
	if err != nil {
		return nil, nil, err
	}
	return m, v, nil
}

var _ Extractor = (*DocumentExtractor)(nil)
