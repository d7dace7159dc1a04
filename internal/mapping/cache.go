package mapping

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/acroflow/acroflow/internal/fields"
	"github.com/acroflow/acroflow/internal/store"
)

// Blob names under a mapping's cache entry.
const (
	blobBase      = "map.csv"
	blobRich      = "map_rich.csv"
	blobAnnotated = "annotated.pdf"
	pageBlobFmt   = "page-%04d.png"
)

// ErrNotEnriched marks a mapping that has its base table and
// verification rendering but no reviewed descriptions yet. Callers
// still get the base mapping alongside this error.
var ErrNotEnriched = errors.New("mapping not enriched")

// Entry is a cached mapping together with its enrichment status.
// Fresh marks an enriched mapping the labeling stage produced during
// this call, as opposed to one served from the cache; callers use it
// to record the review checkpoint before proceeding.
type Entry struct {
	Mapping  *fields.Mapping
	Enriched bool
	Fresh    bool
}

// Cache coordinates mapping extraction and enrichment per document
// identity. Concurrent requests for the same identity share one
// extraction, and a finished extraction is never repeated.
type Cache struct {
	store    store.Store
	extract  Extractor
	enricher Enricher
	group    singleflight.Group
	log      zerolog.Logger
}

// NewCache builds a cache. enricher may be nil, in which case every
// fresh mapping comes back with ErrNotEnriched until a reviewed table
// is saved explicitly.
func NewCache(st store.Store, extract Extractor, enricher Enricher, log zerolog.Logger) *Cache {
	return &Cache{
		store:    st,
		extract:  extract,
		enricher: enricher,
		log:      log.With().Str("component", "mapping-cache").Logger(),
	}
}

// GetOrCreate returns the mapping for the document, extracting and
// enriching it on first sight. When enrichment is unavailable or
// fails, the base mapping is returned together with ErrNotEnriched so
// the caller can route the document to manual review.
func (c *Cache) GetOrCreate(ctx context.Context, identity string, doc []byte) (*Entry, error) {
	v, err, _ := c.group.Do(identity, func() (any, error) {
		return c.getOrCreate(ctx, identity, doc)
	})
	if v == nil {
		return nil, err
	}
	return v.(*Entry), err
}

func (c *Cache) getOrCreate(ctx context.Context, identity string, doc []byte) (*Entry, error) {
	if m, err := c.load(identity, blobRich); err == nil {
		return &Entry{Mapping: m, Enriched: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	base, err := c.load(identity, blobBase)
	switch {
	case err == nil:
		// Extraction survived an earlier run; only enrichment is
		// outstanding.
	case errors.Is(err, store.ErrNotFound):
		if base, err = c.extractAndSave(ctx, identity, doc); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if c.enricher == nil {
		return &Entry{Mapping: base}, fmt.Errorf("%w: no labeler configured", ErrNotEnriched)
	}

	pages, err := c.Pages(identity)
	if err != nil {
		return nil, fmt.Errorf("load verification pages: %w", err)
	}
	rich, err := c.enricher.Enrich(ctx, base, pages)
	if err != nil {
		c.log.Warn().Err(err).Str("identity", identity).Msg("enrichment failed")
		return &Entry{Mapping: base}, fmt.Errorf("%w: %v", ErrNotEnriched, err)
	}

	data, err := fields.MarshalCSV(rich)
	if err != nil {
		return nil, fmt.Errorf("serialize enriched mapping: %w", err)
	}
	if err := c.store.Put(store.CollectionMappings, identity, blobRich, data); err != nil {
		return nil, fmt.Errorf("persist enriched mapping: %w", err)
	}
	c.log.Info().Str("identity", identity).Int("fields", len(rich.Fields)).Msg("mapping enriched")
	return &Entry{Mapping: rich, Enriched: true, Fresh: true}, nil
}

func (c *Cache) extractAndSave(ctx context.Context, identity string, doc []byte) (*fields.Mapping, error) {
	if _, err := c.store.CreateIfAbsent(store.CollectionMappings, identity); err != nil {
		return nil, fmt.Errorf("claim mapping entry: %w", err)
	}

	m, v, err := c.extract.Extract(ctx, doc)
	if err != nil {
		return nil, err
	}
	m.Identity = identity

	data, err := fields.MarshalCSV(m)
	if err != nil {
		return nil, fmt.Errorf("serialize mapping: %w", err)
	}
	if err := c.store.Put(store.CollectionMappings, identity, blobBase, data); err != nil {
		return nil, fmt.Errorf("persist mapping: %w", err)
	}
	if err := c.store.Put(store.CollectionMappings, identity, blobAnnotated, v.AnnotatedPDF); err != nil {
		return nil, fmt.Errorf("persist annotated pdf: %w", err)
	}
	for i, page := range v.Pages {
		name := fmt.Sprintf(pageBlobFmt, i+1)
		if err := c.store.Put(store.CollectionMappings, identity, name, page); err != nil {
			return nil, fmt.Errorf("persist %s: %w", name, err)
		}
	}

	c.log.Info().Str("identity", identity).Int("fields", len(m.Fields)).Int("pages", len(v.Pages)).Msg("mapping extracted")
	return m, nil
}

func (c *Cache) load(identity, blob string) (*fields.Mapping, error) {
	data, err := c.store.Get(store.CollectionMappings, identity, blob)
	if err != nil {
		return nil, err
	}
	m, err := fields.UnmarshalCSV(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s for %s: %w", blob, identity, err)
	}
	m.Identity = identity
	return m, nil
}

// Enriched returns the reviewed mapping, or store.ErrNotFound when the
// identity has no reviewed table yet.
func (c *Cache) Enriched(identity string) (*fields.Mapping, error) {
	return c.load(identity, blobRich)
}

// Base returns the extracted mapping regardless of enrichment status.
func (c *Cache) Base(identity string) (*fields.Mapping, error) {
	return c.load(identity, blobBase)
}

// IsEnriched reports whether a reviewed table exists for the identity.
func (c *Cache) IsEnriched(identity string) bool {
	ok, err := c.store.Exists(store.CollectionMappings, identity, blobRich)
	return err == nil && ok
}

// SaveEnriched stores a reviewed mapping table, validating it first.
// Saving over an existing table is allowed; review supersedes review.
func (c *Cache) SaveEnriched(identity string, table []byte) error {
	m, err := fields.UnmarshalCSV(table)
	if err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}
	return c.store.Put(store.CollectionMappings, identity, blobRich, table)
}

// Verification returns the annotated PDF for review.
func (c *Cache) Verification(identity string) ([]byte, error) {
	return c.store.Get(store.CollectionMappings, identity, blobAnnotated)
}

// Pages returns the stamped page images in page order.
func (c *Cache) Pages(identity string) ([][]byte, error) {
	var pages [][]byte
	for i := 1; ; i++ {
		data, err := c.store.Get(store.CollectionMappings, identity, fmt.Sprintf(pageBlobFmt, i))
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		pages = append(pages, data)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no verification pages for %s: %w", identity, store.ErrNotFound)
	}
	return pages, nil
}

// Identities lists every cached mapping.
func (c *Cache) Identities() ([]string, error) {
	return c.store.Keys(store.CollectionMappings)
}

// Evict drops the cached mapping so the next request re-extracts.
func (c *Cache) Evict(identity string) error {
	c.group.Forget(identity)
	return c.store.Delete(store.CollectionMappings, identity)
}
