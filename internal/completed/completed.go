// Package completed archives finished fill outputs so they outlive
// their jobs and can be browsed later.
package completed

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/acroflow/acroflow/internal/store"
)

// Blob names inside an archive entry.
const (
	BlobMeta      = "meta.json"
	BlobEditable  = "filled.pdf"
	BlobFlattened = "flattened.pdf"
	BlobPlan      = "fill_plan.json"
)

// Meta describes one archive entry.
type Meta struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	PDFID     string    `json:"pdf_id"`
	Filename  string    `json:"filename,omitempty"`
	Applied   int       `json:"applied"`
	Skipped   int       `json:"skipped"`
	Flattened bool      `json:"flattened"`
	CreatedAt time.Time `json:"created_at"`
}

// Outputs are the artifacts of a finished fill.
type Outputs struct {
	Editable  []byte
	Flattened []byte
	Plan      []byte
}

// Archive stores finished outputs on the blob store.
type Archive struct {
	blobs store.Store
	log   zerolog.Logger
}

func NewArchive(blobs store.Store, log zerolog.Logger) *Archive {
	return &Archive{
		blobs: blobs,
		log:   log.With().Str("component", "archive").Logger(),
	}
}

// Save writes an entry. The metadata lands last so a listed entry
// always has its artifacts in place.
func (a *Archive) Save(meta Meta, out Outputs) error {
	if meta.ID == "" {
		return fmt.Errorf("archive entry needs an id")
	}
	if len(out.Editable) == 0 {
		return fmt.Errorf("archive entry %s has no filled document", meta.ID)
	}
	meta.CreatedAt = time.Now().UTC()
	meta.Flattened = len(out.Flattened) > 0

	if err := a.blobs.Put(store.CollectionCompleted, meta.ID, BlobEditable, out.Editable); err != nil {
		return fmt.Errorf("archive filled pdf: %w", err)
	}
	if meta.Flattened {
		if err := a.blobs.Put(store.CollectionCompleted, meta.ID, BlobFlattened, out.Flattened); err != nil {
			return fmt.Errorf("archive flattened pdf: %w", err)
		}
	}
	if len(out.Plan) > 0 {
		if err := a.blobs.Put(store.CollectionCompleted, meta.ID, BlobPlan, out.Plan); err != nil {
			return fmt.Errorf("archive fill plan: %w", err)
		}
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal archive meta: %w", err)
	}
	if err := a.blobs.Put(store.CollectionCompleted, meta.ID, BlobMeta, data); err != nil {
		return fmt.Errorf("archive meta: %w", err)
	}

	a.log.Info().Str("id", meta.ID).Str("job", meta.JobID).Int("applied", meta.Applied).Msg("outputs archived")
	return nil
}

// List returns all entries, newest first. Entries whose metadata never
// landed are half-written and stay invisible.
func (a *Archive) List() ([]Meta, error) {
	ids, err := a.blobs.Keys(store.CollectionCompleted)
	if err != nil {
		return nil, err
	}
	out := make([]Meta, 0, len(ids))
	for _, id := range ids {
		meta, err := a.Get(id)
		if err != nil {
			continue
		}
		out = append(out, *meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Get loads one entry's metadata.
func (a *Archive) Get(id string) (*Meta, error) {
	data, err := a.blobs.Get(store.CollectionCompleted, id, BlobMeta)
	if err != nil {
		return nil, err
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse archive meta %s: %w", id, err)
	}
	return &meta, nil
}

// Blob returns one artifact of an entry.
func (a *Archive) Blob(id, name string) ([]byte, error) {
	switch name {
	case BlobEditable, BlobFlattened, BlobPlan, BlobMeta:
	default:
		return nil, fmt.Errorf("unknown archive blob %q", name)
	}
	return a.blobs.Get(store.CollectionCompleted, id, name)
}

// Delete removes an entry and all its artifacts.
func (a *Archive) Delete(id string) error {
	return a.blobs.Delete(store.CollectionCompleted, id)
}
