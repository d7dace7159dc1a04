package server

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/acroflow/acroflow/internal/store"
)

const (
	libraryBlobPDF  = "input.pdf"
	libraryBlobMeta = "meta.json"
)

// LibraryEntry describes one stored form, keyed by its document
// identity so re-uploads dedupe naturally.
type LibraryEntry struct {
	PDFID      string    `json:"pdf_id"`
	Filename   string    `json:"filename,omitempty"`
	Size       int       `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Library keeps uploaded forms for reuse by identity.
type Library struct {
	blobs store.Store
	log   zerolog.Logger
}

func NewLibrary(blobs store.Store, log zerolog.Logger) *Library {
	return &Library{
		blobs: blobs,
		log:   log.With().Str("component", "library").Logger(),
	}
}

// Add stores a form under its identity. Re-adding the same document
// refreshes the metadata and is harmless.
func (l *Library) Add(pdfID, filename string, doc []byte) error {
	if err := l.blobs.Put(store.CollectionLibrary, pdfID, libraryBlobPDF, doc); err != nil {
		return fmt.Errorf("store form: %w", err)
	}
	meta := LibraryEntry{
		PDFID:      pdfID,
		Filename:   filename,
		Size:       len(doc),
		UploadedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal form meta: %w", err)
	}
	return l.blobs.Put(store.CollectionLibrary, pdfID, libraryBlobMeta, data)
}

// Document returns the stored form bytes.
func (l *Library) Document(pdfID string) ([]byte, error) {
	return l.blobs.Get(store.CollectionLibrary, pdfID, libraryBlobPDF)
}

// Get returns one entry's metadata.
func (l *Library) Get(pdfID string) (*LibraryEntry, error) {
	data, err := l.blobs.Get(store.CollectionLibrary, pdfID, libraryBlobMeta)
	if err != nil {
		return nil, err
	}
	var entry LibraryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parse form meta %s: %w", pdfID, err)
	}
	return &entry, nil
}

// List returns all entries, newest first.
func (l *Library) List() ([]LibraryEntry, error) {
	ids, err := l.blobs.Keys(store.CollectionLibrary)
	if err != nil {
		return nil, err
	}
	out := make([]LibraryEntry, 0, len(ids))
	for _, id := range ids {
		entry, err := l.Get(id)
		if err != nil {
			l.log.Warn().Err(err).Str("pdf_id", id).Msg("skipping unreadable library entry")
			continue
		}
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

// Delete removes a stored form.
func (l *Library) Delete(pdfID string) error {
	return l.blobs.Delete(store.CollectionLibrary, pdfID)
}
