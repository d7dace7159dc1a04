// Package store provides the blob persistence layer used by the fill
// pipeline. Data lives in three logical collections (field mappings,
// jobs and completed artifacts, plus the uploaded-form library) behind
// a small key-value interface so the backing medium stays swappable.
package store

import (
	"errors"
	"fmt"
)

// Collection names one logical bucket of blobs.
type Collection string

const (
	CollectionMappings  Collection = "mappings"
	CollectionJobs      Collection = "jobs"
	CollectionCompleted Collection = "completed"
	CollectionLibrary   Collection = "library"
)

var (
	// ErrNotFound is returned when a key or blob does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrExists is returned by CreateIfAbsent when the key is already claimed.
	ErrExists = errors.New("store: already exists")
)

// Store is a blob store with two-level addressing: every entry is a
// (collection, key) pair holding one or more named blobs.
type Store interface {
	// Put writes a named blob under (col, key), replacing any previous content.
	Put(col Collection, key, name string, data []byte) error

	// Get reads a named blob. Returns ErrNotFound if it does not exist.
	Get(col Collection, key, name string) ([]byte, error)

	// Exists reports whether a named blob exists.
	Exists(col Collection, key, name string) (bool, error)

	// CreateIfAbsent atomically claims (col, key). It returns true when
	// this call created the entry, false when it already existed. Only
	// one concurrent caller can observe true for a given key.
	CreateIfAbsent(col Collection, key string) (bool, error)

	// Delete removes an entire entry and all its blobs. Deleting a
	// missing entry is not an error.
	Delete(col Collection, key string) error

	// Keys lists the entry keys of a collection in lexical order.
	Keys(col Collection) ([]string, error)
}

func validateAddr(col Collection, key string) error {
	switch col {
	case CollectionMappings, CollectionJobs, CollectionCompleted, CollectionLibrary:
	default:
		return fmt.Errorf("store: unknown collection %q", col)
	}
	if key == "" {
		return errors.New("store: empty key")
	}
	return nil
}
