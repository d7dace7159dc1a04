package store

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

const (
	dirPerm  = 0o750
	filePerm = 0o640

	// claimMarker is the blob written by CreateIfAbsent. Its exclusive
	// creation is what makes the claim atomic.
	claimMarker = ".claimed"
)

// FSStore implements Store on top of an afero filesystem. In
// production this is the OS filesystem rooted at the data directory;
// tests use an in-memory filesystem.
type FSStore struct {
	fs afero.Fs
}

// NewFSStore returns a store rooted at baseDir on the OS filesystem.
func NewFSStore(baseDir string) (*FSStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("store: base directory is required")
	}
	if err := os.MkdirAll(baseDir, dirPerm); err != nil {
		return nil, fmt.Errorf("store: create base directory: %w", err)
	}
	return &FSStore{fs: afero.NewBasePathFs(afero.NewOsFs(), baseDir)}, nil
}

// NewMemStore returns a store backed by an in-memory filesystem.
func NewMemStore() *FSStore {
	return &FSStore{fs: afero.NewMemMapFs()}
}

func (s *FSStore) entryDir(col Collection, key string) string {
	return path.Join(string(col), sanitize(key))
}

// sanitize keeps keys from escaping their collection directory. Keys
// are content digests, UUIDs or job ids, so stripping separators is
// enough.
func sanitize(key string) string {
	key = strings.ReplaceAll(key, "/", "_")
	key = strings.ReplaceAll(key, "\\", "_")
	return strings.TrimPrefix(key, ".")
}

func (s *FSStore) Put(col Collection, key, name string, data []byte) error {
	if err := validateAddr(col, key); err != nil {
		return err
	}
	dir := s.entryDir(col, key)
	if err := s.fs.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("store: mkdir %s: %w", dir, err)
	}
	p := path.Join(dir, sanitize(name))
	if err := afero.WriteFile(s.fs, p, data, filePerm); err != nil {
		return fmt.Errorf("store: write %s: %w", p, err)
	}
	return nil
}

func (s *FSStore) Get(col Collection, key, name string) ([]byte, error) {
	if err := validateAddr(col, key); err != nil {
		return nil, err
	}
	p := path.Join(s.entryDir(col, key), sanitize(name))
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("store: %s/%s/%s: %w", col, key, name, ErrNotFound)
		}
		return nil, fmt.Errorf("store: read %s: %w", p, err)
	}
	return data, nil
}

func (s *FSStore) Exists(col Collection, key, name string) (bool, error) {
	if err := validateAddr(col, key); err != nil {
		return false, err
	}
	p := path.Join(s.entryDir(col, key), sanitize(name))
	ok, err := afero.Exists(s.fs, p)
	if err != nil {
		return false, fmt.Errorf("store: stat %s: %w", p, err)
	}
	return ok, nil
}

func (s *FSStore) CreateIfAbsent(col Collection, key string) (bool, error) {
	if err := validateAddr(col, key); err != nil {
		return false, err
	}
	dir := s.entryDir(col, key)
	if err := s.fs.MkdirAll(dir, dirPerm); err != nil {
		return false, fmt.Errorf("store: mkdir %s: %w", dir, err)
	}
	f, err := s.fs.OpenFile(path.Join(dir, claimMarker), os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("store: claim %s/%s: %w", col, key, err)
	}
	return true, f.Close()
}

func (s *FSStore) Delete(col Collection, key string) error {
	if err := validateAddr(col, key); err != nil {
		return err
	}
	if err := s.fs.RemoveAll(s.entryDir(col, key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: delete %s/%s: %w", col, key, err)
	}
	return nil
}

func (s *FSStore) Keys(col Collection) ([]string, error) {
	if err := validateAddr(col, "-"); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(s.fs, string(col))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: list %s: %w", col, err)
	}
	keys := make([]string, 0, len(infos))
	for _, fi := range infos {
		if fi.IsDir() {
			keys = append(keys, fi.Name())
		}
	}
	sort.Strings(keys)
	return keys, nil
}

var _ Store = (*FSStore)(nil)
