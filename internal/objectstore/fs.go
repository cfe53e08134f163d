package objectstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FSStore implements Store on the local filesystem. Intended for development
// and tests; objects live at <root>/<taskID>/<key>.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem-backed store rooted at root.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create object store root: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Put stores data under the task's namespace.
func (s *FSStore) Put(ctx context.Context, taskID, key string, data []byte, contentType string) error {
	path := filepath.Join(s.root, taskID, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("fs put %s: %w", key, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("fs put %s: %w", key, err)
	}
	return nil
}

// Get retrieves an object. Returns ErrNotFound when absent.
func (s *FSStore) Get(ctx context.Context, taskID, key string) ([]byte, error) {
	path := filepath.Join(s.root, taskID, filepath.FromSlash(key))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fs get %s: %w", key, err)
	}
	return data, nil
}

// List returns the keys under the task's namespace matching prefix.
func (s *FSStore) List(ctx context.Context, taskID, prefix string) ([]string, error) {
	base := filepath.Join(s.root, taskID)
	var keys []string

	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fs list %s: %w", taskID, err)
	}

	sort.Strings(keys)
	return keys, nil
}
