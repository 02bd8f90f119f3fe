package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"icetable/pkg/icerrors"
)

// LocalStore implements Store on the local filesystem, rooted at Dir. It
// exists for tests and the demo programs; it follows the same
// write-whole-file-then-rename convention the teacher's
// internal/sinks/local_file_sink.go uses to avoid partial writes being
// observed by a concurrent reader.
type LocalStore struct {
	Dir string
}

func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{Dir: dir}
}

func (l *LocalStore) path(key string) string {
	return filepath.Join(l.Dir, filepath.FromSlash(key))
}

func (l *LocalStore) Put(ctx context.Context, key string, data []byte) error {
	p := l.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return icerrors.ObjectStoreError("localstore", "put", key, err)
	}
	tmp := p + ".tmp-" + filepath.Base(p)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return icerrors.ObjectStoreError("localstore", "put", key, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return icerrors.ObjectStoreError("localstore", "put", key, err)
	}
	return nil
}

func (l *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(l.path(key))
	if err != nil {
		return nil, icerrors.ObjectStoreError("localstore", "get", key, err)
	}
	return data, nil
}

func (l *LocalStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(l.path(key)); err != nil && !os.IsNotExist(err) {
		return icerrors.ObjectStoreError("localstore", "delete", key, err)
	}
	return nil
}

// List returns every key under prefix in one page; LocalStore never
// truncates since it's only used for tests and small demos.
func (l *LocalStore) List(ctx context.Context, prefix, continuationToken string) (ListPage, error) {
	root := l.path(prefix)
	var keys []string
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.Contains(p, ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(l.Dir, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return ListPage{}, icerrors.ObjectStoreError("localstore", "list", prefix, err)
	}
	sort.Strings(keys)
	return ListPage{Keys: keys}, nil
}
