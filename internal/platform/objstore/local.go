package objstore

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sullysaurus/venues/internal/pkg/errkind"
)

// LocalStore keeps artifacts on disk under a root directory, mirroring the
// bucket key layout. It serves both pure-local deployments and the fallback
// path behind GCS.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	if strings.TrimSpace(root) == "" {
		root = "data/artifacts"
	}
	return &LocalStore{root: root}
}

func (s *LocalStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	const op = "objstore.local.put"
	if err := ctx.Err(); err != nil {
		return "", errkind.Wrap(errkind.Cancelled, op, err)
	}
	path, err := s.resolve(key)
	if err != nil {
		return "", errkind.Wrap(errkind.InvalidInput, op, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errkind.Wrap(errkind.Transient, op, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", errkind.Wrap(errkind.Transient, op, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", errkind.Wrap(errkind.Transient, op, err)
	}
	return path, nil
}

func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	const op = "objstore.local.get"
	if err := ctx.Err(); err != nil {
		return nil, errkind.Wrap(errkind.Cancelled, op, err)
	}
	path, err := s.resolve(key)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidInput, op, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errkind.Wrap(errkind.NotFound, op, err)
		}
		return nil, errkind.Wrap(errkind.Transient, op, err)
	}
	return data, nil
}

func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	const op = "objstore.local.list"
	if err := ctx.Err(); err != nil {
		return nil, errkind.Wrap(errkind.Cancelled, op, err)
	}
	out := []string{}
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return relErr
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
		return nil
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, op, err)
	}
	sort.Strings(out)
	return out, nil
}

// resolve maps a key to a path under root, rejecting traversal outside it.
func (s *LocalStore) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimLeft(key, "/")))
	if clean == "." || strings.HasPrefix(clean, "..") {
		return "", errkind.New(errkind.InvalidInput, "objstore.local.resolve", "invalid artifact key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}
