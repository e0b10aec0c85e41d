package objstore

import (
	"context"

	"github.com/sullysaurus/venues/internal/pkg/errkind"
	"github.com/sullysaurus/venues/internal/platform/logger"
)

// Store is the artifact store contract the pipeline runs against. Keys are
// slash-separated paths under the venue prefix (see keys.go). Get returns an
// errkind.NotFound error for absent keys.
type Store interface {
	// Put writes data at key and returns a stable reference for the
	// artifact (a public URL for GCS, a file path for local disk).
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns the full keys under prefix, sorted ascending.
	List(ctx context.Context, prefix string) ([]string, error)
}

// NewFromEnv builds the store stack for the resolved config. GCS modes are
// wrapped in a local-disk fallback so a flaky bucket degrades instead of
// failing runs.
func NewFromEnv(ctx context.Context, log *logger.Logger) (Store, Config, error) {
	cfg, err := ResolveConfigFromEnv()
	if err != nil {
		return nil, cfg, err
	}
	local := NewLocalStore(cfg.LocalDir)
	if cfg.Mode == ModeLocal {
		log.Info("artifact store ready", "mode", cfg.Mode, "dir", cfg.LocalDir, "mode_source", cfg.ModeSource())
		return local, cfg, nil
	}
	gcs, err := NewGCSStore(ctx, cfg)
	if err != nil {
		return nil, cfg, err
	}
	log.Info("artifact store ready",
		"mode", cfg.Mode,
		"bucket", cfg.Bucket,
		"fallback_dir", cfg.LocalDir,
		"mode_source", cfg.ModeSource(),
	)
	return NewFallbackStore(gcs, local, log), cfg, nil
}

// FallbackStore fronts a primary store with a local fallback. Writes that
// fail on the primary land on the fallback; reads and listings consult both
// so a run that degraded mid-way still resumes with a complete view.
type FallbackStore struct {
	primary  Store
	fallback Store
	log      *logger.Logger
}

func NewFallbackStore(primary, fallback Store, log *logger.Logger) *FallbackStore {
	if log == nil {
		log = logger.NewNop()
	}
	return &FallbackStore{primary: primary, fallback: fallback, log: log}
}

func (s *FallbackStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	path, err := s.primary.Put(ctx, key, data)
	if err == nil {
		return path, nil
	}
	if errkind.KindOf(err) == errkind.Cancelled {
		return "", err
	}
	s.log.Warn("primary artifact store put failed, using fallback", "key", key, "error", err)
	return s.fallback.Put(ctx, key, data)
}

func (s *FallbackStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.primary.Get(ctx, key)
	if err == nil {
		return data, nil
	}
	if errkind.KindOf(err) == errkind.Cancelled {
		return nil, err
	}
	return s.fallback.Get(ctx, key)
}

func (s *FallbackStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys, primaryErr := s.primary.List(ctx, prefix)
	if primaryErr != nil {
		if errkind.KindOf(primaryErr) == errkind.Cancelled {
			return nil, primaryErr
		}
		s.log.Warn("primary artifact store list failed, using fallback only", "prefix", prefix, "error", primaryErr)
		keys = nil
	}
	fbKeys, err := s.fallback.List(ctx, prefix)
	if err != nil {
		if primaryErr != nil {
			return nil, err
		}
		return keys, nil
	}
	return mergeSorted(keys, fbKeys), nil
}

func mergeSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
