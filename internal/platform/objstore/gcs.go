package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/sullysaurus/venues/internal/pkg/errkind"
)

// GCSStore keeps every pipeline artifact in a single venue bucket. Keys are
// the canonical layout from keys.go; Put returns a public URL so run results
// can be handed to clients directly.
type GCSStore struct {
	client        *storage.Client
	bucket        string
	mode          Mode
	emulatorHost  string
	publicBaseURL string
}

func NewGCSStore(ctx context.Context, cfg Config) (*GCSStore, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	client, err := newStorageClientForMode(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	base, err := resolvePublicBaseURL(cfg)
	if err != nil {
		return nil, err
	}
	return &GCSStore{
		client:        client,
		bucket:        cfg.Bucket,
		mode:          cfg.Mode,
		emulatorHost:  strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/"),
		publicBaseURL: base,
	}, nil
}

func newStorageClientForMode(ctx context.Context, cfg Config) (*storage.Client, error) {
	switch cfg.Mode {
	case ModeGCS:
		opts := clientOptionsFromEnv()
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		return storage.NewClient(ctx, opts...)
	case ModeGCSEmulator:
		endpoint := strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/")
		_ = os.Setenv("STORAGE_EMULATOR_HOST", endpoint)
		opts := []option.ClientOption{
			option.WithoutAuthentication(),
		}
		return storage.NewClient(ctx, opts...)
	default:
		return nil, &ConfigError{Code: ConfigErrorInvalidMode, Mode: string(cfg.Mode)}
	}
}

func clientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

func resolvePublicBaseURL(cfg Config) (string, error) {
	raw := strings.TrimSpace(os.Getenv("OBJECT_STORAGE_PUBLIC_BASE_URL"))
	if raw != "" {
		parsed, err := url.Parse(raw)
		if err != nil || strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
			return "", fmt.Errorf(
				"invalid OBJECT_STORAGE_PUBLIC_BASE_URL=%q; expected absolute URL like http://localhost:4443",
				raw,
			)
		}
		return strings.TrimRight(raw, "/"), nil
	}
	if cfg.IsEmulatorMode() {
		return strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/"), nil
	}
	return "", nil
}

func (s *GCSStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	const op = "objstore.gcs.put"
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if ct := contentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", classifyGCSError(op, err)
	}
	if err := w.Close(); err != nil {
		return "", classifyGCSError(op, err)
	}
	return s.publicURL(key), nil
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	const op = "objstore.gcs.get"
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, classifyGCSError(op, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, classifyGCSError(op, err)
	}
	return data, nil
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	const op = "objstore.gcs.list"
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, classifyGCSError(op, err)
		}
		out = append(out, attrs.Name)
	}
	sort.Strings(out)
	return out, nil
}

func (s *GCSStore) publicURL(key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if s.mode == ModeGCSEmulator {
		base := s.publicBaseURL
		if base == "" {
			base = s.emulatorHost
		}
		if base != "" {
			return fmt.Sprintf(
				"%s/storage/v1/b/%s/o/%s?alt=media",
				base,
				url.PathEscape(s.bucket),
				url.PathEscape(key),
			)
		}
	}
	if s.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, s.bucket, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key)
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	case strings.HasSuffix(s, ".blend"):
		return "application/octet-stream"
	default:
		return ""
	}
}

func classifyGCSError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, storage.ErrObjectNotExist), errors.Is(err, storage.ErrBucketNotExist):
		return errkind.Wrap(errkind.NotFound, op, err)
	case errors.Is(err, context.Canceled):
		return errkind.Wrap(errkind.Cancelled, op, err)
	default:
		return errkind.Wrap(errkind.Transient, op, err)
	}
}
