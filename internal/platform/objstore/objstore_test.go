package objstore

import (
	"context"
	"errors"
	"testing"

	"github.com/sullysaurus/venues/internal/pkg/errkind"
	"github.com/sullysaurus/venues/internal/platform/logger"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	key := DepthKey("venue-1", "100_Front_1")
	path, err := store.Put(ctx, key, []byte("depth-bytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if path == "" {
		t.Fatal("Put returned empty path")
	}

	data, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "depth-bytes" {
		t.Fatalf("Get returned %q, want %q", data, "depth-bytes")
	}
}

func TestLocalStoreGetMissingIsNotFound(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	_, err := store.Get(context.Background(), ModelKey("venue-1"))
	if !errkind.IsNotFound(err) {
		t.Fatalf("expected NotFound kind, got %v (kind %s)", err, errkind.KindOf(err))
	}
}

func TestLocalStoreListFiltersByPrefix(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	keys := []string{
		DepthKey("venue-1", "100_Back_1"),
		DepthKey("venue-1", "100_Front_1"),
		FinalKey("venue-1", "100_Front_1"),
		DepthKey("venue-2", "200_Front_1"),
	}
	for _, k := range keys {
		if _, err := store.Put(ctx, k, []byte("x")); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}

	got, err := store.List(ctx, DepthPrefix("venue-1"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{
		"venue-1/depth_maps/100_Back_1_depth.png",
		"venue-1/depth_maps/100_Front_1_depth.png",
	}
	if len(got) != len(want) {
		t.Fatalf("List returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("List[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLocalStoreListEmptyRoot(t *testing.T) {
	store := NewLocalStore(t.TempDir() + "/never-created")
	got, err := store.List(context.Background(), "venue-1/")
	if err != nil {
		t.Fatalf("List on missing root: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("List on missing root = %v, want empty", got)
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	_, err := store.Put(context.Background(), "../escape.txt", []byte("x"))
	if !errkind.Is(err, errkind.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

type failingStore struct {
	err error
}

func (f *failingStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	return "", f.err
}

func (f *failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, f.err
}

func (f *failingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return nil, f.err
}

func TestFallbackStorePutFallsBackOnPrimaryFailure(t *testing.T) {
	primary := &failingStore{err: errkind.New(errkind.Transient, "test", "bucket down")}
	local := NewLocalStore(t.TempDir())
	store := NewFallbackStore(primary, local, logger.NewNop())
	ctx := context.Background()

	key := SeatsKey("venue-1")
	if _, err := store.Put(ctx, key, []byte("[]")); err != nil {
		t.Fatalf("Put via fallback: %v", err)
	}
	data, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get via fallback: %v", err)
	}
	if string(data) != "[]" {
		t.Fatalf("Get = %q, want []", data)
	}
}

func TestFallbackStorePutDoesNotSwallowCancellation(t *testing.T) {
	primary := &failingStore{err: errkind.Wrap(errkind.Cancelled, "test", context.Canceled)}
	store := NewFallbackStore(primary, NewLocalStore(t.TempDir()), logger.NewNop())

	_, err := store.Put(context.Background(), SeatsKey("venue-1"), []byte("[]"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to propagate, got %v", err)
	}
}

func TestFallbackStoreListMergesBothSides(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	primary, fallback := NewLocalStore(dirA), NewLocalStore(dirB)
	store := NewFallbackStore(primary, fallback, logger.NewNop())
	ctx := context.Background()

	if _, err := primary.Put(ctx, DepthKey("v", "s1"), []byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := fallback.Put(ctx, DepthKey("v", "s2"), []byte("b")); err != nil {
		t.Fatal(err)
	}
	if _, err := fallback.Put(ctx, DepthKey("v", "s1"), []byte("a")); err != nil {
		t.Fatal(err)
	}

	got, err := store.List(ctx, DepthPrefix("v"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{
		"v/depth_maps/s1_depth.png",
		"v/depth_maps/s2_depth.png",
	}
	if len(got) != len(want) {
		t.Fatalf("List = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("List[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSeatIDFromKeys(t *testing.T) {
	if id, ok := SeatIDFromDepthKey("venue-1/depth_maps/100_Front_1_depth.png"); !ok || id != "100_Front_1" {
		t.Fatalf("SeatIDFromDepthKey = %q, %v", id, ok)
	}
	if id, ok := SeatIDFromFinalKey("venue-1/final_images/100_Front_1_final.jpg"); !ok || id != "100_Front_1" {
		t.Fatalf("SeatIDFromFinalKey = %q, %v", id, ok)
	}
	if _, ok := SeatIDFromDepthKey("venue-1/final_images/100_Front_1_final.jpg"); ok {
		t.Fatal("SeatIDFromDepthKey accepted a final image key")
	}
	if _, ok := SeatIDFromDepthKey("venue-1/depth_maps/_depth.png"); ok {
		t.Fatal("SeatIDFromDepthKey accepted an empty seat id")
	}
}

func TestResolveConfigFromEnvCompatibilityFallbacks(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "")
	t.Setenv("VENUE_GCS_BUCKET_NAME", "")
	t.Setenv("STORAGE_EMULATOR_HOST", "")
	t.Setenv("ARTIFACT_LOCAL_DIR", "")

	cfg, err := ResolveConfigFromEnv()
	if err != nil {
		t.Fatalf("ResolveConfigFromEnv: %v", err)
	}
	if cfg.Mode != ModeLocal || !cfg.CompatibilityFallback {
		t.Fatalf("bare env resolved to %+v, want local compatibility fallback", cfg)
	}

	t.Setenv("VENUE_GCS_BUCKET_NAME", "venue-artifacts")
	cfg, err = ResolveConfigFromEnv()
	if err != nil {
		t.Fatalf("ResolveConfigFromEnv with bucket: %v", err)
	}
	if cfg.Mode != ModeGCS {
		t.Fatalf("bucket-only env resolved to %q, want gcs", cfg.Mode)
	}

	t.Setenv("STORAGE_EMULATOR_HOST", "http://fake-gcs:4443")
	cfg, err = ResolveConfigFromEnv()
	if err != nil {
		t.Fatalf("ResolveConfigFromEnv with emulator host: %v", err)
	}
	if cfg.Mode != ModeGCSEmulator {
		t.Fatalf("emulator env resolved to %q, want gcs_emulator", cfg.Mode)
	}
}

func TestResolveConfigFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "s3")
	if _, err := ResolveConfigFromEnv(); err == nil {
		t.Fatal("expected error for unsupported mode")
	}

	t.Setenv("OBJECT_STORAGE_MODE", "gcs")
	t.Setenv("VENUE_GCS_BUCKET_NAME", "")
	if _, err := ResolveConfigFromEnv(); err == nil {
		t.Fatal("expected error for gcs mode without bucket")
	}

	t.Setenv("OBJECT_STORAGE_MODE", "gcs_emulator")
	t.Setenv("VENUE_GCS_BUCKET_NAME", "venue-artifacts")
	t.Setenv("STORAGE_EMULATOR_HOST", "not a url")
	if _, err := ResolveConfigFromEnv(); err == nil {
		t.Fatal("expected error for invalid emulator host")
	}
}
