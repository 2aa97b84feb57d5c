package stage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"worldsmith/internal/manifest"
	"worldsmith/internal/services"
	"worldsmith/internal/storage"
)

func TestLoadManifest_Valid(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore("worldsmith-test", "worlds")

	body := `{"theme":"foggy-harbor","prompt":"a foggy harbor","panorama":"panorama.png"}`
	if _, err := store.Put(ctx, "foggy-harbor", storage.StagePanorama, manifest.PanoramaName, strings.NewReader(body), int64(len(body))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	m, err := LoadManifest(ctx, store, "foggy-harbor", storage.StagePanorama, manifest.PanoramaName)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Theme != "foggy-harbor" || m.Panorama != "panorama.png" {
		t.Fatalf("unexpected manifest: %+v", m)
	}
}

func TestLoadManifest_Missing(t *testing.T) {
	store := storage.NewMemoryStore("worldsmith-test", "worlds")
	_, err := LoadManifest(context.Background(), store, "foggy-harbor", storage.StagePanorama, manifest.PanoramaName)
	if !errors.Is(err, services.ErrMissingInput) {
		t.Fatalf("expected missing-input error, got %v", err)
	}
}

func TestLoadManifest_Garbage(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore("worldsmith-test", "worlds")
	if _, err := store.Put(ctx, "foggy-harbor", storage.StagePanorama, manifest.PanoramaName, strings.NewReader("{nope"), 5); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	_, err := LoadManifest(ctx, store, "foggy-harbor", storage.StagePanorama, manifest.PanoramaName)
	if !errors.Is(err, services.ErrMissingInput) {
		t.Fatalf("expected missing-input error for garbage manifest, got %v", err)
	}
}
