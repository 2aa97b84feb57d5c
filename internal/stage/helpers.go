package stage

import (
	"context"

	"worldsmith/internal/manifest"
	"worldsmith/internal/services"
	"worldsmith/internal/storage"
)

// LoadManifest fetches and decodes a stage manifest from object storage.
// A missing or undecodable manifest means the upstream stage never finished
// publishing, so failures carry the missing-input marker suitable for stage
// Execute methods.
func LoadManifest(ctx context.Context, store storage.Store, theme string, st storage.Stage, name string) (manifest.Manifest, error) {
	rc, err := store.Get(ctx, theme, st, name)
	if err != nil {
		return manifest.Manifest{}, services.Wrap(
			services.ErrMissingInput, "stage", "load manifest",
			"Manifest "+name+" missing for theme "+theme+"; rerun the upstream stage", err)
	}
	defer rc.Close()

	m, err := manifest.Decode(rc)
	if err != nil {
		return manifest.Manifest{}, services.Wrap(
			services.ErrMissingInput, "stage", "load manifest",
			"Manifest "+name+" unreadable for theme "+theme+"; rerun the upstream stage", err)
	}
	return m, nil
}
