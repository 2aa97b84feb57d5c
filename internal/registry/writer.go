package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"worldsmith/internal/logging"
	"worldsmith/internal/services"
	"worldsmith/internal/storage"
)

// Writer validates a completed artifact set and records it in the catalog.
type Writer struct {
	store  *Store
	logger *slog.Logger
}

// NewWriter constructs a Writer.
func NewWriter(store *Store, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Writer{store: store, logger: logger}
}

// Register validates the artifact set for a theme and inserts a catalog
// record with a fresh UUID. The set must contain exactly one panorama image
// and three or four mesh layers; manifests and auxiliary formats are ignored.
// Validation failures carry the invalid-artifact-set marker and nothing is
// written.
func (w *Writer) Register(ctx context.Context, theme string, artifacts []storage.ObjectInfo) (Record, error) {
	if strings.TrimSpace(theme) == "" {
		return Record{}, services.Wrap(services.ErrInvalidArtifactSet, "registry", "register", "theme empty", nil)
	}

	var images, meshes []storage.ObjectInfo
	for _, artifact := range artifacts {
		switch strings.ToLower(path.Ext(artifact.Name)) {
		case ".png":
			images = append(images, artifact)
		case ".ply":
			meshes = append(meshes, artifact)
		}
	}

	if len(images) != 1 {
		return Record{}, services.Wrap(services.ErrInvalidArtifactSet, "registry", "register",
			fmt.Sprintf("theme %s has %d panorama images, want exactly 1", theme, len(images)), nil)
	}
	if len(meshes) < MeshCountMin || len(meshes) > MeshCountMax {
		return Record{}, services.Wrap(services.ErrInvalidArtifactSet, "registry", "register",
			fmt.Sprintf("theme %s has %d mesh layers, want %d to %d", theme, len(meshes), MeshCountMin, MeshCountMax), nil)
	}

	sort.Slice(meshes, func(i, j int) bool { return meshes[i].Name < meshes[j].Name })
	plyURIs := make([]storage.Locator, len(meshes))
	for i, mesh := range meshes {
		plyURIs[i] = mesh.Locator
	}

	rec := Record{
		ID:        uuid.NewString(),
		Theme:     theme,
		PNGURI:    images[0].Locator,
		PLYURIs:   plyURIs,
		CreatedAt: time.Now().UTC(),
	}
	if err := w.store.Put(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("register world: %w", err)
	}

	w.logger.Info("world registered",
		logging.String(logging.FieldTheme, theme),
		logging.String("world_id", rec.ID),
		logging.Int("mesh_count", len(plyURIs)),
		logging.String(logging.FieldEventType, "world_registered"),
	)
	return rec, nil
}
