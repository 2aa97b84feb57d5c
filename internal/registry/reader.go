package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"worldsmith/internal/logging"
	"worldsmith/internal/storage"
)

// Presigner produces time-limited download URLs for stored artifacts.
type Presigner interface {
	PresignGet(ctx context.Context, loc storage.Locator, expiry time.Duration) (string, error)
}

// Reader serves the catalog with presigned download URLs.
type Reader struct {
	store     *Store
	presigner Presigner
	expiry    time.Duration
	logger    *slog.Logger
}

// NewReader constructs a Reader. A non-positive expiry falls back to ten
// minutes.
func NewReader(store *Store, presigner Presigner, expiry time.Duration, logger *slog.Logger) *Reader {
	if expiry <= 0 {
		expiry = 10 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reader{store: store, presigner: presigner, expiry: expiry, logger: logger}
}

// ListWorlds returns every registered world with presigned URLs. A pointer
// that cannot be presigned degrades to an empty URL for that field instead of
// failing the whole listing, so one bad record never hides the catalog.
func (r *Reader) ListWorlds(ctx context.Context) ([]World, error) {
	records, err := r.store.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list worlds: %w", err)
	}

	worlds := make([]World, 0, len(records))
	for _, rec := range records {
		world := World{
			ID:        rec.ID,
			Theme:     rec.Theme,
			ImageURL:  r.presign(ctx, rec, rec.PNGURI),
			MeshURLs:  make([]string, 0, len(rec.PLYURIs)),
			CreatedAt: rec.CreatedAt,
		}
		for _, uri := range rec.PLYURIs {
			world.MeshURLs = append(world.MeshURLs, r.presign(ctx, rec, uri))
		}
		worlds = append(worlds, world)
	}
	return worlds, nil
}

func (r *Reader) presign(ctx context.Context, rec Record, loc storage.Locator) string {
	url, err := r.presigner.PresignGet(ctx, loc, r.expiry)
	if err != nil {
		r.logger.Warn("presign failed for registered artifact",
			logging.String(logging.FieldTheme, rec.Theme),
			logging.String("world_id", rec.ID),
			logging.String("locator", loc.String()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check storage credentials and locator scheme"),
		)
		return ""
	}
	return url
}
