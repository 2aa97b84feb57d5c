package registry

import (
	"time"

	"worldsmith/internal/storage"
)

// MeshCountMin and MeshCountMax bound how many mesh layers a registered
// world carries. The composition stage emits one mesh per scene layer:
// background, sky, and one or two foreground layers.
const (
	MeshCountMin = 3
	MeshCountMax = 4
)

// Record is one registered world.
type Record struct {
	// ID is a fresh UUID assigned at registration, distinct from the run id.
	ID string
	// Theme is the kebab-case scene name the artifacts are keyed by.
	Theme string
	// PNGURI points at the panorama image.
	PNGURI storage.Locator
	// PLYURIs point at the mesh layers, MeshCountMin to MeshCountMax of them.
	PLYURIs []storage.Locator
	// CreatedAt is the registration time in UTC.
	CreatedAt time.Time
}

// World is the presigned, client-facing view of a record.
type World struct {
	ID        string    `json:"id"`
	Theme     string    `json:"theme"`
	ImageURL  string    `json:"imageUrl"`
	MeshURLs  []string  `json:"meshUrls"`
	CreatedAt time.Time `json:"createdAt"`
}
