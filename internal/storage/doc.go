// Package storage maps logical (theme, stage, artifact) tuples to durable
// object-store locations. Keys are deterministic, so re-running a stage under
// the same theme overwrites its previous artifacts instead of duplicating
// them. A MinIO-backed implementation serves production; an in-memory
// implementation serves tests.
package storage
