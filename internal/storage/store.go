package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Stage names the artifact namespace a pipeline stage owns. Each stage reads
// its inputs from one namespace and publishes outputs to exactly one other,
// so stale artifacts from a previous run can never leak across stages.
type Stage string

const (
	// StagePanorama holds panorama.png and panorama.json.
	StagePanorama Stage = "pano"
	// StageLayers holds the layer decomposition plus a fresh copy of the
	// panorama, giving the composition stage a single prefix to pull.
	StageLayers Stage = "layers"
	// StageWorld holds the final mesh set and world.json.
	StageWorld Stage = "world"
)

// Subpath returns the key segment for the stage namespace.
func (s Stage) Subpath() string {
	return string(s)
}

// Locator is a fully qualified object pointer in s3://bucket/key form.
type Locator string

// NewLocator builds a locator from a bucket and key.
func NewLocator(bucket, key string) Locator {
	return Locator("s3://" + bucket + "/" + key)
}

// Parse splits the locator into bucket and key. Pointers that do not carry
// the s3 scheme are rejected so callers can degrade per field instead of
// failing a whole listing.
func (l Locator) Parse() (bucket, key string, err error) {
	raw := string(l)
	rest, ok := strings.CutPrefix(raw, "s3://")
	if !ok {
		return "", "", fmt.Errorf("locator %q lacks s3 scheme", raw)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("locator %q lacks bucket or key", raw)
	}
	return bucket, key, nil
}

func (l Locator) String() string {
	return string(l)
}

// ObjectKey builds the deterministic key for an artifact:
// {rootPrefix}/{theme}/{stage}/{name}. An empty rootPrefix is omitted.
// Name may contain slashes for nested artifacts.
func ObjectKey(rootPrefix, theme string, stage Stage, name string) string {
	parts := make([]string, 0, 4)
	if rootPrefix != "" {
		parts = append(parts, rootPrefix)
	}
	parts = append(parts, theme, stage.Subpath(), name)
	return path.Join(parts...)
}

// StagePrefix is the key prefix owned by one stage of one theme, with a
// trailing slash so listings never match sibling stages that share a prefix.
func StagePrefix(rootPrefix, theme string, stage Stage) string {
	return path.Join(pathElems(rootPrefix, theme, stage.Subpath())...) + "/"
}

func pathElems(elems ...string) []string {
	out := make([]string, 0, len(elems))
	for _, e := range elems {
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

// ObjectInfo describes one stored artifact.
type ObjectInfo struct {
	// Name is the artifact name relative to the stage prefix.
	Name string
	// Size is the object size in bytes.
	Size int64
	// Locator is the fully qualified pointer to the object.
	Locator Locator
}

// Store persists and retrieves pipeline artifacts. Implementations must make
// Put a full overwrite: after Put returns, Get yields exactly the new bytes.
type Store interface {
	// Put uploads size bytes from r as the named artifact and returns its
	// locator. Existing content under the same key is replaced.
	Put(ctx context.Context, theme string, stage Stage, name string, r io.Reader, size int64) (Locator, error)

	// Get opens the named artifact for reading. Missing objects fail with
	// services.ErrNotFound.
	Get(ctx context.Context, theme string, stage Stage, name string) (io.ReadCloser, error)

	// List enumerates every artifact under the stage namespace, names
	// relative to the stage prefix. An empty namespace yields an empty
	// slice, not an error.
	List(ctx context.Context, theme string, stage Stage) ([]ObjectInfo, error)

	// PresignGet produces a time-limited download URL for the locator.
	// Locators without the s3 scheme or pointing outside the store's
	// bucket are errors.
	PresignGet(ctx context.Context, loc Locator, expiry time.Duration) (string, error)
}
