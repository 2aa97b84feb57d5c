package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"worldsmith/internal/services"
)

// MemoryStore is an in-process Store used by tests and dry runs. It applies
// the same key layout and overwrite semantics as the MinIO store.
type MemoryStore struct {
	mu         sync.RWMutex
	bucket     string
	rootPrefix string
	objects    map[string][]byte
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore(bucket, rootPrefix string) *MemoryStore {
	return &MemoryStore{
		bucket:     bucket,
		rootPrefix: rootPrefix,
		objects:    make(map[string][]byte),
	}
}

func (s *MemoryStore) Put(ctx context.Context, theme string, stage Stage, name string, r io.Reader, size int64) (Locator, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return "", fmt.Errorf("put %s: size %d does not match declared %d", name, len(data), size)
	}
	key := ObjectKey(s.rootPrefix, theme, stage, name)
	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()
	return NewLocator(s.bucket, key), nil
}

func (s *MemoryStore) Get(ctx context.Context, theme string, stage Stage, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := ObjectKey(s.rootPrefix, theme, stage, name)
	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "storage", "get", key, nil)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) List(ctx context.Context, theme string, stage Stage) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := StagePrefix(s.rootPrefix, theme, stage)
	s.mu.RLock()
	var out []ObjectInfo
	for key, data := range s.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, ObjectInfo{
			Name:    strings.TrimPrefix(key, prefix),
			Size:    int64(len(data)),
			Locator: NewLocator(s.bucket, key),
		})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) PresignGet(ctx context.Context, loc Locator, expiry time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	bucket, key, err := loc.Parse()
	if err != nil {
		return "", err
	}
	if bucket != s.bucket {
		return "", fmt.Errorf("locator bucket %q outside store bucket %q", bucket, s.bucket)
	}
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return "", services.Wrap(services.ErrNotFound, "storage", "presign", key, nil)
	}
	if expiry <= 0 {
		expiry = 10 * time.Minute
	}
	return fmt.Sprintf("https://%s.test/%s?X-Amz-Expires=%d", bucket, key, int(expiry.Seconds())), nil
}

// Len reports the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
