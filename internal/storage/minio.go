package storage

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"worldsmith/internal/config"
	"worldsmith/internal/services"
)

// NewClient builds a MinIO client from the storage configuration.
func NewClient(cfg config.Storage) (*minio.Client, error) {
	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "storage", "connect", cfg.Endpoint, err)
	}
	return client, nil
}

// EnsureBucket creates the bucket when it does not already exist.
func EnsureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// MinioStore implements Store against a MinIO or S3-compatible endpoint.
type MinioStore struct {
	client     *minio.Client
	bucket     string
	rootPrefix string
}

// NewMinioStore wraps an initialized client with the bucket and root prefix
// all artifact keys live under.
func NewMinioStore(client *minio.Client, bucket, rootPrefix string) (*MinioStore, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &MinioStore{client: client, bucket: bucket, rootPrefix: rootPrefix}, nil
}

// Bucket returns the bucket the store writes into.
func (s *MinioStore) Bucket() string {
	return s.bucket
}

func (s *MinioStore) Put(ctx context.Context, theme string, stage Stage, name string, r io.Reader, size int64) (Locator, error) {
	key := ObjectKey(s.rootPrefix, theme, stage, name)
	opts := minio.PutObjectOptions{ContentType: contentTypeFor(name)}
	if _, err := s.client.PutObject(ctx, s.bucket, key, r, size, opts); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return NewLocator(s.bucket, key), nil
}

func (s *MinioStore) Get(ctx context.Context, theme string, stage Stage, name string) (io.ReadCloser, error) {
	key := ObjectKey(s.rootPrefix, theme, stage, name)
	// GetObject defers the request until the first read, so stat up front to
	// surface missing objects before the caller starts streaming.
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil, services.Wrap(services.ErrNotFound, "storage", "get", key, nil)
		}
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return obj, nil
}

func (s *MinioStore) List(ctx context.Context, theme string, stage Stage) ([]ObjectInfo, error) {
	prefix := StagePrefix(s.rootPrefix, theme, stage)
	opts := minio.ListObjectsOptions{Prefix: prefix, Recursive: true}
	var out []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		out = append(out, ObjectInfo{
			Name:    strings.TrimPrefix(obj.Key, prefix),
			Size:    obj.Size,
			Locator: NewLocator(s.bucket, obj.Key),
		})
	}
	return out, nil
}

func (s *MinioStore) PresignGet(ctx context.Context, loc Locator, expiry time.Duration) (string, error) {
	bucket, key, err := loc.Parse()
	if err != nil {
		return "", err
	}
	if bucket != s.bucket {
		return "", fmt.Errorf("locator bucket %q outside store bucket %q", bucket, s.bucket)
	}
	if expiry <= 0 {
		expiry = 10 * time.Minute
	}
	u, err := s.client.PresignedGetObject(ctx, bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "image/png"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
