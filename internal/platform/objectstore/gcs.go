package objectstore

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// GCSStore stores objects in a Google Cloud Storage bucket. Signed URLs use
// V4 signing with the credentials the client was built from.
type GCSStore struct {
	client *storage.Client
	bucket string
	now    func() time.Time
}

// NewGCSStore builds a client from application default credentials.
func NewGCSStore(ctx context.Context, cfg Config) (*GCSStore, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, ErrBucketRequired
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("init gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, now: time.Now}, nil
}

// Put implements Store.Put.
func (s *GCSStore) Put(ctx context.Context, key, contentType string, body []byte) error {
	key = CleanKey(key)
	if contentType == "" {
		contentType = ContentTypeFor(key)
	}
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", s.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close gs://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// SignedPutURL implements Store.SignedPutURL.
func (s *GCSStore) SignedPutURL(_ context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return s.sign(key, http.MethodPut, contentType, ttl)
}

// SignedGetURL implements Store.SignedGetURL.
func (s *GCSStore) SignedGetURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	return s.sign(key, http.MethodGet, "", ttl)
}

func (s *GCSStore) sign(key, method, contentType string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("sign %s: ttl must be positive", key)
	}
	opts := &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      method,
		Expires:     s.now().Add(ttl),
		ContentType: contentType,
	}
	url, err := s.client.Bucket(s.bucket).SignedURL(CleanKey(key), opts)
	if err != nil {
		return "", fmt.Errorf("signed url %s: %w", key, err)
	}
	return url, nil
}

// Bucket implements Store.Bucket.
func (s *GCSStore) Bucket() string { return s.bucket }

// Close releases the underlying client.
func (s *GCSStore) Close() error { return s.client.Close() }
