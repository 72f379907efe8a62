// Package objectstore provides the durable storage backends that hold
// original uploads and relocated playback outputs.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// Store is the durable object storage used by the ingest service.
type Store interface {
	// Put writes body under key, replacing any existing object.
	Put(ctx context.Context, key, contentType string, body []byte) error
	// SignedPutURL returns a URL a client may PUT the object to until ttl elapses.
	SignedPutURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	// SignedGetURL returns a pullable URL for key valid for ttl.
	SignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Bucket names the bucket objects are written to.
	Bucket() string
}

// Config selects a backend.
type Config struct {
	Backend  string // s3, gcs or memory
	Bucket   string
	Region   string
	Endpoint string
}

var (
	// ErrBucketRequired is returned when a remote backend has no bucket configured.
	ErrBucketRequired = errors.New("objectstore: bucket is required")
	// ErrUnknownBackend is returned for an unsupported Config.Backend.
	ErrUnknownBackend = errors.New("objectstore: unknown backend")
)

// New builds the Store named by cfg.Backend.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "s3":
		return NewS3Store(ctx, cfg)
	case "gcs":
		return NewGCSStore(ctx, cfg)
	case "", "memory":
		bucket := cfg.Bucket
		if bucket == "" {
			bucket = "local"
		}
		return NewMemoryStore(bucket), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// CleanKey normalises an object key: no leading slash, no dot segments.
func CleanKey(key string) string {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return ""
	}
	cleaned := path.Clean("/" + trimmed)
	return strings.TrimPrefix(cleaned, "/")
}

// ContentTypeFor guesses a content type for playback artifacts by extension.
func ContentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".m4s":
		return "video/iso.segment"
	case ".mp4":
		return "video/mp4"
	case ".vtt":
		return "text/vtt"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
