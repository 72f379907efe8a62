package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"
)

// Object is a stored blob.
type Object struct {
	ContentType string
	Body        []byte
}

// MemoryStore is an in-process Store used for local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]Object
	puts    int
}

// NewMemoryStore returns an empty store for bucket.
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: make(map[string]Object)}
}

// Put implements Store.Put.
func (s *MemoryStore) Put(ctx context.Context, key, contentType string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key = CleanKey(key)
	if contentType == "" {
		contentType = ContentTypeFor(key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = Object{ContentType: contentType, Body: append([]byte(nil), body...)}
	s.puts++
	return nil
}

// SignedPutURL implements Store.SignedPutURL.
func (s *MemoryStore) SignedPutURL(_ context.Context, key, _ string, ttl time.Duration) (string, error) {
	return s.signed(key, "PUT", ttl), nil
}

// SignedGetURL implements Store.SignedGetURL.
func (s *MemoryStore) SignedGetURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	return s.signed(key, "GET", ttl), nil
}

func (s *MemoryStore) signed(key, method string, ttl time.Duration) string {
	q := url.Values{}
	q.Set("method", method)
	q.Set("ttl", ttl.String())
	return fmt.Sprintf("memory://%s/%s?%s", s.bucket, CleanKey(key), q.Encode())
}

// Bucket implements Store.Bucket.
func (s *MemoryStore) Bucket() string { return s.bucket }

// Get returns the object stored under key.
func (s *MemoryStore) Get(key string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[CleanKey(key)]
	return obj, ok
}

// Keys lists stored keys in lexical order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PutCount reports how many Put calls succeeded.
func (s *MemoryStore) PutCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}
