package ingest

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Store is the persistence abstraction for video records. PatchIfMatches is
// the only write path after creation and must evaluate cond and apply patch
// as one atomic step.
type Store interface {
	Create(ctx context.Context, v *Video) error
	Get(ctx context.Context, id VideoID) (*Video, error)
	GetByUploadRef(ctx context.Context, ref string) (*Video, error)
	GetByAssetRef(ctx context.Context, ref string) (*Video, error)
	GetByJobID(ctx context.Context, jobID string) (*Video, error)

	// PatchIfMatches applies patch when the stored video satisfies cond and
	// returns the updated record. applied is false, with a nil error, when
	// the video exists but cond does not hold or when it does not exist.
	PatchIfMatches(ctx context.Context, id VideoID, cond Condition, patch Patch) (updated *Video, applied bool, err error)
}

// Field names a playback field used in duplicate-delivery checks.
type Field string

const (
	FieldNone        Field = ""
	FieldPlaybackID  Field = "playback_id"
	FieldManifestKey Field = "manifest_key"
)

// value returns v's value for f.
func (f Field) value(v *Video) string {
	switch f {
	case FieldPlaybackID:
		return v.PlaybackID
	case FieldManifestKey:
		return v.ManifestKey
	default:
		return ""
	}
}

// Condition is the predicate half of a compare-and-set. Zero fields impose
// no constraint.
type Condition struct {
	StatusIn    []Status
	StatusNotIn []Status

	UploadRef      *string
	TranscodeJobID *string

	// AssetRef must equal the stored asset ref. With AssetRefMayBeUnset an
	// empty stored asset ref also matches.
	AssetRef           *string
	AssetRefMayBeUnset bool

	// NotReadyWith rejects a video that is already ready with this field set.
	NotReadyWith Field
}

// Matches evaluates the condition against v.
func (c Condition) Matches(v *Video) bool {
	if len(c.StatusIn) > 0 && !slices.Contains(c.StatusIn, v.Status) {
		return false
	}
	if slices.Contains(c.StatusNotIn, v.Status) {
		return false
	}
	if c.UploadRef != nil && v.UploadRef != *c.UploadRef {
		return false
	}
	if c.TranscodeJobID != nil && v.TranscodeJobID != *c.TranscodeJobID {
		return false
	}
	if c.AssetRef != nil && v.AssetRef != *c.AssetRef {
		if !(c.AssetRefMayBeUnset && v.AssetRef == "") {
			return false
		}
	}
	if c.NotReadyWith != FieldNone && v.Status == StatusReady && c.NotReadyWith.value(v) != "" {
		return false
	}
	return true
}

// Patch is the update half of a compare-and-set. Nil fields are left alone.
type Patch struct {
	Status         *Status
	UploadRef      *string
	AssetRef       *string
	TranscodeJobID *string
	PlaybackID     *string
	ManifestKey    *string
	ThumbnailURL   *string
	ErrorMessage   *string

	// Duration is written only when the video has none.
	Duration *float64

	// Original is written only when no original facts were recorded.
	Original *OriginalAsset

	// ReopenFailed moves a failed video back to processing and clears its
	// error message.
	ReopenFailed bool

	// PromoteUploading moves an uploading video to processing and leaves any
	// other status as it is.
	PromoteUploading bool
}

// Apply mutates v in place.
func (p Patch) Apply(v *Video, now time.Time) {
	if p.ReopenFailed && v.Status == StatusFailed {
		v.Status = StatusProcessing
		v.ErrorMessage = ""
	}
	if p.PromoteUploading && v.Status == StatusUploading {
		v.Status = StatusProcessing
	}
	if p.Status != nil {
		v.Status = *p.Status
	}
	if p.UploadRef != nil {
		v.UploadRef = *p.UploadRef
	}
	if p.AssetRef != nil {
		v.AssetRef = *p.AssetRef
	}
	if p.TranscodeJobID != nil {
		v.TranscodeJobID = *p.TranscodeJobID
	}
	if p.PlaybackID != nil {
		v.PlaybackID = *p.PlaybackID
	}
	if p.ManifestKey != nil {
		v.ManifestKey = *p.ManifestKey
	}
	if p.ThumbnailURL != nil {
		v.ThumbnailURL = *p.ThumbnailURL
	}
	if p.ErrorMessage != nil {
		v.ErrorMessage = *p.ErrorMessage
	}
	if p.Duration != nil && v.Duration <= 0 {
		v.Duration = *p.Duration
	}
	if p.Original != nil && v.Original.IsZero() {
		v.Original = *p.Original
	}
	v.UpdatedAt = now
}

func ptr[T any](v T) *T { return &v }

// InMemoryStore is a concurrency-safe in-memory Store. A single mutex makes
// every PatchIfMatches an atomic compare-and-set.
type InMemoryStore struct {
	mu     sync.RWMutex
	videos map[VideoID]*Video
	now    func() time.Time
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		videos: make(map[VideoID]*Video),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create implements Store.Create.
func (s *InMemoryStore) Create(_ context.Context, v *Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.videos[v.ID]; exists {
		return ErrVideoExists
	}
	cp := *v
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	s.videos[v.ID] = &cp
	return nil
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(_ context.Context, id VideoID) (*Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.videos[id]
	if !ok {
		return nil, ErrVideoNotFound
	}
	cp := *v
	return &cp, nil
}

// GetByUploadRef implements Store.GetByUploadRef.
func (s *InMemoryStore) GetByUploadRef(_ context.Context, ref string) (*Video, error) {
	return s.find(func(v *Video) bool { return ref != "" && v.UploadRef == ref })
}

// GetByAssetRef implements Store.GetByAssetRef.
func (s *InMemoryStore) GetByAssetRef(_ context.Context, ref string) (*Video, error) {
	return s.find(func(v *Video) bool { return ref != "" && v.AssetRef == ref })
}

// GetByJobID implements Store.GetByJobID.
func (s *InMemoryStore) GetByJobID(_ context.Context, jobID string) (*Video, error) {
	return s.find(func(v *Video) bool { return jobID != "" && v.TranscodeJobID == jobID })
}

func (s *InMemoryStore) find(match func(*Video) bool) (*Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.videos {
		if match(v) {
			cp := *v
			return &cp, nil
		}
	}
	return nil, ErrVideoNotFound
}

// PatchIfMatches implements Store.PatchIfMatches.
func (s *InMemoryStore) PatchIfMatches(_ context.Context, id VideoID, cond Condition, patch Patch) (*Video, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.videos[id]
	if !ok || !cond.Matches(v) {
		return nil, false, nil
	}
	patch.Apply(v, s.now())
	cp := *v
	return &cp, true, nil
}

// Len returns the number of stored videos.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.videos)
}
