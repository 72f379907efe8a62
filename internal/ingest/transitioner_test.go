package ingest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-ingest/internal/platform/logger"
)

func newTestTransitioner(t *testing.T) (*Transitioner, *InMemoryStore) {
	t.Helper()
	s := NewInMemoryStore()
	return NewTransitioner(s, logger.Discard(), nil), s
}

func TestTransitioner_ApplyReady_idempotent(t *testing.T) {
	ctx := context.Background()
	tx, s := newTestTransitioner(t)
	seedVideo(t, s, Video{ID: "v1", TranscodeJobID: "job1"})
	job := Attempt{Kind: AttemptJob, Ref: "job1"}
	fields := ReadyFields{ManifestKey: "videos/v1/playback/720p-h264/index.m3u8", Duration: 30}

	out, err := tx.ApplyReady(ctx, "v1", job, fields)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	first, _ := s.Get(ctx, "v1")

	out, err = tx.ApplyReady(ctx, "v1", job, ReadyFields{ManifestKey: "other.m3u8", Duration: 99})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)

	second, _ := s.Get(ctx, "v1")
	assert.Equal(t, first.ManifestKey, second.ManifestKey)
	assert.Equal(t, 30.0, second.Duration)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
}

func TestTransitioner_failed_never_regresses_ready(t *testing.T) {
	ctx := context.Background()
	tx, s := newTestTransitioner(t)
	seedVideo(t, s, Video{ID: "v1", AssetRef: "as1", Status: StatusReady, PlaybackID: "pb1"})

	out, err := tx.ApplyFailed(ctx, "v1", Attempt{Kind: AttemptAsset, Ref: "as1"}, "late failure")
	require.NoError(t, err)
	assert.NotEqual(t, OutcomeApplied, out)

	v, _ := s.Get(ctx, "v1")
	assert.Equal(t, StatusReady, v.Status)
	assert.Empty(t, v.ErrorMessage)
}

func TestTransitioner_stale_job_ignored(t *testing.T) {
	ctx := context.Background()
	tx, s := newTestTransitioner(t)
	seedVideo(t, s, Video{ID: "v1", TranscodeJobID: "job1"})

	_, err := tx.SupersedeJob(ctx, "v1", "job2")
	require.NoError(t, err)

	out, err := tx.ApplyFailed(ctx, "v1", Attempt{Kind: AttemptJob, Ref: "job1"}, "old job failed")
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, out)

	out, err = tx.ApplyReady(ctx, "v1", Attempt{Kind: AttemptJob, Ref: "job1"}, ReadyFields{ManifestKey: "old.m3u8"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, out)

	v, _ := s.Get(ctx, "v1")
	assert.Equal(t, StatusProcessing, v.Status)
	assert.Empty(t, v.ManifestKey)

	out, err = tx.ApplyReady(ctx, "v1", Attempt{Kind: AttemptJob, Ref: "job2"}, ReadyFields{ManifestKey: "new.m3u8"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
}

func TestTransitioner_SupersedeJob_reopens_failed(t *testing.T) {
	ctx := context.Background()
	tx, s := newTestTransitioner(t)
	seedVideo(t, s, Video{ID: "v1", TranscodeJobID: "job1", Status: StatusFailed, ErrorMessage: "boom"})

	v, err := tx.SupersedeJob(ctx, "v1", "job2")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, v.Status)
	assert.Equal(t, "job2", v.TranscodeJobID)
	assert.Empty(t, v.ErrorMessage)
}

func TestTransitioner_SupersedeJob_requires_confirmed_upload(t *testing.T) {
	tx, s := newTestTransitioner(t)
	seedVideo(t, s, Video{ID: "v1", Status: StatusUploading})

	_, err := tx.SupersedeJob(context.Background(), "v1", "job1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitioner_asset_ready_sets_unset_asset_ref(t *testing.T) {
	ctx := context.Background()
	tx, s := newTestTransitioner(t)
	seedVideo(t, s, Video{ID: "v1", UploadRef: "up1"})

	out, err := tx.ApplyReady(ctx, "v1", Attempt{Kind: AttemptAsset, Ref: "as1"}, ReadyFields{PlaybackID: "pb1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	v, _ := s.Get(ctx, "v1")
	assert.Equal(t, "as1", v.AssetRef)
	assert.Equal(t, "pb1", v.PlaybackID)

	out, err = tx.ApplyReady(ctx, "v1", Attempt{Kind: AttemptAsset, Ref: "as0"}, ReadyFields{PlaybackID: "pb0"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, out)
}

func TestTransitioner_AttachAsset(t *testing.T) {
	ctx := context.Background()
	tx, s := newTestTransitioner(t)
	seedVideo(t, s, Video{ID: "v1", UploadRef: "up1", Status: StatusUploading})

	out, err := tx.AttachAsset(ctx, "v1", "up1", "as1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	out, err = tx.AttachAsset(ctx, "v1", "up1", "as2")
	require.NoError(t, err)
	assert.NotEqual(t, OutcomeApplied, out)

	v, _ := s.Get(ctx, "v1")
	assert.Equal(t, "as1", v.AssetRef)
}

func TestTransitioner_MarkProcessing_records_original_once(t *testing.T) {
	ctx := context.Background()
	tx, s := newTestTransitioner(t)
	seedVideo(t, s, Video{ID: "v1", Status: StatusUploading})

	v, err := tx.MarkProcessing(ctx, "v1", OriginalAsset{Size: 100, ContentType: "video/mp4"})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, v.Status)

	v, err = tx.MarkProcessing(ctx, "v1", OriginalAsset{Size: 1, ContentType: "video/webm"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), v.Original.Size)
}

func TestTransitioner_MarkProcessing_keeps_ready_status(t *testing.T) {
	ctx := context.Background()
	tx, s := newTestTransitioner(t)
	seedVideo(t, s, Video{ID: "v1", Status: StatusReady, PlaybackID: "pb1"})
	seedVideo(t, s, Video{ID: "v2", Status: StatusFailed})

	v, err := tx.MarkProcessing(ctx, "v1", OriginalAsset{Key: "videos/v1/original/source", Size: 42, ContentType: "video/mp4"})
	require.NoError(t, err)
	assert.Equal(t, StatusReady, v.Status)
	assert.Equal(t, int64(42), v.Original.Size)

	_, err = tx.MarkProcessing(ctx, "v2", OriginalAsset{Size: 1, ContentType: "video/mp4"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitioner_missing_video(t *testing.T) {
	tx, _ := newTestTransitioner(t)
	_, err := tx.ApplyFailed(context.Background(), "nope", Attempt{Kind: AttemptJob, Ref: "job1"}, "x")
	assert.ErrorIs(t, err, ErrVideoNotFound)
}

func TestTransitioner_concurrent_ready_and_failed(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		tx, s := newTestTransitioner(t)
		seedVideo(t, s, Video{ID: "v1", TranscodeJobID: "job1"})
		job := Attempt{Kind: AttemptJob, Ref: "job1"}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = tx.ApplyReady(ctx, "v1", job, ReadyFields{ManifestKey: "k.m3u8"})
		}()
		go func() {
			defer wg.Done()
			_, _ = tx.ApplyFailed(ctx, "v1", job, "failed")
		}()
		wg.Wait()

		// Ready may follow failed for the same job, never the reverse.
		v, _ := s.Get(ctx, "v1")
		if v.Status == StatusFailed {
			assert.Empty(t, v.ManifestKey)
		} else {
			assert.Equal(t, StatusReady, v.Status)
			assert.Equal(t, "k.m3u8", v.ManifestKey)
		}
	}
}
