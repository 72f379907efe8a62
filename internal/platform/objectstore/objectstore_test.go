package objectstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanKey(t *testing.T) {
	assert.Equal(t, "videos/v1/playback/master.m3u8", CleanKey("/videos/v1/playback/master.m3u8"))
	assert.Equal(t, "videos/v1/a.ts", CleanKey("videos/v1/x/../a.ts"))
	assert.Equal(t, "", CleanKey("  "))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/vnd.apple.mpegurl", ContentTypeFor("a/master.M3U8"))
	assert.Equal(t, "video/mp2t", ContentTypeFor("a/seg-1.ts"))
	assert.Equal(t, "video/iso.segment", ContentTypeFor("a/seg-1.m4s"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("a/blob"))
}

func TestNew_memoryDefault(t *testing.T) {
	st, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.Equal(t, "local", st.Bucket())
}

func TestNew_unknownBackend(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: "ftp"})
	assert.True(t, errors.Is(err, ErrUnknownBackend))
}

func TestNew_remoteBackendsRequireBucket(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: "s3"})
	assert.ErrorIs(t, err, ErrBucketRequired)
	_, err = New(context.Background(), Config{Backend: "gcs"})
	assert.ErrorIs(t, err, ErrBucketRequired)
}

func TestMemoryStore_PutAndGet(t *testing.T) {
	st := NewMemoryStore("media")
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, "/videos/v1/playback/720p-h264/seg-0.ts", "", []byte("abc")))
	obj, ok := st.Get("videos/v1/playback/720p-h264/seg-0.ts")
	require.True(t, ok)
	assert.Equal(t, "video/mp2t", obj.ContentType)
	assert.Equal(t, []byte("abc"), obj.Body)
	assert.Equal(t, 1, st.PutCount())
	assert.Equal(t, []string{"videos/v1/playback/720p-h264/seg-0.ts"}, st.Keys())
}

func TestMemoryStore_PutHonoursContext(t *testing.T) {
	st := NewMemoryStore("media")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, st.Put(ctx, "k", "", nil), context.Canceled)
	assert.Equal(t, 0, st.PutCount())
}

func TestMemoryStore_SignedURLs(t *testing.T) {
	st := NewMemoryStore("media")
	put, err := st.SignedPutURL(context.Background(), "videos/v1/original/source", "video/mp4", time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(put, "memory://media/videos/v1/original/source?"))
	assert.Contains(t, put, "method=PUT")

	get, err := st.SignedGetURL(context.Background(), "videos/v1/original/source", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, get, "method=GET")
}
