package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindManifest_prefers_extension(t *testing.T) {
	files := []OutputFile{
		{Path: "jobs/abc/720p/seg_0.ts", MimeType: "video/mp2t"},
		{Path: "jobs/abc/720p/playlist.txt", MimeType: "application/vnd.apple.mpegurl"},
		{Path: "jobs/abc/720p/index.m3u8", MimeType: "application/octet-stream"},
	}
	m, err := FindManifest(files)
	require.NoError(t, err)
	assert.Equal(t, "jobs/abc/720p/index.m3u8", m.Path)
}

func TestFindManifest_mime_fallback(t *testing.T) {
	files := []OutputFile{
		{Path: "out/seg_0.ts", MimeType: "video/mp2t"},
		{Path: "out/manifest", MimeType: "application/x-mpegURL; charset=utf-8"},
	}
	m, err := FindManifest(files)
	require.NoError(t, err)
	assert.Equal(t, "out/manifest", m.Path)
}

func TestFindManifest_none(t *testing.T) {
	_, err := FindManifest([]OutputFile{{Path: "out/seg_0.ts", MimeType: "video/mp2t"}})
	assert.ErrorIs(t, err, ErrManifestNotFound)
}

func TestFindManifest_prefers_master_then_shallowest(t *testing.T) {
	files := []OutputFile{
		{Path: "out/720p/index.m3u8"},
		{Path: "out/index.m3u8"},
		{Path: "out/720p/master.m3u8"},
	}
	m, err := FindManifest(files)
	require.NoError(t, err)
	assert.Equal(t, "out/720p/master.m3u8", m.Path)

	m, err = FindManifest(files[:2])
	require.NoError(t, err)
	assert.Equal(t, "out/index.m3u8", m.Path)
}

func TestCommonDirPrefix(t *testing.T) {
	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{"empty", nil, ""},
		{"single file", []string{"jobs/abc/720p/index.m3u8"}, "jobs/abc/720p/"},
		{"siblings", []string{"jobs/abc/720p/index.m3u8", "jobs/abc/720p/seg_0.ts"}, "jobs/abc/720p/"},
		{"nested", []string{"jobs/abc/master.m3u8", "jobs/abc/720p/index.m3u8"}, "jobs/abc/"},
		{"partial name not a dir", []string{"jobs/abc1/a.ts", "jobs/abc2/b.ts"}, "jobs/"},
		{"no shared dir", []string{"a/x.ts", "b/y.ts"}, ""},
		{"leading slash", []string{"/jobs/abc/a.ts", "/jobs/abc/b.ts"}, "jobs/abc/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CommonDirPrefix(tt.paths))
		})
	}
}

func TestRelocatedKey_reroots_under_playback_prefix(t *testing.T) {
	paths := []string{
		"jobs/abc/720p/index.m3u8",
		"jobs/abc/720p/seg_0.ts",
		"jobs/abc/720p/seg_1.ts",
	}
	common := CommonDirPrefix(paths)
	dest := PlaybackPrefix("v1", DefaultProfile)

	assert.Equal(t, "videos/v1/playback/720p-h264/index.m3u8", RelocatedKey(paths[0], common, dest))
	assert.Equal(t, "videos/v1/playback/720p-h264/seg_1.ts", RelocatedKey(paths[2], common, dest))
}

func TestDirectStorageKey(t *testing.T) {
	key, ok := directStorageKey("s3://media/videos/v1/playback/720p-h264/index.m3u8", "media")
	require.True(t, ok)
	assert.Equal(t, "videos/v1/playback/720p-h264/index.m3u8", key)

	_, ok = directStorageKey("gs://other/videos/v1/playback/720p-h264/index.m3u8", "media")
	assert.False(t, ok)

	key, ok = directStorageKey("/videos/v1/playback/720p-h264/index.m3u8", "media")
	require.True(t, ok)
	assert.Equal(t, "videos/v1/playback/720p-h264/index.m3u8", key)
}
