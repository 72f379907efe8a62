package ingest

import (
	"context"

	"video-ingest/internal/providers/streamhost"
	"video-ingest/internal/providers/transcoder"
)

// PrimaryProvider is the hosted-stream provider the service depends on.
type PrimaryProvider interface {
	CreateDirectUpload(ctx context.Context, p streamhost.CreateUploadParams) (streamhost.Upload, error)
	GetAsset(ctx context.Context, assetID string) (streamhost.Asset, error)
	ThumbnailURL(playbackID string) string
	PlaybackURL(playbackID string) string
}

// SecondaryProvider is the job based transcoder the service depends on.
type SecondaryProvider interface {
	CreateSource(ctx context.Context, p transcoder.SourceParams) (transcoder.Source, error)
	CreateJob(ctx context.Context, p transcoder.JobParams) (transcoder.Job, error)
	ListOutputFiles(ctx context.Context, jobID string) ([]transcoder.OutputFile, error)
	DeleteOutputs(ctx context.Context, jobID string) error
}

var (
	_ PrimaryProvider   = (*streamhost.Client)(nil)
	_ SecondaryProvider = (*transcoder.Client)(nil)
)

func outputFilesFromTranscoder(in []transcoder.OutputFile) []OutputFile {
	if len(in) == 0 {
		return nil
	}
	out := make([]OutputFile, len(in))
	for i, f := range in {
		out[i] = OutputFile{Path: f.Path, URL: f.URL, MimeType: f.MimeType, Size: f.Size, Duration: f.Duration}
	}
	return out
}
