package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"video-ingest/internal/providers/streamhost"
	"video-ingest/internal/providers/transcoder"
)

type fakePrimary struct {
	mu        sync.Mutex
	uploads   int
	assets    map[string]streamhost.Asset
	params    []streamhost.CreateUploadParams
	uploadErr error
}

func newFakePrimary() *fakePrimary {
	return &fakePrimary{assets: make(map[string]streamhost.Asset)}
}

func (f *fakePrimary) CreateDirectUpload(_ context.Context, p streamhost.CreateUploadParams) (streamhost.Upload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return streamhost.Upload{}, f.uploadErr
	}
	f.uploads++
	f.params = append(f.params, p)
	id := fmt.Sprintf("up-%d", f.uploads)
	return streamhost.Upload{ID: id, URL: "https://uploads.example.test/" + id, Status: "waiting"}, nil
}

func (f *fakePrimary) GetAsset(_ context.Context, assetID string) (streamhost.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assets[assetID]
	if !ok {
		return streamhost.Asset{}, &streamhost.APIError{StatusCode: 404, Body: "not found"}
	}
	return a, nil
}

func (f *fakePrimary) ThumbnailURL(playbackID string) string {
	return "https://image.example.test/" + playbackID + "/thumbnail.jpg"
}

func (f *fakePrimary) PlaybackURL(playbackID string) string {
	return "https://stream.example.test/" + playbackID + ".m3u8"
}

type fakeSecondary struct {
	mu       sync.Mutex
	jobs     int
	sources  []transcoder.SourceParams
	params   []transcoder.JobParams
	outputs  map[string][]transcoder.OutputFile
	deleted  []string
	jobErr   error
	listErrs int
}

func newFakeSecondary() *fakeSecondary {
	return &fakeSecondary{outputs: make(map[string][]transcoder.OutputFile)}
}

func (f *fakeSecondary) CreateSource(_ context.Context, p transcoder.SourceParams) (transcoder.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, p)
	return transcoder.Source{ID: fmt.Sprintf("src-%d", len(f.sources)), Status: "ready"}, nil
}

func (f *fakeSecondary) CreateJob(_ context.Context, p transcoder.JobParams) (transcoder.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.jobErr != nil {
		return transcoder.Job{}, f.jobErr
	}
	f.jobs++
	f.params = append(f.params, p)
	return transcoder.Job{ID: fmt.Sprintf("J%d", f.jobs), Status: "queued", SourceID: p.SourceID, Metadata: p.Metadata}, nil
}

func (f *fakeSecondary) ListOutputFiles(_ context.Context, jobID string) ([]transcoder.OutputFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErrs > 0 {
		f.listErrs--
		return nil, errors.New("transcoder unavailable")
	}
	return f.outputs[jobID], nil
}

func (f *fakeSecondary) DeleteOutputs(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, jobID)
	return nil
}

func (f *fakeSecondary) deletedJobs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}
