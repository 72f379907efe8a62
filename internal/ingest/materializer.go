package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"video-ingest/internal/platform/metrics"
	"video-ingest/internal/platform/objectstore"
)

const (
	// DefaultProfile names the fixed secondary output profile.
	DefaultProfile = "720p-h264"

	defaultCopyConcurrency = 4
	defaultFileTimeout     = 60 * time.Second
	maxOutputFileSize      = 1 << 30
)

// MaterializerConfig configures a Materializer.
type MaterializerConfig struct {
	Profile         string
	DownloadTimeout time.Duration
	UploadTimeout   time.Duration
	Concurrency     int
	HTTPClient      *http.Client
}

// Materializer relocates a job's output set into durable storage.
type Materializer struct {
	objects         objectstore.Store
	http            *http.Client
	profile         string
	downloadTimeout time.Duration
	uploadTimeout   time.Duration
	concurrency     int
	log             *slog.Logger
	metrics         *metrics.Metrics
}

// NewMaterializer returns a Materializer writing into objects.
func NewMaterializer(objects objectstore.Store, cfg MaterializerConfig, log *slog.Logger, m *metrics.Metrics) *Materializer {
	if cfg.Profile == "" {
		cfg.Profile = DefaultProfile
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultCopyConcurrency
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = defaultFileTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = defaultFileTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Materializer{
		objects:         objects,
		http:            cfg.HTTPClient,
		profile:         cfg.Profile,
		downloadTimeout: cfg.DownloadTimeout,
		uploadTimeout:   cfg.UploadTimeout,
		concurrency:     cfg.Concurrency,
		log:             log,
		metrics:         m,
	}
}

// Profile returns the output profile name used in destination keys.
func (m *Materializer) Profile() string { return m.profile }

// Materialized describes where a job's playback now lives.
type Materialized struct {
	ManifestKey string
	Duration    float64
	Keys        []string
	Direct      bool
}

// Materialize determines the manifest of outputs and, unless direct is set,
// copies every file under PlaybackPrefix(id). In direct mode the manifest must
// already lie under that prefix in our bucket.
func (m *Materializer) Materialize(ctx context.Context, id VideoID, outputs []OutputFile, direct bool) (Materialized, error) {
	if len(outputs) == 0 {
		return Materialized{}, ErrNoOutputs
	}
	manifest, err := FindManifest(outputs)
	if err != nil {
		return Materialized{}, err
	}
	dest := PlaybackPrefix(id, m.profile)

	if direct {
		key, ok := directStorageKey(manifest.Path, m.objects.Bucket())
		if !ok || !strings.HasPrefix(key, dest) {
			return Materialized{}, fmt.Errorf("%w: %s not under %s", ErrUnexpectedDirectPath, manifest.Path, dest)
		}
		return Materialized{ManifestKey: key, Duration: manifest.Duration, Keys: []string{key}, Direct: true}, nil
	}

	done := m.metrics.TrackMaterialization()
	defer done()

	paths := make([]string, len(outputs))
	for i, f := range outputs {
		paths[i] = f.Path
	}
	common := CommonDirPrefix(paths)

	var (
		mu        sync.Mutex
		playlists = make(map[string][]byte)
		keys      = make([]string, len(outputs))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, f := range outputs {
		key := RelocatedKey(f.Path, common, dest)
		keys[i] = key
		g.Go(func() error {
			body, err := m.download(gctx, f)
			if err != nil {
				return err
			}
			if err := m.upload(gctx, key, f, body); err != nil {
				return err
			}
			if strings.EqualFold(path.Ext(f.Path), manifestExt) || f.Path == manifest.Path {
				mu.Lock()
				playlists[key] = body
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Materialized{}, err
	}
	m.metrics.AddFilesMaterialized(len(outputs))

	manifestKey := RelocatedKey(manifest.Path, common, dest)
	duration := manifest.Duration
	if duration <= 0 {
		duration = playlistDuration(manifestKey, playlists, m.log)
	}

	m.log.Info("outputs relocated",
		slog.String("video_id", string(id)),
		slog.String("manifest_key", manifestKey),
		slog.Int("files", len(outputs)))
	return Materialized{ManifestKey: manifestKey, Duration: duration, Keys: keys}, nil
}

func (m *Materializer) download(ctx context.Context, f OutputFile) ([]byte, error) {
	if f.URL == "" {
		return nil, fmt.Errorf("download %s: no source url", f.Path)
	}
	ctx, cancel := context.WithTimeout(ctx, m.downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", f.Path, err)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", f.Path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download %s: unexpected status %d", f.Path, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOutputFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", f.Path, err)
	}
	if len(body) > maxOutputFileSize {
		return nil, fmt.Errorf("download %s: file exceeds %d bytes", f.Path, maxOutputFileSize)
	}
	return body, nil
}

func (m *Materializer) upload(ctx context.Context, key string, f OutputFile, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, m.uploadTimeout)
	defer cancel()

	contentType := f.MimeType
	if contentType == "" {
		contentType = objectstore.ContentTypeFor(key)
	}
	if err := m.objects.Put(ctx, key, contentType, body); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// playlistDuration sums the segment durations of the manifest, following a
// master playlist to its first rendition when that rendition was copied too.
func playlistDuration(manifestKey string, playlists map[string][]byte, log *slog.Logger) float64 {
	body, ok := playlists[manifestKey]
	if !ok {
		return 0
	}
	pl, err := ParsePlaylist(body)
	if err != nil {
		log.Debug("manifest not parseable for duration", slog.String("key", manifestKey), slog.String("error", err.Error()))
		return 0
	}
	if !pl.IsMaster() {
		return pl.Duration()
	}
	variantKey := objectstore.CleanKey(path.Join(path.Dir(manifestKey), pl.Variants[0]))
	variant, ok := playlists[variantKey]
	if !ok {
		return 0
	}
	vpl, err := ParsePlaylist(variant)
	if err != nil {
		return 0
	}
	return vpl.Duration()
}
