package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"video-ingest/internal/platform/metrics"
	"video-ingest/internal/platform/objectstore"
	"video-ingest/internal/providers/streamhost"
	"video-ingest/internal/providers/transcoder"
)

const (
	secondaryHeight          = 720
	secondarySegmentDuration = 6
	defaultSignedURLTTL      = time.Hour
)

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	CORSOrigin    string
	Profile       string
	DirectStorage bool
	SignedURLTTL  time.Duration
	TestUploads   bool
}

// Coordinator creates videos and obtains ingestion targets from providers.
type Coordinator struct {
	store     Store
	tx        *Transitioner
	primary   PrimaryProvider
	secondary SecondaryProvider
	objects   objectstore.Store
	cfg       CoordinatorConfig
	log       *slog.Logger
	metrics   *metrics.Metrics
	newID     func() VideoID
}

// NewCoordinator wires a Coordinator. secondary may be nil when no video
// needs secondary encoding.
func NewCoordinator(store Store, tx *Transitioner, primary PrimaryProvider, secondary SecondaryProvider,
	objects objectstore.Store, cfg CoordinatorConfig, log *slog.Logger, m *metrics.Metrics) *Coordinator {
	if cfg.Profile == "" {
		cfg.Profile = DefaultProfile
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = defaultSignedURLTTL
	}
	return &Coordinator{
		store:     store,
		tx:        tx,
		primary:   primary,
		secondary: secondary,
		objects:   objects,
		cfg:       cfg,
		log:       log,
		metrics:   m,
		newID:     func() VideoID { return VideoID(uuid.NewString()) },
	}
}

// NewVideo is the input to CreateVideo.
type NewVideo struct {
	Title             string
	RequiresSecondary bool
}

// UploadTarget is what a client needs to upload a video.
type UploadTarget struct {
	UploadRef string
	PutURL    string
	// OriginalPutURL receives a copy of the raw bytes for secondary encoding.
	OriginalPutURL string
}

// CreateVideo persists a new video in the uploading state.
func (c *Coordinator) CreateVideo(ctx context.Context, in NewVideo) (*Video, error) {
	if in.RequiresSecondary && c.secondary == nil {
		return nil, ErrSecondaryUnavailable
	}
	v := &Video{
		ID:                c.newID(),
		Title:             strings.TrimSpace(in.Title),
		Status:            StatusUploading,
		RequiresSecondary: in.RequiresSecondary,
	}
	if err := c.store.Create(ctx, v); err != nil {
		return nil, fmt.Errorf("create video: %w", err)
	}
	return c.store.Get(ctx, v.ID)
}

// BeginUpload obtains a direct upload slot from the primary provider and
// records its id as the video's upload ref. On failure the video is marked
// failed so it never stays uploading.
func (c *Coordinator) BeginUpload(ctx context.Context, v *Video, contentType string) (UploadTarget, error) {
	up, err := c.primary.CreateDirectUpload(ctx, streamhost.CreateUploadParams{
		Passthrough: string(v.ID),
		CORSOrigin:  c.cfg.CORSOrigin,
		Test:        c.cfg.TestUploads,
	})
	if err != nil {
		return UploadTarget{}, c.fail(ctx, v.ID, "could not create upload target", err)
	}
	if err := c.tx.SetUploadRef(ctx, v.ID, up.ID); err != nil {
		return UploadTarget{}, c.fail(ctx, v.ID, "could not record upload target", err)
	}

	target := UploadTarget{UploadRef: up.ID, PutURL: up.URL}
	if v.RequiresSecondary {
		target.OriginalPutURL, err = c.objects.SignedPutURL(ctx, OriginalKey(v.ID), contentType, c.cfg.SignedURLTTL)
		if err != nil {
			return UploadTarget{}, c.fail(ctx, v.ID, "could not create original upload target", err)
		}
	}

	c.metrics.IncUploadsStarted()
	c.log.Info("upload target issued",
		slog.String("video_id", string(v.ID)),
		slog.String("upload_ref", up.ID),
		slog.Bool("requires_secondary", v.RequiresSecondary))
	return target, nil
}

// PlaybackURL returns the primary provider's stream URL for v, or "" before
// the primary asset is ready.
func (c *Coordinator) PlaybackURL(v *Video) string {
	if v.PlaybackID == "" {
		return ""
	}
	return c.primary.PlaybackURL(v.PlaybackID)
}

// ConfirmUpload moves the video to processing once the client reports the raw
// bytes uploaded and, for videos needing secondary encoding, submits the job.
func (c *Coordinator) ConfirmUpload(ctx context.Context, id VideoID, size int64, contentType string) (*Video, error) {
	current, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	original := OriginalAsset{Size: size, ContentType: contentType}
	if current.RequiresSecondary {
		original.Key = OriginalKey(id)
	}
	v, err := c.tx.MarkProcessing(ctx, id, original)
	if err != nil {
		return nil, err
	}
	if !v.RequiresSecondary || v.TranscodeJobID != "" {
		return v, nil
	}
	if _, err := c.submitFromOriginal(ctx, v); err != nil {
		return nil, err
	}
	return c.store.Get(ctx, id)
}

// Resubmit submits a new secondary job for a confirmed video. The new job
// supersedes the previous one.
func (c *Coordinator) Resubmit(ctx context.Context, id VideoID) (string, error) {
	v, err := c.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !v.RequiresSecondary {
		return "", fmt.Errorf("%w: video does not use secondary encoding", ErrInvalidTransition)
	}
	if v.Status == StatusUploading {
		return "", fmt.Errorf("%w: upload not confirmed", ErrInvalidTransition)
	}
	return c.submitFromOriginal(ctx, v)
}

func (c *Coordinator) submitFromOriginal(ctx context.Context, v *Video) (string, error) {
	sourceURL, err := c.objects.SignedGetURL(ctx, OriginalKey(v.ID), c.cfg.SignedURLTTL)
	if err != nil {
		return "", c.fail(ctx, v.ID, "could not sign original for encoding", err)
	}
	return c.SubmitSecondaryJob(ctx, v, sourceURL)
}

// SubmitSecondaryJob creates a source from sourceURL and a transcode job for
// the fixed profile, then makes that job the video's live job.
func (c *Coordinator) SubmitSecondaryJob(ctx context.Context, v *Video, sourceURL string) (string, error) {
	if c.secondary == nil {
		return "", ErrSecondaryUnavailable
	}
	metadata := map[string]string{
		transcoder.MetadataVideoID:       string(v.ID),
		transcoder.MetadataDirectStorage: strconv.FormatBool(c.cfg.DirectStorage),
	}
	src, err := c.secondary.CreateSource(ctx, transcoder.SourceParams{URL: sourceURL, Metadata: metadata})
	if err != nil {
		return "", c.fail(ctx, v.ID, "could not create encoding source", err)
	}

	params := transcoder.JobParams{
		SourceID: src.ID,
		Outputs: []transcoder.OutputProfile{{
			Name:            c.cfg.Profile,
			Format:          "hls",
			VideoCodec:      "h264",
			Height:          secondaryHeight,
			SegmentDuration: secondarySegmentDuration,
			Fragmented:      true,
		}},
		Metadata: metadata,
	}
	if c.cfg.DirectStorage {
		params.Destination = &transcoder.Destination{
			Bucket: c.objects.Bucket(),
			Prefix: PlaybackPrefix(v.ID, c.cfg.Profile),
		}
	}
	job, err := c.secondary.CreateJob(ctx, params)
	if err != nil {
		return "", c.fail(ctx, v.ID, "could not create encoding job", err)
	}

	if _, err := c.tx.SupersedeJob(ctx, v.ID, job.ID); err != nil {
		return "", fmt.Errorf("record job %s: %w", job.ID, err)
	}
	c.log.Info("secondary job submitted",
		slog.String("video_id", string(v.ID)),
		slog.String("job_id", job.ID),
		slog.String("previous_job_id", v.TranscodeJobID),
		slog.Bool("direct_storage", c.cfg.DirectStorage))
	return job.ID, nil
}

// fail marks the video failed with message and returns the cause. A video
// that already reached a terminal state is left alone.
func (c *Coordinator) fail(ctx context.Context, id VideoID, message string, cause error) error {
	c.log.Error(message, slog.String("video_id", string(id)), slog.String("error", cause.Error()))
	if err := c.tx.MarkFailed(ctx, id, message); err != nil && !errors.Is(err, ErrInvalidTransition) {
		c.log.Error("mark video failed", slog.String("video_id", string(id)), slog.String("error", err.Error()))
	}
	return fmt.Errorf("%s: %w", message, cause)
}
