package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"video-ingest/internal/platform/metrics"
)

// AttemptKind names which correlation key scopes a transition.
type AttemptKind string

const (
	AttemptUpload AttemptKind = "upload"
	AttemptAsset  AttemptKind = "asset"
	AttemptJob    AttemptKind = "job"
)

// Attempt identifies the provider-side unit of work an event belongs to.
// Events for any attempt other than the video's current one are stale.
type Attempt struct {
	Kind AttemptKind
	Ref  string
}

func (a Attempt) field() Field {
	switch a.Kind {
	case AttemptAsset:
		return FieldPlaybackID
	case AttemptJob:
		return FieldManifestKey
	default:
		return FieldNone
	}
}

// guard narrows cond to videos whose current attempt is a.
func (a Attempt) guard(cond Condition) Condition {
	ref := a.Ref
	switch a.Kind {
	case AttemptUpload:
		cond.UploadRef = &ref
	case AttemptAsset:
		cond.AssetRef = &ref
		cond.AssetRefMayBeUnset = true
	case AttemptJob:
		cond.TranscodeJobID = &ref
	}
	return cond
}

func (a Attempt) matches(v *Video) bool {
	return a.guard(Condition{}).Matches(v)
}

// Outcome classifies what a transition did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeStale     Outcome = "stale"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeTerminal  Outcome = "terminal"
)

// ReadyFields are the playback facts written by ApplyReady.
type ReadyFields struct {
	PlaybackID   string
	ManifestKey  string
	ThumbnailURL string
	Duration     float64
}

// Transitioner applies lifecycle changes to videos as atomic compare-and-set
// patches. Every method is safe to call concurrently for the same video.
type Transitioner struct {
	store   Store
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewTransitioner returns a Transitioner over store.
func NewTransitioner(store Store, log *slog.Logger, m *metrics.Metrics) *Transitioner {
	return &Transitioner{store: store, log: log, metrics: m}
}

// ApplyReady marks the video ready with fields. It is a no-op when attempt is
// not the video's current attempt (stale) or the video is already ready with
// the attempt's playback field set (duplicate).
func (t *Transitioner) ApplyReady(ctx context.Context, id VideoID, attempt Attempt, fields ReadyFields) (Outcome, error) {
	if attempt.Ref == "" || attempt.Kind == AttemptUpload {
		return "", fmt.Errorf("%w: ready requires an asset or job attempt", ErrInvalidTransition)
	}
	cond := attempt.guard(Condition{NotReadyWith: attempt.field()})

	patch := Patch{Status: ptr(StatusReady), ErrorMessage: ptr("")}
	if attempt.Kind == AttemptAsset {
		patch.AssetRef = ptr(attempt.Ref)
	}
	if fields.PlaybackID != "" {
		patch.PlaybackID = ptr(fields.PlaybackID)
	}
	if fields.ManifestKey != "" {
		patch.ManifestKey = ptr(fields.ManifestKey)
	}
	if fields.ThumbnailURL != "" {
		patch.ThumbnailURL = ptr(fields.ThumbnailURL)
	}
	if fields.Duration > 0 {
		patch.Duration = ptr(fields.Duration)
	}

	return t.apply(ctx, "ready", id, attempt, cond, patch)
}

// ApplyFailed marks the video failed with message. A ready video is never
// regressed, and a failure for a superseded attempt is ignored.
func (t *Transitioner) ApplyFailed(ctx context.Context, id VideoID, attempt Attempt, message string) (Outcome, error) {
	if attempt.Ref == "" {
		return "", fmt.Errorf("%w: failure requires an attempt", ErrInvalidTransition)
	}
	cond := attempt.guard(Condition{StatusNotIn: []Status{StatusReady}})
	patch := Patch{Status: ptr(StatusFailed), ErrorMessage: ptr(message)}
	return t.apply(ctx, "failed", id, attempt, cond, patch)
}

// AttachAsset records the asset created from an upload. The asset ref is set
// only if the video still belongs to uploadRef and has no other asset.
func (t *Transitioner) AttachAsset(ctx context.Context, id VideoID, uploadRef, assetRef string) (Outcome, error) {
	if uploadRef == "" || assetRef == "" {
		return "", fmt.Errorf("%w: attach requires upload and asset refs", ErrInvalidTransition)
	}
	upload := Attempt{Kind: AttemptUpload, Ref: uploadRef}
	cond := upload.guard(Condition{AssetRef: ptr(assetRef), AssetRefMayBeUnset: true})
	return t.apply(ctx, "attach_asset", id, upload, cond, Patch{AssetRef: ptr(assetRef)})
}

// SetUploadRef persists the upload slot issued for a video still uploading.
func (t *Transitioner) SetUploadRef(ctx context.Context, id VideoID, uploadRef string) error {
	_, applied, err := t.store.PatchIfMatches(ctx, id,
		Condition{StatusIn: []Status{StatusUploading}},
		Patch{UploadRef: ptr(uploadRef)})
	if err != nil {
		return err
	}
	if !applied {
		return t.rejected(ctx, id, "video is no longer uploading")
	}
	return nil
}

// MarkProcessing records the client's upload confirmation. Confirming twice
// is accepted; original facts are only written the first time. A video the
// primary provider already made ready keeps its status.
func (t *Transitioner) MarkProcessing(ctx context.Context, id VideoID, original OriginalAsset) (*Video, error) {
	v, applied, err := t.store.PatchIfMatches(ctx, id,
		Condition{StatusIn: []Status{StatusUploading, StatusProcessing, StatusReady}},
		Patch{PromoteUploading: true, Original: &original})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, t.rejected(ctx, id, "upload can only be confirmed while uploading")
	}
	t.metrics.ObserveTransition("processing", string(OutcomeApplied))
	return v, nil
}

// MarkFailed fails a video that has not reached a terminal state, used when
// no provider attempt exists yet to scope the failure.
func (t *Transitioner) MarkFailed(ctx context.Context, id VideoID, message string) error {
	_, applied, err := t.store.PatchIfMatches(ctx, id,
		Condition{StatusIn: []Status{StatusUploading, StatusProcessing}},
		Patch{Status: ptr(StatusFailed), ErrorMessage: ptr(message)})
	if err != nil {
		return err
	}
	if !applied {
		return t.rejected(ctx, id, "video already terminal")
	}
	t.metrics.ObserveTransition("failed", string(OutcomeApplied))
	return nil
}

// SupersedeJob makes jobID the live transcode job. Events for the previous
// job become stale; its manifest is cleared and a failed video reopens.
func (t *Transitioner) SupersedeJob(ctx context.Context, id VideoID, jobID string) (*Video, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: job id is required", ErrInvalidTransition)
	}
	v, applied, err := t.store.PatchIfMatches(ctx, id,
		Condition{StatusNotIn: []Status{StatusUploading}},
		Patch{TranscodeJobID: ptr(jobID), ManifestKey: ptr(""), ReopenFailed: true})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, t.rejected(ctx, id, "upload not confirmed")
	}
	t.metrics.ObserveTransition("supersede_job", string(OutcomeApplied))
	return v, nil
}

func (t *Transitioner) apply(ctx context.Context, name string, id VideoID, attempt Attempt, cond Condition, patch Patch) (Outcome, error) {
	_, applied, err := t.store.PatchIfMatches(ctx, id, cond, patch)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", name, id, err)
	}
	if applied {
		t.metrics.ObserveTransition(name, string(OutcomeApplied))
		t.log.Info("transition applied",
			slog.String("video_id", string(id)),
			slog.String("transition", name),
			slog.String("attempt", string(attempt.Kind)),
			slog.String("ref", attempt.Ref))
		return OutcomeApplied, nil
	}

	outcome, err := t.classify(ctx, id, attempt)
	if err != nil {
		return "", err
	}
	t.metrics.ObserveTransition(name, string(outcome))
	t.log.Info("transition skipped",
		slog.String("video_id", string(id)),
		slog.String("transition", name),
		slog.String("outcome", string(outcome)),
		slog.String("attempt", string(attempt.Kind)),
		slog.String("ref", attempt.Ref))
	return outcome, nil
}

// classify explains a rejected compare-and-set. It only reads; the decision
// was already made atomically by the store.
func (t *Transitioner) classify(ctx context.Context, id VideoID, attempt Attempt) (Outcome, error) {
	v, err := t.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	switch {
	case !attempt.matches(v):
		return OutcomeStale, nil
	case v.Status == StatusReady && attempt.field().value(v) != "":
		return OutcomeDuplicate, nil
	default:
		return OutcomeTerminal, nil
	}
}

func (t *Transitioner) rejected(ctx context.Context, id VideoID, reason string) error {
	v, err := t.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s (status %s)", ErrInvalidTransition, reason, v.Status)
}
