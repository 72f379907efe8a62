package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"video-ingest/internal/platform/metrics"
)

// genericFailureMessage is shown to users when processing a provider event
// failed for a reason other than a known materialization problem.
const genericFailureMessage = "video processing failed; please try uploading again"

const defaultCleanupTimeout = 2 * time.Minute

// Disposition classifies how an event was handled.
type Disposition string

const (
	DispositionApplied    Disposition = "applied"
	DispositionStale      Disposition = "stale"
	DispositionDuplicate  Disposition = "duplicate"
	DispositionTerminal   Disposition = "terminal"
	DispositionUnresolved Disposition = "unresolved"
)

func dispositionFor(o Outcome) Disposition {
	switch o {
	case OutcomeApplied:
		return DispositionApplied
	case OutcomeStale:
		return DispositionStale
	case OutcomeDuplicate:
		return DispositionDuplicate
	default:
		return DispositionTerminal
	}
}

// Reconciler applies canonical events to videos.
type Reconciler struct {
	store        Store
	resolver     *Resolver
	tx           *Transitioner
	materializer *Materializer
	primary      PrimaryProvider
	secondary    SecondaryProvider
	log          *slog.Logger
	metrics      *metrics.Metrics

	cleanupTimeout time.Duration
	// cleanupDone, when set, is called after each background cleanup.
	cleanupDone func()
}

// NewReconciler wires a Reconciler. primary or secondary may be nil when the
// corresponding provider is not in use.
func NewReconciler(store Store, resolver *Resolver, tx *Transitioner, materializer *Materializer,
	primary PrimaryProvider, secondary SecondaryProvider, log *slog.Logger, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		store:          store,
		resolver:       resolver,
		tx:             tx,
		materializer:   materializer,
		primary:        primary,
		secondary:      secondary,
		log:            log,
		metrics:        m,
		cleanupTimeout: defaultCleanupTimeout,
	}
}

// Process resolves ev to a video and applies it. A non-nil error means the
// event should be redelivered; the video has then already been marked failed
// where the failure guards allow.
func (r *Reconciler) Process(ctx context.Context, ev Event) (d Disposition, err error) {
	var resolved VideoID
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic processing %s event: %v", ev.Type, p)
			d = ""
			if resolved != "" {
				r.failAfterError(ctx, resolved, ev, err, r.log.With(slog.String("video_id", string(resolved))))
			} else {
				r.log.Error("event processing panicked", slog.String("error", err.Error()))
			}
		}
	}()

	res, ok, err := r.resolver.Resolve(ctx, ev)
	if err != nil {
		return "", err
	}
	if !ok {
		r.logUnresolved(ev)
		return DispositionUnresolved, nil
	}

	resolved = res.VideoID
	log := r.log.With(
		slog.String("video_id", string(res.VideoID)),
		slog.String("resolved_by", res.Strategy),
		slog.String("provider", string(ev.Provider)),
		slog.String("event_type", string(ev.Type)))

	outcome, err := r.apply(ctx, res.VideoID, ev, log)
	if errors.Is(err, ErrVideoNotFound) {
		r.logUnresolved(ev)
		return DispositionUnresolved, nil
	}
	if err != nil {
		r.failAfterError(ctx, res.VideoID, ev, err, log)
		return "", err
	}
	return dispositionFor(outcome), nil
}

func (r *Reconciler) apply(ctx context.Context, id VideoID, ev Event, log *slog.Logger) (Outcome, error) {
	switch ev.Type {
	case EventUploadAssetCreated:
		return r.tx.AttachAsset(ctx, id, ev.IDs.UploadRef, ev.IDs.AssetRef)
	case EventUploadFailed:
		return r.tx.ApplyFailed(ctx, id, Attempt{Kind: AttemptUpload, Ref: ev.IDs.UploadRef}, failureMessage(ev, "upload failed"))
	case EventAssetReady:
		return r.applyAssetReady(ctx, id, ev)
	case EventAssetFailed:
		return r.tx.ApplyFailed(ctx, id, Attempt{Kind: AttemptAsset, Ref: ev.IDs.AssetRef}, failureMessage(ev, "asset processing failed"))
	case EventJobCompleted:
		return r.applyJobCompleted(ctx, id, ev, log)
	case EventJobFailed:
		return r.tx.ApplyFailed(ctx, id, Attempt{Kind: AttemptJob, Ref: ev.IDs.JobID}, failureMessage(ev, "encoding job failed"))
	default:
		return "", fmt.Errorf("unsupported event type %q", ev.Type)
	}
}

func (r *Reconciler) applyAssetReady(ctx context.Context, id VideoID, ev Event) (Outcome, error) {
	playbackID, duration := ev.PlaybackID, ev.Duration
	if playbackID == "" {
		if r.primary == nil {
			return "", fmt.Errorf("asset %s ready without playback id", ev.IDs.AssetRef)
		}
		asset, err := r.primary.GetAsset(ctx, ev.IDs.AssetRef)
		if err != nil {
			return "", err
		}
		playbackID = asset.PublicPlaybackID()
		if duration <= 0 {
			duration = asset.Duration
		}
		if playbackID == "" {
			return "", fmt.Errorf("asset %s has no playback id", ev.IDs.AssetRef)
		}
	}
	fields := ReadyFields{PlaybackID: playbackID, Duration: duration}
	if r.primary != nil {
		fields.ThumbnailURL = r.primary.ThumbnailURL(playbackID)
	}
	return r.tx.ApplyReady(ctx, id, Attempt{Kind: AttemptAsset, Ref: ev.IDs.AssetRef}, fields)
}

func (r *Reconciler) applyJobCompleted(ctx context.Context, id VideoID, ev Event, log *slog.Logger) (Outcome, error) {
	attempt := Attempt{Kind: AttemptJob, Ref: ev.IDs.JobID}

	// Skip the copy for events the transition would reject anyway; the
	// compare-and-set below remains the authority.
	v, err := r.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !attempt.matches(v) {
		r.metrics.ObserveTransition("ready", string(OutcomeStale))
		log.Info("stale job event ignored", slog.String("job_id", ev.IDs.JobID), slog.String("live_job_id", v.TranscodeJobID))
		return OutcomeStale, nil
	}
	if v.Status == StatusReady && v.ManifestKey != "" {
		r.metrics.ObserveTransition("ready", string(OutcomeDuplicate))
		log.Info("duplicate job completion ignored", slog.String("job_id", ev.IDs.JobID))
		return OutcomeDuplicate, nil
	}

	outputs := ev.Outputs
	if len(outputs) == 0 && r.secondary != nil {
		files, err := r.secondary.ListOutputFiles(ctx, ev.IDs.JobID)
		if err != nil {
			return "", err
		}
		outputs = outputFilesFromTranscoder(files)
	}

	m, err := r.materializer.Materialize(ctx, id, outputs, ev.DirectStorage)
	if err != nil {
		return "", &MaterializeError{JobID: ev.IDs.JobID, Err: err}
	}

	outcome, err := r.tx.ApplyReady(ctx, id, attempt, ReadyFields{ManifestKey: m.ManifestKey, Duration: m.Duration})
	if err != nil {
		return "", err
	}
	if outcome != OutcomeApplied {
		log.Info("materialized outputs not applied",
			slog.String("job_id", ev.IDs.JobID),
			slog.String("outcome", string(outcome)),
			slog.Int("files", len(m.Keys)))
		return outcome, nil
	}
	if !m.Direct {
		r.cleanup(ev.IDs.JobID, log)
	}
	return outcome, nil
}

// MaterializeError wraps a failure to relocate a job's outputs.
type MaterializeError struct {
	JobID string
	Err   error
}

func (e *MaterializeError) Error() string {
	return fmt.Sprintf("materialize job %s: %v", e.JobID, e.Err)
}

func (e *MaterializeError) Unwrap() error { return e.Err }

// userMessage is the failure text stored on the video.
func (e *MaterializeError) userMessage() string {
	switch {
	case errors.Is(e.Err, ErrManifestNotFound):
		return "encoding finished without a playable manifest"
	case errors.Is(e.Err, ErrUnexpectedDirectPath):
		return "encoding output was written to an unexpected location"
	case errors.Is(e.Err, ErrNoOutputs):
		return "encoding finished without output files"
	default:
		return "could not copy encoded video to storage"
	}
}

// failAfterError marks the video failed for a recognized event whose
// processing errored, scoped to the event's attempt so stale and terminal
// guards still apply.
func (r *Reconciler) failAfterError(ctx context.Context, id VideoID, ev Event, cause error, log *slog.Logger) {
	message := genericFailureMessage
	var merr *MaterializeError
	if errors.As(cause, &merr) {
		message = merr.userMessage()
	}
	log.Error("event processing failed", slog.String("error", cause.Error()))

	attempt, ok := attemptFor(ev)
	if !ok {
		return
	}
	if _, err := r.tx.ApplyFailed(ctx, id, attempt, message); err != nil {
		log.Error("mark video failed", slog.String("error", err.Error()))
	}
}

func attemptFor(ev Event) (Attempt, bool) {
	switch {
	case ev.IDs.JobID != "":
		return Attempt{Kind: AttemptJob, Ref: ev.IDs.JobID}, true
	case ev.IDs.AssetRef != "":
		return Attempt{Kind: AttemptAsset, Ref: ev.IDs.AssetRef}, true
	case ev.IDs.UploadRef != "":
		return Attempt{Kind: AttemptUpload, Ref: ev.IDs.UploadRef}, true
	default:
		return Attempt{}, false
	}
}

// cleanup deletes a job's transient outputs in the background. Its result
// never affects the transition.
func (r *Reconciler) cleanup(jobID string, log *slog.Logger) {
	if r.secondary == nil {
		return
	}
	go func() {
		if r.cleanupDone != nil {
			defer r.cleanupDone()
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.cleanupTimeout)
		defer cancel()
		if err := r.secondary.DeleteOutputs(ctx, jobID); err != nil {
			log.Warn("transient output cleanup failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
		}
	}()
}

func (r *Reconciler) logUnresolved(ev Event) {
	r.log.Error("webhook event matches no video; dropping",
		slog.String("provider", string(ev.Provider)),
		slog.String("event_type", string(ev.Type)),
		slog.String("upload_ref", ev.IDs.UploadRef),
		slog.String("asset_ref", ev.IDs.AssetRef),
		slog.String("job_id", ev.IDs.JobID),
		slog.String("passthrough_id", ev.IDs.PassthroughID))
}

func failureMessage(ev Event, fallback string) string {
	if ev.Error != "" {
		return ev.Error
	}
	return fallback
}
