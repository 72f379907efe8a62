package ingest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"video-ingest/internal/platform/metrics"
	"video-ingest/internal/providers/streamhost"
	"video-ingest/internal/providers/transcoder"
)

// Result is what a webhook endpoint answers the provider with.
type Result struct {
	Status  int    `json:"-"`
	Message string `json:"message"`
}

// decodeFunc verifies a delivery and maps it to a canonical event. ok is
// false for event types the service does not handle.
type decodeFunc func(body []byte, headers http.Header) (ev Event, ok bool, err error)

// Gateway authenticates one provider's webhook deliveries and hands the
// decoded events to the reconciler.
type Gateway struct {
	provider   Provider
	decode     decodeFunc
	reconciler *Reconciler
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// NewStreamhostGateway verifies the HMAC signature header before decoding.
func NewStreamhostGateway(v *streamhost.Verifier, rec *Reconciler, log *slog.Logger, m *metrics.Metrics) *Gateway {
	decode := func(body []byte, headers http.Header) (Event, bool, error) {
		if err := v.Verify(body, headers.Get(streamhost.SignatureHeader)); err != nil {
			return Event{}, false, err
		}
		raw, err := streamhost.ParseEvent(body)
		if err != nil {
			return Event{}, false, err
		}
		return streamhostEvent(raw)
	}
	return &Gateway{provider: ProviderStreamhost, decode: decode, reconciler: rec, log: log, metrics: m}
}

// NewTranscoderGateway verifies and decodes in one unwrap step.
func NewTranscoderGateway(w *transcoder.Webhook, rec *Reconciler, log *slog.Logger, m *metrics.Metrics) *Gateway {
	decode := func(body []byte, headers http.Header) (Event, bool, error) {
		raw, err := w.Unwrap(body, headers)
		if err != nil {
			return Event{}, false, err
		}
		ev, ok := transcoderEvent(raw)
		return ev, ok, nil
	}
	return &Gateway{provider: ProviderTranscoder, decode: decode, reconciler: rec, log: log, metrics: m}
}

// Provider returns the provider this gateway serves.
func (g *Gateway) Provider() Provider { return g.provider }

// Handle authenticates, decodes and processes one delivery.
func (g *Gateway) Handle(ctx context.Context, body []byte, headers http.Header) Result {
	ev, ok, err := g.decode(body, headers)
	switch {
	case errors.Is(err, streamhost.ErrInvalidSignature), errors.Is(err, transcoder.ErrInvalidSignature):
		g.log.Warn("webhook signature rejected", slog.String("provider", string(g.provider)), slog.String("error", err.Error()))
		return g.result("unauthorized", http.StatusUnauthorized, "invalid signature")
	case err != nil:
		g.log.Warn("malformed webhook", slog.String("provider", string(g.provider)), slog.String("error", err.Error()))
		return g.result("malformed", http.StatusBadRequest, "malformed event")
	case !ok:
		g.log.Debug("webhook event type ignored", slog.String("provider", string(g.provider)))
		return g.result("ignored", http.StatusOK, "ignored")
	}

	disposition, err := g.reconciler.Process(ctx, ev)
	if err != nil {
		return g.result("error", http.StatusInternalServerError, "processing failed")
	}
	return g.result(string(disposition), http.StatusOK, string(disposition))
}

func (g *Gateway) result(outcome string, status int, message string) Result {
	g.metrics.ObserveWebhook(string(g.provider), outcome)
	return Result{Status: status, Message: message}
}

func streamhostEvent(raw streamhost.Event) (Event, bool, error) {
	ev := Event{Provider: ProviderStreamhost}
	switch raw.Type {
	case streamhost.EventUploadAssetCreated, streamhost.EventUploadErrored, streamhost.EventUploadCancelled:
		u, err := raw.Upload()
		if err != nil {
			return Event{}, false, err
		}
		if u.ID == "" {
			u.ID = raw.Object.ID
		}
		ev.IDs = EventIDs{UploadRef: u.ID, AssetRef: u.AssetID, PassthroughID: u.NewAssetSettings.Passthrough}
		switch raw.Type {
		case streamhost.EventUploadAssetCreated:
			ev.Type = EventUploadAssetCreated
		case streamhost.EventUploadErrored:
			ev.Type = EventUploadFailed
			if u.Error != nil {
				ev.Error = u.Error.Message
			}
		default:
			ev.Type = EventUploadFailed
			ev.Error = "upload was cancelled"
		}
	case streamhost.EventAssetReady, streamhost.EventAssetErrored:
		a, err := raw.Asset()
		if err != nil {
			return Event{}, false, err
		}
		if a.ID == "" {
			a.ID = raw.Object.ID
		}
		ev.IDs = EventIDs{UploadRef: a.UploadID, AssetRef: a.ID, PassthroughID: a.Passthrough}
		if raw.Type == streamhost.EventAssetReady {
			ev.Type = EventAssetReady
			ev.PlaybackID = a.PublicPlaybackID()
			ev.Duration = a.Duration
		} else {
			ev.Type = EventAssetFailed
			ev.Error = a.ErrorMessage()
		}
	default:
		return Event{}, false, nil
	}
	return ev, true, nil
}

func transcoderEvent(raw transcoder.Event) (Event, bool) {
	job := raw.Data
	ev := Event{
		Provider: ProviderTranscoder,
		IDs:      EventIDs{JobID: job.ID, PassthroughID: job.Metadata[transcoder.MetadataVideoID]},
	}
	switch raw.Type {
	case transcoder.EventJobCompleted:
		ev.Type = EventJobCompleted
		ev.Outputs = outputFilesFromTranscoder(job.Outputs)
		ev.DirectStorage, _ = strconv.ParseBool(job.Metadata[transcoder.MetadataDirectStorage])
	case transcoder.EventJobFailed:
		ev.Type = EventJobFailed
		ev.Error = job.ErrorMessage()
	case transcoder.EventJobCanceled:
		ev.Type = EventJobFailed
		ev.Error = job.ErrorMessage()
		if ev.Error == "" {
			ev.Error = "encoding job was canceled"
		}
	default:
		return Event{}, false
	}
	return ev, true
}
