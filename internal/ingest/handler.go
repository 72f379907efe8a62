package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"video-ingest/internal/platform/metrics"
)

const maxWebhookBody = 1 << 20

// CreateVideoRequest is the body of POST /videos.
type CreateVideoRequest struct {
	Title             string `json:"title" validate:"required,max=200"`
	Filename          string `json:"filename" validate:"omitempty,max=255"`
	ContentType       string `json:"contentType" validate:"required,startswith=video/"`
	Size              int64  `json:"size" validate:"gte=0"`
	RequiresSecondary bool   `json:"requiresSecondary"`
}

// CreateVideoResponse is returned by POST /videos.
type CreateVideoResponse struct {
	VideoID        VideoID `json:"videoId"`
	UploadRef      string  `json:"uploadRef"`
	PutURL         string  `json:"putUrl"`
	OriginalPutURL string  `json:"originalPutUrl,omitempty"`
}

// ConfirmUploadRequest is the body of POST /videos/{id}/uploaded.
type ConfirmUploadRequest struct {
	Size        int64  `json:"size" validate:"gt=0"`
	ContentType string `json:"contentType" validate:"required"`
}

// VideoResponse is a video as returned by the API.
type VideoResponse struct {
	*Video
	PlaybackURL string `json:"playbackUrl,omitempty"`
}

type reencodeResponse struct {
	VideoID        VideoID `json:"videoId"`
	TranscodeJobID string  `json:"transcodeJobId"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Handler exposes the upload and webhook endpoints.
type Handler struct {
	coordinator *Coordinator
	store       Store
	streamhost  *Gateway
	transcoder  *Gateway
	validate    *validator.Validate
	log         *slog.Logger
	metrics     *metrics.Metrics
}

// NewHandler returns a Handler. Either gateway may be nil, in which case its
// route answers 404.
func NewHandler(c *Coordinator, store Store, streamhostGW, transcoderGW *Gateway, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		coordinator: c,
		store:       store,
		streamhost:  streamhostGW,
		transcoder:  transcoderGW,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		log:         log,
		metrics:     m,
	}
}

// Routes mounts the handler's endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/videos", func(r chi.Router) {
		r.Post("/", h.CreateVideo)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetVideo)
			r.Post("/uploaded", h.ConfirmUpload)
			r.Post("/reencode", h.Reencode)
		})
	})
	r.Post("/webhooks/streamhost", h.webhook(h.streamhost))
	r.Post("/webhooks/transcoder", h.webhook(h.transcoder))
}

// CreateVideo handles POST /videos.
func (h *Handler) CreateVideo(w http.ResponseWriter, r *http.Request) {
	var req CreateVideoRequest
	if !h.decode(w, r, &req) {
		return
	}

	v, err := h.coordinator.CreateVideo(r.Context(), NewVideo{Title: req.Title, RequiresSecondary: req.RequiresSecondary})
	if err != nil {
		h.log.Error("create video failed", slog.String("error", err.Error()))
		writeMessage(w, http.StatusInternalServerError, "could not create video")
		return
	}
	target, err := h.coordinator.BeginUpload(r.Context(), v, req.ContentType)
	if err != nil {
		writeMessage(w, http.StatusBadGateway, "could not obtain upload target")
		return
	}

	writeJSON(w, http.StatusCreated, CreateVideoResponse{
		VideoID:        v.ID,
		UploadRef:      target.UploadRef,
		PutURL:         target.PutURL,
		OriginalPutURL: target.OriginalPutURL,
	})
}

// GetVideo handles GET /videos/{id}.
func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	v, err := h.store.Get(r.Context(), VideoID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, "get video", err)
		return
	}
	writeJSON(w, http.StatusOK, h.present(v))
}

// ConfirmUpload handles POST /videos/{id}/uploaded.
func (h *Handler) ConfirmUpload(w http.ResponseWriter, r *http.Request) {
	var req ConfirmUploadRequest
	if !h.decode(w, r, &req) {
		return
	}
	v, err := h.coordinator.ConfirmUpload(r.Context(), VideoID(chi.URLParam(r, "id")), req.Size, req.ContentType)
	if err != nil {
		h.writeError(w, "confirm upload", err)
		return
	}
	writeJSON(w, http.StatusOK, h.present(v))
}

// Reencode handles POST /videos/{id}/reencode.
func (h *Handler) Reencode(w http.ResponseWriter, r *http.Request) {
	id := VideoID(chi.URLParam(r, "id"))
	jobID, err := h.coordinator.Resubmit(r.Context(), id)
	if err != nil {
		h.writeError(w, "reencode", err)
		return
	}
	writeJSON(w, http.StatusAccepted, reencodeResponse{VideoID: id, TranscodeJobID: jobID})
}

func (h *Handler) webhook(gw *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if gw == nil {
			writeMessage(w, http.StatusNotFound, "provider not configured")
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			h.log.Warn("webhook body rejected",
				slog.String("provider", string(gw.Provider())),
				slog.String("error", err.Error()))
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeMessage(w, http.StatusRequestEntityTooLarge, "body too large")
				return
			}
			writeMessage(w, http.StatusBadRequest, "could not read body")
			return
		}
		res := gw.Handle(r.Context(), body, r.Header)
		writeJSON(w, res.Status, res)
	}
}

func (h *Handler) present(v *Video) VideoResponse {
	return VideoResponse{Video: v, PlaybackURL: h.coordinator.PlaybackURL(v)}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.log.Debug("invalid request body", slog.String("error", err.Error()))
		writeMessage(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.log.Debug("request validation failed", slog.String("error", err.Error()))
		writeMessage(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrVideoNotFound):
		writeMessage(w, http.StatusNotFound, "video not found")
	case errors.Is(err, ErrInvalidTransition):
		writeMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrSecondaryUnavailable):
		writeMessage(w, http.StatusServiceUnavailable, "secondary encoding is not configured")
	default:
		h.log.Error(op+" failed", slog.String("error", err.Error()))
		writeMessage(w, http.StatusBadGateway, op+" failed")
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return "invalid field " + verrs[0].Field() + ": " + verrs[0].Tag()
	}
	return "invalid request"
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
