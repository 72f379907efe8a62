package transcoder

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Signature headers. The signature is "v1,<base64 hmac>" over
// "<id>.<timestamp>.<raw body>"; several space-separated signatures may be
// present during key rotation.
const (
	HeaderID        = "Webhook-Id"
	HeaderTimestamp = "Webhook-Timestamp"
	HeaderSignature = "Webhook-Signature"

	secretPrefix = "whsec_"
)

// Webhook event types.
const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
	EventJobCanceled  = "job.canceled"
)

var (
	// ErrInvalidSignature is returned when verification fails.
	ErrInvalidSignature = errors.New("transcoder: invalid webhook signature")
	// ErrMalformedEvent is returned when a verified body cannot be decoded.
	ErrMalformedEvent = errors.New("transcoder: malformed webhook event")
)

// Webhook verifies and decodes deliveries in one step.
type Webhook struct {
	key       []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewWebhook accepts a "whsec_" prefixed base64 key or a raw secret.
func NewWebhook(secret string, tolerance time.Duration) (*Webhook, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("transcoder: webhook secret is required")
	}
	key := []byte(secret)
	if strings.HasPrefix(secret, secretPrefix) {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, secretPrefix))
		if err != nil {
			return nil, fmt.Errorf("transcoder: decode webhook secret: %w", err)
		}
		key = decoded
	}
	return &Webhook{key: key, tolerance: tolerance, now: time.Now}, nil
}

// WithClock overrides the time source.
func (w *Webhook) WithClock(now func() time.Time) *Webhook {
	if now != nil {
		w.now = now
	}
	return w
}

// Event is a verified delivery.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      Job       `json:"data"`
}

// Unwrap verifies body against headers and decodes it. Verification failures
// wrap ErrInvalidSignature; decoding failures wrap ErrMalformedEvent.
func (w *Webhook) Unwrap(body []byte, headers http.Header) (Event, error) {
	if err := w.Verify(body, headers); err != nil {
		return Event{}, err
	}
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	return ev, nil
}

// Verify checks the signature headers without decoding.
func (w *Webhook) Verify(body []byte, headers http.Header) error {
	msgID := headers.Get(HeaderID)
	tsRaw := headers.Get(HeaderTimestamp)
	sigHeader := headers.Get(HeaderSignature)
	if msgID == "" || tsRaw == "" || sigHeader == "" {
		return fmt.Errorf("%w: missing headers", ErrInvalidSignature)
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	if w.tolerance > 0 {
		age := w.now().Sub(time.Unix(ts, 0))
		if age > w.tolerance || age < -w.tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
		}
	}

	expected := w.sign(msgID, ts, body)
	for _, candidate := range strings.Fields(sigHeader) {
		version, sig, ok := strings.Cut(candidate, ",")
		if !ok || version != "v1" {
			continue
		}
		got, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// SignHeaders returns headers that Unwrap accepts for body.
func (w *Webhook) SignHeaders(msgID string, ts time.Time, body []byte) http.Header {
	h := http.Header{}
	h.Set(HeaderID, msgID)
	h.Set(HeaderTimestamp, strconv.FormatInt(ts.Unix(), 10))
	h.Set(HeaderSignature, "v1,"+base64.StdEncoding.EncodeToString(w.sign(msgID, ts.Unix(), body)))
	return h
}

func (w *Webhook) sign(msgID string, ts int64, body []byte) []byte {
	mac := hmac.New(sha256.New, w.key)
	mac.Write([]byte(msgID))
	mac.Write([]byte("."))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}
