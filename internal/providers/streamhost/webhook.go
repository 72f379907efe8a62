package streamhost

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries "t=<unix seconds>,v1=<hex hmac>" where the HMAC is
// SHA-256 over "<t>.<raw body>" keyed with the webhook secret.
const SignatureHeader = "Streamhost-Signature"

// Webhook event types.
const (
	EventUploadAssetCreated = "video.upload.asset_created"
	EventUploadErrored      = "video.upload.errored"
	EventUploadCancelled    = "video.upload.cancelled"
	EventAssetReady         = "video.asset.ready"
	EventAssetErrored       = "video.asset.errored"
)

var (
	// ErrInvalidSignature is returned when the signature header is missing,
	// malformed, expired, or does not match the body.
	ErrInvalidSignature = errors.New("streamhost: invalid webhook signature")
	// ErrMalformedEvent is returned when a verified body cannot be decoded.
	ErrMalformedEvent = errors.New("streamhost: malformed webhook event")
)

// Verifier checks webhook signatures against a shared secret.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier returns a Verifier. A zero tolerance disables the timestamp
// freshness check.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// WithClock overrides the time source.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	if now != nil {
		v.now = now
	}
	return v
}

// Verify checks header against body.
func (v *Verifier) Verify(body []byte, header string) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: no secret configured", ErrInvalidSignature)
	}
	ts, sigs, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}
	if v.tolerance > 0 {
		age := v.now().Sub(time.Unix(ts, 0))
		if age > v.tolerance || age < -v.tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
		}
	}
	expected := computeSignature(v.secret, ts, body)
	for _, sig := range sigs {
		got, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Sign builds a signature header value for body at ts.
func Sign(secret string, ts time.Time, body []byte) string {
	unix := ts.Unix()
	return fmt.Sprintf("t=%d,v1=%s", unix, hex.EncodeToString(computeSignature([]byte(secret), unix, body)))
}

func computeSignature(secret []byte, ts int64, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

func parseSignatureHeader(header string) (int64, []string, error) {
	if strings.TrimSpace(header) == "" {
		return 0, nil, fmt.Errorf("%w: missing header", ErrInvalidSignature)
	}
	var (
		ts     int64
		haveTS bool
		sigs   []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
			}
			ts, haveTS = n, true
		case "v1":
			sigs = append(sigs, value)
		}
	}
	if !haveTS || len(sigs) == 0 {
		return 0, nil, fmt.Errorf("%w: incomplete header", ErrInvalidSignature)
	}
	return ts, sigs, nil
}

// Event is a verified webhook delivery. Data is decoded according to Type.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Object    EventObject     `json:"object"`
	Data      json.RawMessage `json:"data"`
}

// EventObject names the resource an event is about.
type EventObject struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ParseEvent decodes a verified body.
func ParseEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	return ev, nil
}

// Upload decodes Data as an upload.
func (e Event) Upload() (Upload, error) {
	var u Upload
	if err := json.Unmarshal(e.Data, &u); err != nil {
		return Upload{}, fmt.Errorf("%w: upload data: %v", ErrMalformedEvent, err)
	}
	return u, nil
}

// Asset decodes Data as an asset.
func (e Event) Asset() (Asset, error) {
	var a Asset
	if err := json.Unmarshal(e.Data, &a); err != nil {
		return Asset{}, fmt.Errorf("%w: asset data: %v", ErrMalformedEvent, err)
	}
	return a, nil
}
