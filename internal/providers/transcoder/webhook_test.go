package transcoder

import (
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestWebhook(t *testing.T) *Webhook {
	t.Helper()
	wh, err := NewWebhook("whsec_"+base64.StdEncoding.EncodeToString([]byte("topsecret")), 5*time.Minute)
	require.NoError(t, err)
	return wh.WithClock(func() time.Time { return fixedNow })
}

func TestNewWebhook(t *testing.T) {
	_, err := NewWebhook("", 0)
	assert.Error(t, err)
	_, err = NewWebhook("whsec_!!!", 0)
	assert.Error(t, err)
	_, err = NewWebhook("raw-secret", 0)
	assert.NoError(t, err)
}

func TestUnwrap_valid(t *testing.T) {
	wh := newTestWebhook(t)
	body := []byte(`{"type":"job.completed","data":{"id":"job-1","status":"completed","metadata":{"videoId":"vid-1"},
		"outputs":[{"path":"jobs/abc/720p/master.m3u8","url":"https://t/m","mime_type":"application/vnd.apple.mpegurl"}]}}`)
	headers := wh.SignHeaders("msg-1", fixedNow, body)

	ev, err := wh.Unwrap(body, headers)
	require.NoError(t, err)
	assert.Equal(t, EventJobCompleted, ev.Type)
	assert.Equal(t, "job-1", ev.Data.ID)
	assert.Equal(t, "vid-1", ev.Data.Metadata[MetadataVideoID])
	require.Len(t, ev.Data.Outputs, 1)
}

func TestUnwrap_rejectsTampering(t *testing.T) {
	wh := newTestWebhook(t)
	body := []byte(`{"type":"job.failed","data":{"id":"job-1"}}`)
	headers := wh.SignHeaders("msg-1", fixedNow, body)

	_, err := wh.Unwrap([]byte(`{"type":"job.completed","data":{"id":"job-1"}}`), headers)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	stale := wh.SignHeaders("msg-1", fixedNow.Add(-time.Hour), body)
	_, err = wh.Unwrap(body, stale)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = wh.Unwrap(body, http.Header{})
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestUnwrap_keyRotation(t *testing.T) {
	wh := newTestWebhook(t)
	body := []byte(`{"type":"job.canceled","data":{"id":"job-1"}}`)
	headers := wh.SignHeaders("msg-1", fixedNow, body)
	headers.Set(HeaderSignature, "v1,AAAA "+headers.Get(HeaderSignature))

	_, err := wh.Unwrap(body, headers)
	assert.NoError(t, err)
}

func TestUnwrap_malformedAfterVerification(t *testing.T) {
	wh := newTestWebhook(t)
	body := []byte(`{"data":{}}`)
	_, err := wh.Unwrap(body, wh.SignHeaders("msg-1", fixedNow, body))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}
