// Package streamhost is a client for the primary provider: a hosted video
// platform that accepts direct uploads and serves ready-made playback streams.
package streamhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultImageBaseURL = "https://image.streamhost.example"
	defaultStreamURL    = "https://stream.streamhost.example"
	maxErrorBody        = 4 << 10
)

// Config configures a Client.
type Config struct {
	BaseURL      string
	TokenID      string
	TokenSecret  string
	ImageBaseURL string
	StreamURL    string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Client talks to the provider's REST API. It is safe for concurrent use.
type Client struct {
	baseURL      string
	tokenID      string
	tokenSecret  string
	imageBaseURL string
	streamURL    string
	http         *http.Client
}

// New returns a Client for cfg.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	imageBase := strings.TrimRight(cfg.ImageBaseURL, "/")
	if imageBase == "" {
		imageBase = defaultImageBaseURL
	}
	streamURL := strings.TrimRight(cfg.StreamURL, "/")
	if streamURL == "" {
		streamURL = defaultStreamURL
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		tokenID:      cfg.TokenID,
		tokenSecret:  cfg.TokenSecret,
		imageBaseURL: imageBase,
		streamURL:    streamURL,
		http:         httpClient,
	}
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("streamhost: unexpected status %d: %s", e.StatusCode, e.Body)
}

// CreateUploadParams describes a direct upload slot.
type CreateUploadParams struct {
	// Passthrough is echoed back on every webhook for the upload and its asset.
	Passthrough string
	CORSOrigin  string
	Test        bool
}

// Upload is a direct upload slot.
type Upload struct {
	ID      string       `json:"id"`
	URL     string       `json:"url"`
	Status  string       `json:"status"`
	AssetID string       `json:"asset_id,omitempty"`
	Error   *UploadError `json:"error,omitempty"`

	NewAssetSettings struct {
		Passthrough string `json:"passthrough,omitempty"`
	} `json:"new_asset_settings"`
}

// UploadError describes why an upload failed.
type UploadError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PlaybackID is a public or signed handle for an asset's stream.
type PlaybackID struct {
	ID     string `json:"id"`
	Policy string `json:"policy"`
}

// Asset is an ingested video.
type Asset struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	Duration    float64      `json:"duration"`
	PlaybackIDs []PlaybackID `json:"playback_ids"`
	Passthrough string       `json:"passthrough"`
	UploadID    string       `json:"upload_id"`
	Errors      *AssetErrors `json:"errors,omitempty"`
}

// AssetErrors describes why an asset failed.
type AssetErrors struct {
	Type     string   `json:"type"`
	Messages []string `json:"messages"`
}

// PublicPlaybackID returns the first public playback id, falling back to the
// first id of any policy.
func (a Asset) PublicPlaybackID() string {
	for _, p := range a.PlaybackIDs {
		if p.Policy == "public" {
			return p.ID
		}
	}
	if len(a.PlaybackIDs) > 0 {
		return a.PlaybackIDs[0].ID
	}
	return ""
}

// ErrorMessage flattens Errors into a single message.
func (a Asset) ErrorMessage() string {
	if a.Errors == nil {
		return ""
	}
	msg := strings.Join(a.Errors.Messages, "; ")
	if msg == "" {
		return a.Errors.Type
	}
	return msg
}

type envelope[T any] struct {
	Data T `json:"data"`
}

// CreateDirectUpload opens a direct upload slot whose asset will carry
// p.Passthrough.
func (c *Client) CreateDirectUpload(ctx context.Context, p CreateUploadParams) (Upload, error) {
	body := map[string]any{
		"cors_origin": p.CORSOrigin,
		"test":        p.Test,
		"new_asset_settings": map[string]any{
			"playback_policy": []string{"public"},
			"passthrough":     p.Passthrough,
		},
	}
	var out envelope[Upload]
	if err := c.do(ctx, http.MethodPost, "/video/uploads", body, &out); err != nil {
		return Upload{}, fmt.Errorf("create direct upload: %w", err)
	}
	if out.Data.ID == "" || out.Data.URL == "" {
		return Upload{}, fmt.Errorf("create direct upload: response missing id or url")
	}
	return out.Data, nil
}

// GetAsset retrieves an asset by id.
func (c *Client) GetAsset(ctx context.Context, assetID string) (Asset, error) {
	if assetID == "" {
		return Asset{}, fmt.Errorf("get asset: id is required")
	}
	var out envelope[Asset]
	if err := c.do(ctx, http.MethodGet, "/video/assets/"+url.PathEscape(assetID), nil, &out); err != nil {
		return Asset{}, fmt.Errorf("get asset %s: %w", assetID, err)
	}
	return out.Data, nil
}

// ThumbnailURL returns the poster image for a playback id.
func (c *Client) ThumbnailURL(playbackID string) string {
	if playbackID == "" {
		return ""
	}
	return c.imageBaseURL + "/" + url.PathEscape(playbackID) + "/thumbnail.jpg"
}

// PlaybackURL returns the HLS URL for a playback id.
func (c *Client) PlaybackURL(playbackID string) string {
	if playbackID == "" {
		return ""
	}
	return c.streamURL + "/" + url.PathEscape(playbackID) + ".m3u8"
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.tokenID, c.tokenSecret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
