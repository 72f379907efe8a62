// Package transcoder is a client for the secondary provider: a job based
// encoder that pulls a source from a URL and writes a set of output files.
package transcoder

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
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 4 << 10
	maxOutputPages = 100
)

// Metadata keys echoed back on job webhooks.
const (
	MetadataVideoID       = "videoId"
	MetadataDirectStorage = "directStorage"
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the provider's REST API. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
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
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httpClient,
	}
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("transcoder: unexpected status %d: %s", e.StatusCode, e.Body)
}

// SourceParams creates a source the provider pulls from URL.
type SourceParams struct {
	URL      string            `json:"url"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Source is a pulled input.
type Source struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// OutputProfile describes one rendition the job produces.
type OutputProfile struct {
	Name            string `json:"name"`
	Format          string `json:"format"`
	VideoCodec      string `json:"video_codec"`
	Height          int    `json:"height"`
	SegmentDuration int    `json:"segment_duration"`
	Fragmented      bool   `json:"fragmented"`
}

// Destination directs outputs into a caller-owned bucket instead of the
// provider's transient storage.
type Destination struct {
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix"`
}

// JobParams creates a transcode job.
type JobParams struct {
	SourceID    string            `json:"source_id"`
	Outputs     []OutputProfile   `json:"outputs"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Destination *Destination      `json:"destination,omitempty"`
}

// OutputFile is one file a finished job produced.
type OutputFile struct {
	Path     string  `json:"path"`
	URL      string  `json:"url"`
	MimeType string  `json:"mime_type"`
	Size     int64   `json:"size"`
	Duration float64 `json:"duration,omitempty"`
}

// JobError describes why a job failed.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Job is a transcode job.
type Job struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	SourceID string            `json:"source_id"`
	Metadata map[string]string `json:"metadata"`
	Outputs  []OutputFile      `json:"outputs,omitempty"`
	Error    *JobError         `json:"error,omitempty"`
}

// ErrorMessage returns the job's failure message, if any.
func (j Job) ErrorMessage() string {
	if j.Error == nil {
		return ""
	}
	if j.Error.Message != "" {
		return j.Error.Message
	}
	return j.Error.Code
}

// CreateSource registers a pullable source.
func (c *Client) CreateSource(ctx context.Context, p SourceParams) (Source, error) {
	if p.URL == "" {
		return Source{}, fmt.Errorf("create source: url is required")
	}
	var out Source
	if err := c.do(ctx, http.MethodPost, "/sources", p, &out); err != nil {
		return Source{}, fmt.Errorf("create source: %w", err)
	}
	if out.ID == "" {
		return Source{}, fmt.Errorf("create source: response missing id")
	}
	return out, nil
}

// CreateJob submits a transcode job against a source.
func (c *Client) CreateJob(ctx context.Context, p JobParams) (Job, error) {
	if p.SourceID == "" {
		return Job{}, fmt.Errorf("create job: source id is required")
	}
	var out Job
	if err := c.do(ctx, http.MethodPost, "/jobs", p, &out); err != nil {
		return Job{}, fmt.Errorf("create job: %w", err)
	}
	if out.ID == "" {
		return Job{}, fmt.Errorf("create job: response missing id")
	}
	return out, nil
}

type outputPage struct {
	Data       []OutputFile `json:"data"`
	NextCursor string       `json:"next_cursor"`
}

// ListOutputFiles returns every output file of a job, following pagination.
func (c *Client) ListOutputFiles(ctx context.Context, jobID string) ([]OutputFile, error) {
	if jobID == "" {
		return nil, fmt.Errorf("list outputs: job id is required")
	}
	var (
		files  []OutputFile
		cursor string
	)
	for page := 0; page < maxOutputPages; page++ {
		path := "/jobs/" + url.PathEscape(jobID) + "/outputs"
		if cursor != "" {
			path += "?cursor=" + url.QueryEscape(cursor)
		}
		var out outputPage
		if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
			return nil, fmt.Errorf("list outputs %s: %w", jobID, err)
		}
		files = append(files, out.Data...)
		if out.NextCursor == "" {
			return files, nil
		}
		cursor = out.NextCursor
	}
	return nil, fmt.Errorf("list outputs %s: too many pages", jobID)
}

// DeleteOutputs removes a job's files from the provider's transient storage.
func (c *Client) DeleteOutputs(ctx context.Context, jobID string) error {
	if err := c.do(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(jobID)+"/outputs", nil, nil); err != nil {
		return fmt.Errorf("delete outputs %s: %w", jobID, err)
	}
	return nil
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
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
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
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
