package ingest

import "time"

// VideoID uniquely identifies a video.
type VideoID string

// Status is the ingestion lifecycle state of a video.
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// OriginalAsset describes the raw uploaded bytes. It is set once when the
// client confirms the upload and never cleared.
type OriginalAsset struct {
	Key         string `json:"key,omitempty"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

// IsZero reports whether the original asset facts were never recorded.
func (o OriginalAsset) IsZero() bool {
	return o.Key == "" && o.Size == 0 && o.ContentType == ""
}

// Video is the aggregate root of the ingest subsystem.
type Video struct {
	ID     VideoID `json:"id"`
	Title  string  `json:"title"`
	Status Status  `json:"status"`

	// Correlation keys, learned in this order.
	UploadRef      string `json:"uploadRef,omitempty"`
	AssetRef       string `json:"assetRef,omitempty"`
	TranscodeJobID string `json:"transcodeJobId,omitempty"`

	// Playback facts, populated when Status is ready.
	PlaybackID   string  `json:"playbackId,omitempty"`
	ManifestKey  string  `json:"manifestKey,omitempty"`
	Duration     float64 `json:"duration,omitempty"`
	ThumbnailURL string  `json:"thumbnailUrl,omitempty"`

	Original          OriginalAsset `json:"original"`
	RequiresSecondary bool          `json:"requiresSecondary"`

	ErrorMessage string `json:"errorMessage,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Provider names the transcoding provider an event came from.
type Provider string

const (
	ProviderStreamhost Provider = "streamhost"
	ProviderTranscoder Provider = "transcoder"
)

// EventType is the provider-agnostic kind of a webhook event.
type EventType string

const (
	EventUploadAssetCreated EventType = "upload.asset_created"
	EventUploadFailed       EventType = "upload.failed"
	EventAssetReady         EventType = "asset.ready"
	EventAssetFailed        EventType = "asset.failed"
	EventJobCompleted       EventType = "job.completed"
	EventJobFailed          EventType = "job.failed"
)

// EventIDs are the correlation identifiers an event may carry.
type EventIDs struct {
	UploadRef     string
	AssetRef      string
	JobID         string
	PassthroughID string
}

// OutputFile is one file of a job's output set.
type OutputFile struct {
	Path     string
	URL      string
	MimeType string
	Size     int64
	Duration float64
}

// Event is the canonical decoded webhook. Nothing downstream of the gateways
// sees raw provider JSON.
type Event struct {
	Provider Provider
	Type     EventType
	IDs      EventIDs
	Outputs  []OutputFile
	Error    string

	// Hosted stream facts carried by asset events.
	PlaybackID string
	Duration   float64

	// DirectStorage is set when the job wrote outputs straight into our bucket.
	DirectStorage bool
}
