package ingest

import "errors"

var (
	// ErrVideoNotFound is returned when no video matches an id or key.
	ErrVideoNotFound = errors.New("video not found")

	// ErrVideoExists is returned when creating a video whose id is taken.
	ErrVideoExists = errors.New("video already exists")

	// ErrInvalidTransition is returned when a lifecycle step is requested
	// from a state that does not allow it.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrManifestNotFound is returned when a completed job has no
	// discoverable manifest.
	ErrManifestNotFound = errors.New("no manifest in job outputs")

	// ErrUnexpectedDirectPath is returned when a direct-storage job wrote its
	// manifest outside the expected destination prefix.
	ErrUnexpectedDirectPath = errors.New("direct-storage manifest outside destination prefix")

	// ErrNoOutputs is returned when a completed job reports no files.
	ErrNoOutputs = errors.New("job reported no output files")

	// ErrSecondaryUnavailable is returned when secondary encoding is
	// requested but no secondary provider is configured.
	ErrSecondaryUnavailable = errors.New("secondary provider not configured")
)
