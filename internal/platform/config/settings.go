package config

import "time"

// Settings is the fully resolved service configuration.
type Settings struct {
	Port      string
	LogLevel  string
	LogFormat string

	DatabaseURL string
	DBMaxConns  int

	Storage StorageSettings

	Streamhost StreamhostSettings
	Transcoder TranscoderSettings

	PlaybackProfile  string
	HTTPTimeout      time.Duration
	DownloadTimeout  time.Duration
	UploadTimeout    time.Duration
	CopyConcurrency  int
	SignedURLTTL     time.Duration
	WebhookTolerance time.Duration
}

// StorageSettings selects and configures the durable object store.
type StorageSettings struct {
	Backend  string // s3, gcs or memory
	Bucket   string
	Region   string
	Endpoint string
}

// StreamhostSettings configures the primary (hosted stream) provider.
type StreamhostSettings struct {
	BaseURL       string
	TokenID       string
	TokenSecret   string
	WebhookSecret string
	CORSOrigin    string
	// TestUploads creates uploads in the provider's free test mode.
	TestUploads bool
}

// TranscoderSettings configures the secondary (job based) provider.
type TranscoderSettings struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	DirectStorage bool
}

// FromEnv resolves Settings from the environment using defaults for anything
// unset.
func FromEnv() Settings {
	return Settings{
		Port:        GetEnv("PORT", "8080"),
		LogLevel:    GetEnv("LOG_LEVEL", "info"),
		LogFormat:   GetEnv("LOG_FORMAT", "json"),
		DatabaseURL: GetEnv("DATABASE_URL", ""),
		DBMaxConns:  GetEnvInt("DB_MAX_CONNS", 10),
		Storage: StorageSettings{
			Backend:  GetEnv("STORAGE_BACKEND", "memory"),
			Bucket:   GetEnv("STORAGE_BUCKET", ""),
			Region:   GetEnv("AWS_REGION", "us-east-1"),
			Endpoint: GetEnv("S3_ENDPOINT", ""),
		},
		Streamhost: StreamhostSettings{
			BaseURL:       GetEnv("STREAMHOST_BASE_URL", "https://api.streamhost.example/v1"),
			TokenID:       GetEnv("STREAMHOST_TOKEN_ID", ""),
			TokenSecret:   GetEnv("STREAMHOST_TOKEN_SECRET", ""),
			WebhookSecret: GetEnv("STREAMHOST_WEBHOOK_SECRET", ""),
			CORSOrigin:    GetEnv("STREAMHOST_CORS_ORIGIN", "*"),
			TestUploads:   GetEnvBool("STREAMHOST_TEST_UPLOADS", false),
		},
		Transcoder: TranscoderSettings{
			BaseURL:       GetEnv("TRANSCODER_BASE_URL", "https://api.transcoder.example/v2"),
			APIKey:        GetEnv("TRANSCODER_API_KEY", ""),
			WebhookSecret: GetEnv("TRANSCODER_WEBHOOK_SECRET", ""),
			DirectStorage: GetEnvBool("TRANSCODER_DIRECT_STORAGE", false),
		},
		PlaybackProfile:  GetEnv("PLAYBACK_PROFILE", "720p-h264"),
		HTTPTimeout:      GetEnvDuration("HTTP_TIMEOUT", 15*time.Second),
		DownloadTimeout:  GetEnvDuration("DOWNLOAD_TIMEOUT", 60*time.Second),
		UploadTimeout:    GetEnvDuration("UPLOAD_TIMEOUT", 60*time.Second),
		CopyConcurrency:  GetEnvInt("COPY_CONCURRENCY", 4),
		SignedURLTTL:     GetEnvDuration("SIGNED_URL_TTL", time.Hour),
		WebhookTolerance: GetEnvDuration("WEBHOOK_TOLERANCE", 5*time.Minute),
	}
}
