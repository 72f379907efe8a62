package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_missingFileIsNotAnError(t *testing.T) {
	if err := Load(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoad_readsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("INGEST_TEST_LOAD=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("INGEST_TEST_LOAD") })

	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := os.Getenv("INGEST_TEST_LOAD"); got != "from-file" {
		t.Errorf("expected from-file, got %q", got)
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("INGEST_TEST_INT", "12")
	t.Setenv("INGEST_TEST_BAD_INT", "x")
	t.Setenv("INGEST_TEST_BOOL", "true")
	t.Setenv("INGEST_TEST_DUR", "90s")
	t.Setenv("INGEST_TEST_NEG_DUR", "-5s")

	if got := GetEnv("INGEST_TEST_UNSET", "fb"); got != "fb" {
		t.Errorf("GetEnv fallback: got %q", got)
	}
	if got := GetEnvInt("INGEST_TEST_INT", 1); got != 12 {
		t.Errorf("GetEnvInt: got %d", got)
	}
	if got := GetEnvInt("INGEST_TEST_BAD_INT", 3); got != 3 {
		t.Errorf("GetEnvInt bad value: got %d", got)
	}
	if !GetEnvBool("INGEST_TEST_BOOL", false) {
		t.Error("GetEnvBool: expected true")
	}
	if got := GetEnvDuration("INGEST_TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("GetEnvDuration: got %v", got)
	}
	if got := GetEnvDuration("INGEST_TEST_NEG_DUR", time.Second); got != time.Second {
		t.Errorf("GetEnvDuration negative: got %v", got)
	}
}

func TestFromEnv_defaults(t *testing.T) {
	t.Setenv("PLAYBACK_PROFILE", "")
	t.Setenv("COPY_CONCURRENCY", "")
	s := FromEnv()
	if s.PlaybackProfile != "720p-h264" {
		t.Errorf("PlaybackProfile: got %q", s.PlaybackProfile)
	}
	if s.CopyConcurrency != 4 {
		t.Errorf("CopyConcurrency: got %d", s.CopyConcurrency)
	}
	if s.WebhookTolerance != 5*time.Minute {
		t.Errorf("WebhookTolerance: got %v", s.WebhookTolerance)
	}
}
