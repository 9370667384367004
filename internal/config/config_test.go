package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MATRIX_HOMESERVER", "https://matrix.example.org")
	t.Setenv("MATRIX_USER_ID", "@indexer:example.org")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Matrix.Homeserver != "https://matrix.example.org" {
		t.Errorf("homeserver = %q", cfg.Matrix.Homeserver)
	}
	if cfg.Sync.TimeoutMS != 30000 {
		t.Errorf("sync timeout default = %d", cfg.Sync.TimeoutMS)
	}
	if cfg.Sync.Backoff() != 5*time.Second {
		t.Errorf("backoff default = %s", cfg.Sync.Backoff())
	}
	if cfg.Sync.CacheSize != 10000 {
		t.Errorf("cache size default = %d", cfg.Sync.CacheSize)
	}
	if cfg.Backfill.BatchSize != 100 {
		t.Errorf("backfill batch default = %d", cfg.Backfill.BatchSize)
	}
	if cfg.Backfill.BatchDelay() != 100*time.Millisecond {
		t.Errorf("batch delay default = %s", cfg.Backfill.BatchDelay())
	}
	if cfg.Backfill.RoomDelay() != 500*time.Millisecond {
		t.Errorf("room delay default = %s", cfg.Backfill.RoomDelay())
	}
	if cfg.Database.Path != "data/events.db" {
		t.Errorf("database path default = %q", cfg.Database.Path)
	}
	if cfg.HasCredentials() {
		t.Error("expected no credentials by default")
	}
}

func TestValidateMatrixMissingHomeserver(t *testing.T) {
	t.Setenv("MATRIX_HOMESERVER", "")
	t.Setenv("MATRIX_USER_ID", "@indexer:example.org")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.ValidateMatrix(); err == nil {
		t.Fatal("expected error when homeserver is missing")
	}
}

func TestLoadLegacyEnvNames(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MATRIX_PASSWORD", "hunter2")
	t.Setenv("MATRIX_TOKEN", "syt_abc")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Matrix.Password != "hunter2" || cfg.Matrix.AccessToken != "syt_abc" {
		t.Errorf("credentials not bound: %+v", cfg.Matrix)
	}
	if !cfg.HasCredentials() {
		t.Error("HasCredentials() = false")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
matrix:
  homeserver: https://files.example.org
  user_id: "@file:example.org"
sync:
  timeout_ms: 10000
  cache_size: 50
backfill:
  batch_size: 25
`
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Matrix.Homeserver != "https://files.example.org" {
		t.Errorf("homeserver = %q", cfg.Matrix.Homeserver)
	}
	if cfg.Sync.TimeoutMS != 10000 || cfg.Sync.CacheSize != 50 {
		t.Errorf("sync overrides not applied: %+v", cfg.Sync)
	}
	if cfg.Backfill.BatchSize != 25 {
		t.Errorf("backfill override not applied: %+v", cfg.Backfill)
	}
}

func TestValidateRejectsBadSizes(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MATRIX_INDEXER_SYNC_CACHE_SIZE", "0")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for zero cache size")
	}
}
