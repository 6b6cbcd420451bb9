package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "autoagent.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  extra: true
approval:
  jwt_secret: s3cr3t
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadRejectsInvalidEgressMode(t *testing.T) {
	path := writeConfig(t, `
egress:
  mode: paranoid
approval:
  jwt_secret: s3cr3t
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "egress.mode") {
		t.Fatalf("expected egress.mode error, got %v", err)
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "jwt_secret") {
		t.Fatalf("expected jwt_secret error, got %v", err)
	}
}

func TestLoadRejectsDuplicateProviderHandles(t *testing.T) {
	path := writeConfig(t, `
approval:
  jwt_secret: s3cr3t
providers:
  - handle: main
    kind: anthropic
    api_key: k1
  - handle: main
    kind: openai
    api_key: k2
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "duplicate handle") {
		t.Fatalf("expected duplicate handle error, got %v", err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
approval:
  jwt_secret: s3cr3t
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default server port 8080, got %d", cfg.Server.Port)
	}
	if cfg.ControlPlane.APIURL != "http://localhost:8080" {
		t.Fatalf("expected default api url, got %q", cfg.ControlPlane.APIURL)
	}
	if cfg.Egress.Mode != "audit" {
		t.Fatalf("expected default egress mode audit, got %q", cfg.Egress.Mode)
	}
	if cfg.Retry.BreakerFailureThreshold != 5 {
		t.Fatalf("expected default breaker threshold 5, got %d", cfg.Retry.BreakerFailureThreshold)
	}
	if cfg.Approval.ApprovalExpiry != 10*time.Minute {
		t.Fatalf("expected default approval expiry 10m, got %v", cfg.Approval.ApprovalExpiry)
	}
	if cfg.Retention.PromptCacheRetentionDays != 7 {
		t.Fatalf("expected default prompt-cache retention 7 days, got %d", cfg.Retention.PromptCacheRetentionDays)
	}
}

func TestLoadEnvOverridesWinOverYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9999
control_plane:
  api_url: http://yaml-configured:8080
  data_dir: /yaml/data
  control_db_path: /yaml/control.db
approval:
  jwt_secret: s3cr3t
`)

	t.Setenv("PORT", "7000")
	t.Setenv("AUTOAGENT_API_URL", "http://env-configured:8080")
	t.Setenv("AUTOAGENT_DATA_DIR", "/env/data")
	t.Setenv("AUTOAGENT_CONTROL_DB_PATH", "/env/control.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Fatalf("expected env PORT to win, got %d", cfg.Server.Port)
	}
	if cfg.ControlPlane.APIURL != "http://env-configured:8080" {
		t.Fatalf("expected env AUTOAGENT_API_URL to win, got %q", cfg.ControlPlane.APIURL)
	}
	if cfg.ControlPlane.DataDir != "/env/data" {
		t.Fatalf("expected env AUTOAGENT_DATA_DIR to win, got %q", cfg.ControlPlane.DataDir)
	}
	if cfg.ControlPlane.DBPath != "/env/control.db" {
		t.Fatalf("expected env AUTOAGENT_CONTROL_DB_PATH to win, got %q", cfg.ControlPlane.DBPath)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
