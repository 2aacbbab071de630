// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

endpoint:
  protocol: "https"
  domain: "hub.example"
  port: 443
  custom_sse_path: "/mcp/stream"

upstream:
  url: "http://localhost:3000"
  health_timeout: "3s"

database:
  path: "./test.db"

auth:
  jwt_secret: "test-secret"

settings:
  cache_ttl: "45s"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/metrics"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify server config
	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}

	// Verify endpoint config
	if cfg.Endpoint.Protocol != "https" {
		t.Errorf("Endpoint.Protocol = %q, want %q", cfg.Endpoint.Protocol, "https")
	}
	if cfg.Endpoint.Domain != "hub.example" {
		t.Errorf("Endpoint.Domain = %q, want %q", cfg.Endpoint.Domain, "hub.example")
	}
	if cfg.Endpoint.Port != 443 {
		t.Errorf("Endpoint.Port = %d, want 443", cfg.Endpoint.Port)
	}
	if cfg.Endpoint.CustomSSEPath != "/mcp/stream" {
		t.Errorf("Endpoint.CustomSSEPath = %q, want %q", cfg.Endpoint.CustomSSEPath, "/mcp/stream")
	}

	// Verify upstream config with duration parsing
	if cfg.Upstream.URL != "http://localhost:3000" {
		t.Errorf("Upstream.URL = %q, want %q", cfg.Upstream.URL, "http://localhost:3000")
	}
	if cfg.Upstream.HealthTimeout != 3*time.Second {
		t.Errorf("Upstream.HealthTimeout = %v, want %v", cfg.Upstream.HealthTimeout, 3*time.Second)
	}

	// Verify database config
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}

	// Verify auth config
	if cfg.Auth.JWTSecret != "test-secret" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "test-secret")
	}

	// Verify settings config with duration parsing
	if cfg.Settings.CacheTTL != 45*time.Second {
		t.Errorf("Settings.CacheTTL = %v, want %v", cfg.Settings.CacheTTL, 45*time.Second)
	}

	// Verify logging config
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}

	// Verify metrics config
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "expanded-secret")
	t.Setenv("TEST_DB_PATH", "/var/lib/mcpgate/hub.db")

	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "${TEST_DB_PATH}"

auth:
  jwt_secret: "${TEST_JWT_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/var/lib/mcpgate/hub.db" {
		t.Errorf("Database.Path = %q, want expanded value", cfg.Database.Path)
	}
	if cfg.Auth.JWTSecret != "expanded-secret" {
		t.Errorf("Auth.JWTSecret = %q, want expanded value", cfg.Auth.JWTSecret)
	}
}

func TestLoad_UnsetEnvVarExpandsToEmpty(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  jwt_secret: "${MCPGATE_UNSET_TEST_VAR}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.JWTSecret != "" {
		t.Errorf("Auth.JWTSecret = %q, want empty string", cfg.Auth.JWTSecret)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "server: [unclosed")

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid YAML")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

settings:
  cache_ttl: "not-a-duration"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "cache_ttl") {
		t.Errorf("error should mention cache_ttl, got: %v", err)
	}
}

func TestValidate_MissingHTTPAddr(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for missing http_addr")
	}
	if !strings.Contains(err.Error(), "http_addr") {
		t.Errorf("error should mention http_addr, got: %v", err)
	}
}

func TestValidate_TailscaleReplacesHTTPAddr(t *testing.T) {
	configPath := writeConfig(t, `
tailscale:
  enabled: true
  hostname: "mcpgate"

database:
  path: "./test.db"
`)

	if _, err := Load(configPath); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestValidate_TailscaleRequiresHostname(t *testing.T) {
	configPath := writeConfig(t, `
tailscale:
  enabled: true

database:
  path: "./test.db"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for missing tailscale hostname")
	}
}

func TestValidate_MissingDatabasePath(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for missing database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("error should mention database.path, got: %v", err)
	}
}

func TestValidate_BadEndpointProtocol(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

endpoint:
  protocol: "gopher"

database:
  path: "./test.db"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for bad endpoint protocol")
	}
}
