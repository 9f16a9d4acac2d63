package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docwatch/sentinel/internal/config"
)

const baseConfig = `
shutdown_timeout = "30s"
version = "0.1.0"

[server]
host = "0.0.0.0"
port = 8080
read_timeout = "1m"
write_timeout = "15m"
shutdown_timeout = "30s"

[database]
host = "localhost"
port = 5432
name = "sentinel"
user = "sentinel"
password = "sentinel"
ssl_mode = "disable"
max_open_conns = 25
max_idle_conns = 5
conn_max_lifetime = "15m"
conn_timeout = "5s"

[storage]
container_name = "exports"
connection_string = "DefaultEndpointsProtocol=http;AccountName=sentinelstore;AccountKey=key;BlobEndpoint=http://127.0.0.1:10000/sentinelstore;"

[api]
base_path = "/api"

[api.cors]
enabled = false

[api.pagination]
default_page_size = 25
max_page_size = 50

[orchestrator]
workers = 8
persist_timeout = "5s"

[pipeline]
stages = ["pending", "extracting", "cleaning", "chunking", "indexing", "completed"]
concurrency = 2

[agents]
provider = "none"

[gateway]
ping_interval = "15s"
`

const overlayConfig = `
[server]
port = 9090

[database]
host = "prodhost"

[pipeline]
concurrency = 5
`

// minimalConfig provides the minimum fields required for validation to pass
// (db name, db user, storage connection string).
const minimalConfig = `
shutdown_timeout = "30s"

[server]
port = 8080

[database]
name = "sentinel"
user = "sentinel"

[storage]
connection_string = "conn"

[agents]
provider = "none"
`

func writeConfig(t *testing.T, dir, filename, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", filename, err)
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(orig) })
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	chdir(t, dir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server port: got %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Host != "localhost" {
		t.Errorf("db host: got %s, want localhost", cfg.Database.Host)
	}
	if cfg.Storage.ContainerName != "exports" {
		t.Errorf("storage container: got %s, want exports", cfg.Storage.ContainerName)
	}
	if cfg.API.BasePath != "/api" {
		t.Errorf("api base_path: got %s, want /api", cfg.API.BasePath)
	}
	if cfg.Orchestrator.Workers != 8 {
		t.Errorf("orchestrator workers: got %d, want 8", cfg.Orchestrator.Workers)
	}
	if cfg.Pipeline.Concurrency != 2 {
		t.Errorf("pipeline concurrency: got %d, want 2", cfg.Pipeline.Concurrency)
	}
	if len(cfg.Pipeline.Stages) != 6 {
		t.Errorf("pipeline stages: got %d, want 6", len(cfg.Pipeline.Stages))
	}
	if cfg.Agents.Provider != "none" {
		t.Errorf("agents provider: got %s, want none", cfg.Agents.Provider)
	}
	if cfg.Gateway.PingIntervalDuration() != 15*time.Second {
		t.Errorf("gateway ping interval: got %v, want 15s", cfg.Gateway.PingIntervalDuration())
	}
}

func TestLoadWithOverlay(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	writeConfig(t, dir, "config.staging.toml", overlayConfig)
	chdir(t, dir)

	t.Setenv("SENTINEL_ENV", "staging")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("server port: got %d, want 9090 (from overlay)", cfg.Server.Port)
	}
	if cfg.Database.Host != "prodhost" {
		t.Errorf("db host: got %s, want prodhost (from overlay)", cfg.Database.Host)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("db port: got %d, want 5432 (from base)", cfg.Database.Port)
	}
	if cfg.Pipeline.Concurrency != 5 {
		t.Errorf("pipeline concurrency: got %d, want 5 (from overlay)", cfg.Pipeline.Concurrency)
	}
}

func TestLoadEnvVarOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	chdir(t, dir)

	t.Setenv("SENTINEL_VERSION", "2.0.0")
	t.Setenv("SENTINEL_SERVER_PORT", "3000")
	t.Setenv("SENTINEL_ORCHESTRATOR_WORKERS", "16")
	t.Setenv("SENTINEL_PIPELINE_STAGES", "pending, ocr, completed")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Version != "2.0.0" {
		t.Errorf("version: got %s, want 2.0.0", cfg.Version)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("server port: got %d, want 3000", cfg.Server.Port)
	}
	if cfg.Orchestrator.Workers != 16 {
		t.Errorf("orchestrator workers: got %d, want 16", cfg.Orchestrator.Workers)
	}
	if len(cfg.Pipeline.Stages) != 3 || cfg.Pipeline.Stages[1] != "ocr" {
		t.Errorf("pipeline stages from env: got %v", cfg.Pipeline.Stages)
	}
}

func TestLoadNoConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	t.Setenv("SENTINEL_DB_NAME", "testdb")
	t.Setenv("SENTINEL_DB_USER", "testuser")
	t.Setenv("SENTINEL_STORAGE_CONNECTION_STRING", "conn")
	t.Setenv("SENTINEL_AGENT_PROVIDER", "none")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load without config.toml failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server port default: got %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Name != "testdb" {
		t.Errorf("db name from env: got %s, want testdb", cfg.Database.Name)
	}
	if cfg.Storage.ConnectionString != "conn" {
		t.Errorf("storage conn from env: got %s, want conn", cfg.Storage.ConnectionString)
	}
	if cfg.Orchestrator.Workers != 4 {
		t.Errorf("orchestrator workers default: got %d, want 4", cfg.Orchestrator.Workers)
	}
	if len(cfg.Pipeline.Stages) != 6 {
		t.Errorf("pipeline stages default: got %d, want 6", len(cfg.Pipeline.Stages))
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", `shutdown_timeout = `)
	chdir(t, dir)

	_, err := config.Load()
	if err == nil {
		t.Fatal("expected error for invalid TOML")
	}
}

func TestEnvDefault(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	chdir(t, dir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Env() != "local" {
		t.Errorf("env: got %s, want local", cfg.Env())
	}
}

func TestEnvFromEnvVar(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	chdir(t, dir)

	t.Setenv("SENTINEL_ENV", "production")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Env() != "production" {
		t.Errorf("env: got %s, want production", cfg.Env())
	}
}

func TestShutdownTimeoutDuration(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	chdir(t, dir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if d := cfg.ShutdownTimeoutDuration(); d != 30*time.Second {
		t.Errorf("shutdown timeout: got %v, want 30s", d)
	}
}

func TestServerAddr(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	chdir(t, dir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if addr := cfg.Server.Addr(); addr != "0.0.0.0:8080" {
		t.Errorf("addr: got %s, want 0.0.0.0:8080", addr)
	}
}

func TestPaginationDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", minimalConfig)
	chdir(t, dir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.API.Pagination.DefaultPageSize != 25 {
		t.Errorf("default page size: got %d, want 25", cfg.API.Pagination.DefaultPageSize)
	}
}

func TestInvalidPipelineStages(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", minimalConfig+`
[pipeline]
stages = ["extracting", "completed"]
`)
	chdir(t, dir)

	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for stage list not starting at pending")
	}
}
