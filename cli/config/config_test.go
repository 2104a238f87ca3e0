package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conduit.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, name, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %q, want %q", name, got, want)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	yaml := `server:
  listen: ":9090"
  keep_alive: 30s
  write_timeout: 5s

bus:
  queue_capacity: 512

storage:
  backend: sqlite
  path: /var/lib/conduit/conduit.db
  pool_size: 8
  writer_queue: 2048

adapter:
  type: webhook
  url: https://hooks.example.com/conduit
  headers:
    Authorization: Bearer token123
  timeout: 10s
  retries: 3
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "server.listen", cfg.Server.Listen, ":9090")
	if cfg.Server.KeepAlive.Duration != 30*time.Second {
		t.Errorf("server.keep_alive = %v, want 30s", cfg.Server.KeepAlive.Duration)
	}
	if cfg.Server.WriteTimeout.Duration != 5*time.Second {
		t.Errorf("server.write_timeout = %v, want 5s", cfg.Server.WriteTimeout.Duration)
	}

	if cfg.Bus.QueueCapacity != 512 {
		t.Errorf("bus.queue_capacity = %d, want 512", cfg.Bus.QueueCapacity)
	}

	assertEqual(t, "storage.backend", cfg.Storage.Backend, "sqlite")
	assertEqual(t, "storage.path", cfg.Storage.Path, "/var/lib/conduit/conduit.db")
	if cfg.Storage.PoolSize != 8 {
		t.Errorf("storage.pool_size = %d, want 8", cfg.Storage.PoolSize)
	}
	if cfg.Storage.WriterQueue != 2048 {
		t.Errorf("storage.writer_queue = %d, want 2048", cfg.Storage.WriterQueue)
	}

	assertEqual(t, "adapter.type", cfg.Adapter.Type, "webhook")
	assertEqual(t, "adapter.url", cfg.Adapter.URL, "https://hooks.example.com/conduit")
	if cfg.Adapter.Timeout.Duration != 10*time.Second {
		t.Errorf("adapter.timeout = %v, want 10s", cfg.Adapter.Timeout.Duration)
	}
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 3 {
		t.Error("expected adapter.retries=3")
	}
	if cfg.Adapter.Headers["Authorization"] != "Bearer token123" {
		t.Error("expected Authorization header")
	}
}

func TestLoad_EmptyConfigAppliesDefaults(t *testing.T) {
	path := writeTemp(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "server.listen", cfg.Server.Listen, DefaultListen)
	if cfg.Server.KeepAlive.Duration != DefaultKeepAlive {
		t.Errorf("server.keep_alive = %v, want %v", cfg.Server.KeepAlive.Duration, DefaultKeepAlive)
	}
	if cfg.Bus.QueueCapacity != DefaultQueueCapacity {
		t.Errorf("bus.queue_capacity = %d, want %d", cfg.Bus.QueueCapacity, DefaultQueueCapacity)
	}
	assertEqual(t, "storage.backend", cfg.Storage.Backend, "none")
	assertEqual(t, "adapter.type", cfg.Adapter.Type, "none")
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/conduit.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTemp(t, "{{invalid yaml")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "invalid YAML") {
		t.Errorf("error should mention invalid YAML, got: %v", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeTemp(t, "server:\n  keep_alive: banana\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestValidate_SqliteRequiresPath(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{Backend: "sqlite"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for sqlite backend without path")
	}
}

func TestValidate_UnknownBackend(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{Backend: "parquet"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestValidate_AdapterRequiresURL(t *testing.T) {
	cfg := &Config{Adapter: AdapterConfig{Type: "redis"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for redis adapter without url")
	}
}

func TestValidate_NegativeRetries(t *testing.T) {
	retries := -1
	cfg := &Config{Adapter: AdapterConfig{Type: "none", Retries: &retries}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative retries")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assertEqual(t, "server.listen", cfg.Server.Listen, DefaultListen)
	assertEqual(t, "storage.backend", cfg.Storage.Backend, "none")
	assertEqual(t, "adapter.type", cfg.Adapter.Type, "none")
}
