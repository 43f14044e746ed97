package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "jetstream.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeTempConfig(t, `
listeners:
  - network: tcp
    address: "0.0.0.0:9000"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stream.MaxBufferSize != defaultMaxBufferSize {
		t.Errorf("expected default max_buffer_size %d, got %d", defaultMaxBufferSize, cfg.Stream.MaxBufferSize)
	}
	if cfg.Stream.ReadChunkSize != defaultReadChunkSize {
		t.Errorf("expected default read_chunk_size %d, got %d", defaultReadChunkSize, cfg.Stream.ReadChunkSize)
	}
	if cfg.Logging.Level != defaultLoggingLevel {
		t.Errorf("expected default logging level %q, got %q", defaultLoggingLevel, cfg.Logging.Level)
	}
}

func TestLoad_FullExample(t *testing.T) {
	path := writeTempConfig(t, `
listeners:
  - network: tcp
    address: "0.0.0.0:9000"
  - network: unix
    address: "/var/run/jetstream.sock"
stream:
  max_buffer_size: 104857600
  read_chunk_size: 4096
logging:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Listeners) != 2 {
		t.Fatalf("expected 2 listeners, got %d", len(cfg.Listeners))
	}
	if cfg.Listeners[1].Network != "unix" || cfg.Listeners[1].Address != "/var/run/jetstream.sock" {
		t.Errorf("unexpected unix listener: %+v", cfg.Listeners[1])
	}
	if cfg.Logging.ParseLevel().String() != "DEBUG" {
		t.Errorf("expected parsed level DEBUG, got %s", cfg.Logging.ParseLevel())
	}
}

func TestLoad_RejectsNoListeners(t *testing.T) {
	path := writeTempConfig(t, "stream:\n  max_buffer_size: 1024\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing listeners")
	}
}

func TestLoad_RejectsUnknownNetwork(t *testing.T) {
	path := writeTempConfig(t, `
listeners:
  - network: quic
    address: "0.0.0.0:9000"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported network")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
