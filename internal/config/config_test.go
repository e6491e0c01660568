package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcptap.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  port: 9000
journal:
  path: /tmp/tap.db
log:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr() != "0.0.0.0:9000" {
		t.Errorf("addr = %s", cfg.Server.Addr())
	}
	if cfg.Journal.Path != "/tmp/tap.db" {
		t.Errorf("journal path = %s", cfg.Journal.Path)
	}
	// Untouched section keeps its default.
	if cfg.Bus.QueueSize != 256 {
		t.Errorf("queue size = %d, want default 256", cfg.Bus.QueueSize)
	}
	if cfg.Log.SlogLevel() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", cfg.Log.SlogLevel())
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "server:\n  prot: 9000\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TAP_DB_DIR", "/var/data")
	path := writeConfig(t, "journal:\n  path: $TAP_DB_DIR/tap.db\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Journal.Path != "/var/data/tap.db" {
		t.Errorf("journal path = %s", cfg.Journal.Path)
	}
}

func TestLoadValidates(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad port", "server:\n  port: 70000\n"},
		{"zero queue", "bus:\n  queue_size: 0\n"},
		{"empty journal path", "journal:\n  path: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSlogLevelFallback(t *testing.T) {
	if (LogConfig{Level: "nonsense"}).SlogLevel() != slog.LevelInfo {
		t.Error("unknown level should fall back to info")
	}
}
