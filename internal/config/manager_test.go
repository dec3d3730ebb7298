package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
		"storage": {"path": "./data/buffbot.db", "busy_timeout": "5s"},
		"mirror": {"path": "./shared/buff_requests.json"},
		"reminder": {"enabled": true, "retention": "24h", "horizon_days": 2}
	}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Mirror.Path != "./shared/buff_requests.json" {
		t.Fatalf("Mirror.Path = %q", cfg.Mirror.Path)
	}
	if cfg.Telegram != nil {
		t.Fatal("omitted telegram section should be nil")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
storage:
  path: ./data/buffbot.db
mirror:
  path: ./shared/buff_requests.json
reminder:
  enabled: true
  tick: 1m
telegram:
  token: "123:abc"
  chat_id: -100123
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram == nil || cfg.Telegram.ChatID != -100123 {
		t.Fatalf("telegram section not decoded: %+v", cfg.Telegram)
	}
	if cfg.Reminder.Tick != "1m" {
		t.Fatalf("Reminder.Tick = %q, want 1m", cfg.Reminder.Tick)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}}, "storage": {"path": "x"}, "mirror": {"path": "y"}, "reminder": {"enabled": true}, "surprise": 1}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("reminder.tick", "", time.Minute)
	if err != nil || d != time.Minute {
		t.Fatalf("empty value = (%v, %v), want default 1m", d, err)
	}
	d, err = ParseDurationOrDefault("reminder.tick", "30s", time.Minute)
	if err != nil || d != 30*time.Second {
		t.Fatalf("explicit value = (%v, %v), want 30s", d, err)
	}
	if _, err := ParseDurationOrDefault("reminder.tick", "soon", time.Minute); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}
