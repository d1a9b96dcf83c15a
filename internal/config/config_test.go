package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "editor.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 || cfg.HistoryDepth != 100 || cfg.AutosaveDebounce != 2*time.Second {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.GuidePrecedence != "guide" {
		t.Errorf("expected guide precedence by default, got %q", cfg.GuidePrecedence)
	}
}

func TestFileThenEnv(t *testing.T) {
	path := writeFile(t, `
port: 9000
history_depth: 20
autosave_debounce: 500ms
grid_size: 10
grid_snap: true
store_driver: memory
`)
	t.Setenv("EDITOR_PORT", "9100")
	t.Setenv("EDITOR_AUTOSAVE_INTERVAL", "1m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9100 {
		t.Errorf("expected env to override file port, got %d", cfg.Port)
	}
	if cfg.HistoryDepth != 20 || cfg.AutosaveDebounce != 500*time.Millisecond {
		t.Errorf("expected file values, got depth=%d debounce=%s", cfg.HistoryDepth, cfg.AutosaveDebounce)
	}
	if cfg.AutosaveInterval != time.Minute {
		t.Errorf("expected env interval, got %s", cfg.AutosaveInterval)
	}
	if !cfg.GridSnap || cfg.GridSize != 10 || cfg.StoreDriver != "memory" {
		t.Errorf("unexpected grid/store settings %+v", cfg)
	}
	if cfg.SaveTimeout != 15*time.Second {
		t.Errorf("expected untouched default save timeout, got %s", cfg.SaveTimeout)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	path := writeFile(t, `
store_driver: mongo
guide_precedence: nearest
history_depth: 0
log_level: loud
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"store driver", "guide precedence", "history depth", "log level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestOriginsAndLevel(t *testing.T) {
	cfg := Default()
	cfg.AllowedOrigins = "http://localhost:5173, https://app.example.com ,"
	got := cfg.Origins()
	if len(got) != 2 || got[0] != "localhost:5173" || got[1] != "app.example.com" {
		t.Errorf("unexpected origins %v", got)
	}

	cfg.LogLevel = "debug"
	if l, err := cfg.SlogLevel(); err != nil || l != slog.LevelDebug {
		t.Errorf("expected debug level, got %v %v", l, err)
	}
}
