package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keygate.toml")
	writeConfigFile(t, path, "[server]\nport = 7700\n")

	if _, err := Load(path); err != nil {
		t.Fatalf("initial load: %v", err)
	}

	w, err := Watch(path)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	reloaded := make(chan *Config, 1)
	w.OnChange(func(old, new *Config) {
		select {
		case reloaded <- new:
		default:
		}
	})

	writeConfigFile(t, path, "[server]\nport = 7701\n")

	select {
	case cfg := <-reloaded:
		if cfg.Server.Port != 7701 {
			t.Errorf("reloaded port: got %d, want 7701", cfg.Server.Port)
		}
		if Get().Server.Port != 7701 {
			t.Errorf("global config port: got %d, want 7701", Get().Server.Port)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload hook never fired")
	}
}

func TestWatch_InvalidReloadKeepsPreviousConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keygate.toml")
	writeConfigFile(t, path, "[server]\nport = 7700\n")

	if _, err := Load(path); err != nil {
		t.Fatalf("initial load: %v", err)
	}

	w, err := Watch(path)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	fired := make(chan struct{}, 1)
	w.OnChange(func(old, new *Config) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	// Out-of-range port fails validation; the previous config must survive.
	writeConfigFile(t, path, "[server]\nport = 999999\n")

	select {
	case <-fired:
		t.Fatal("hook fired for a config that fails validation")
	case <-time.After(500 * time.Millisecond):
	}
	if Get().Server.Port != 7700 {
		t.Errorf("port after failed reload: got %d, want 7700", Get().Server.Port)
	}
}

func TestWatch_EmptyPath(t *testing.T) {
	if _, err := Watch(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
