package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_WithExplicitFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
[server]
port = 9090
log_level = "debug"
data_dir = "` + dir + `"

[upstream]
base_url = "https://llm.example.com/v1"
timeout = 30

[credentials]
key_refs = ["env:KEY_ONE", "env:KEY_TWO"]

[dispatch]
tiers = ["model-large", "model-small"]
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Port: got %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want %q", cfg.Server.LogLevel, "debug")
	}
	if cfg.Upstream.BaseURL != "https://llm.example.com/v1" {
		t.Errorf("BaseURL: got %q", cfg.Upstream.BaseURL)
	}
	if len(cfg.Credentials.KeyRefs) != 2 {
		t.Fatalf("KeyRefs: got %d entries, want 2", len(cfg.Credentials.KeyRefs))
	}
	if cfg.Credentials.KeyRefs[1] != "env:KEY_TWO" {
		t.Errorf("KeyRefs[1]: got %q", cfg.Credentials.KeyRefs[1])
	}
	if len(cfg.Dispatch.Tiers) != 2 || cfg.Dispatch.Tiers[0] != "model-large" {
		t.Errorf("Tiers: got %v", cfg.Dispatch.Tiers)
	}
	// Unset sections keep defaults.
	if cfg.Pool.CooldownBaseSeconds != DefaultCooldownBaseSeconds {
		t.Errorf("CooldownBaseSeconds: got %d, want default %d", cfg.Pool.CooldownBaseSeconds, DefaultCooldownBaseSeconds)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
[server]
port = 7688
log_level = "info"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("KEYGATE_SERVER_PORT", "8888")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8888 {
		t.Errorf("Port with env override: got %d, want 8888", cfg.Server.Port)
	}
}

func TestLoad_ValidationFailure_BadPort(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.toml")

	content := `
[server]
port = 0
log_level = "info"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for port 0")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != DefaultPort {
		t.Errorf("Port: got %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.Pool.CooldownBaseSeconds != DefaultCooldownBaseSeconds {
		t.Errorf("CooldownBaseSeconds: got %d, want %d", cfg.Pool.CooldownBaseSeconds, DefaultCooldownBaseSeconds)
	}
	if cfg.Pool.CooldownCeilingSeconds != DefaultCooldownCeilingSeconds {
		t.Errorf("CooldownCeilingSeconds: got %d, want %d", cfg.Pool.CooldownCeilingSeconds, DefaultCooldownCeilingSeconds)
	}
	if cfg.Dispatch.RetryAfterSeconds != DefaultRetryAfterSeconds {
		t.Errorf("RetryAfterSeconds: got %d, want %d", cfg.Dispatch.RetryAfterSeconds, DefaultRetryAfterSeconds)
	}
	if len(cfg.Dispatch.Tiers) == 0 {
		t.Error("default tiers must not be empty")
	}
	if !cfg.Pool.DecayOnSuccess {
		t.Error("DecayOnSuccess: got false, want true")
	}
}

func TestUpstreamConfig_TimeoutDuration(t *testing.T) {
	tests := []struct {
		timeout int
		wantSec int
	}{
		{0, DefaultUpstreamTimeout},  // default
		{-1, DefaultUpstreamTimeout}, // negative defaults
		{90, 90},
		{10, 10},
	}

	for _, tt := range tests {
		u := UpstreamConfig{Timeout: tt.timeout}
		got := u.TimeoutDuration().Seconds()
		if int(got) != tt.wantSec {
			t.Errorf("TimeoutDuration(%d): got %v, want %ds", tt.timeout, got, tt.wantSec)
		}
	}
}

func TestPoolConfig_Durations(t *testing.T) {
	p := PoolConfig{CooldownBaseSeconds: 20, CooldownCeilingSeconds: 120, StaggerSeconds: 5}
	if got := p.CooldownBaseDuration().Seconds(); got != 20 {
		t.Errorf("CooldownBaseDuration: got %vs, want 20s", got)
	}
	if got := p.CooldownCeilingDuration().Seconds(); got != 120 {
		t.Errorf("CooldownCeilingDuration: got %vs, want 120s", got)
	}
	if got := p.StaggerDuration().Seconds(); got != 5 {
		t.Errorf("StaggerDuration: got %vs, want 5s", got)
	}

	// Zero values fall back to defaults rather than producing a zero window.
	var zero PoolConfig
	if got := zero.CooldownBaseDuration().Seconds(); int(got) != DefaultCooldownBaseSeconds {
		t.Errorf("zero CooldownBaseDuration: got %vs, want %ds", got, DefaultCooldownBaseSeconds)
	}
	if got := zero.CooldownCeilingDuration().Seconds(); int(got) != DefaultCooldownCeilingSeconds {
		t.Errorf("zero CooldownCeilingDuration: got %vs, want %ds", got, DefaultCooldownCeilingSeconds)
	}
}

func TestConfigFilePath_BeforeLoad(t *testing.T) {
	// Reset to ensure clean state.
	loadedConfigFile.Store("")
	path := ConfigFilePath()
	if path != "" {
		t.Errorf("ConfigFilePath before load: got %q, want empty", path)
	}
}

func TestExportConfig_BlanksAuthToken(t *testing.T) {
	dir := t.TempDir()
	exportPath := filepath.Join(dir, "exported.toml")

	cfg := DefaultConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.Token = "super-secret"
	set(cfg)
	defer set(DefaultConfig())

	if err := ExportConfig(exportPath); err != nil {
		t.Fatalf("ExportConfig: %v", err)
	}

	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Error("exported config is empty")
	}
	if strings.Contains(string(data), "super-secret") {
		t.Error("exported config leaks the auth token")
	}
}
