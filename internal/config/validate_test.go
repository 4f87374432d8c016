package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Server.DataDir = "/tmp/test"
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := validate(cfg); err != nil {
		t.Fatalf("validate valid config: %v", err)
	}
}

func TestValidate_BadPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 70000

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for port 70000")
	}
	if !strings.Contains(err.Error(), "server.port") {
		t.Errorf("error should mention server.port: %v", err)
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Server.LogLevel = "verbose"

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level: %v", err)
	}
}

func TestValidate_EmptyDataDir(t *testing.T) {
	cfg := validConfig()
	cfg.Server.DataDir = ""

	if err := validate(cfg); err == nil {
		t.Fatal("expected error for empty data_dir")
	}
}

func TestValidate_TLS_MissingCert(t *testing.T) {
	cfg := validConfig()
	cfg.Server.TLSEnabled = true
	cfg.Server.CertFile = ""
	cfg.Server.KeyFile = "/path/to/key.pem"

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing cert_file")
	}
	if !strings.Contains(err.Error(), "cert_file") {
		t.Errorf("error should mention cert_file: %v", err)
	}
}

func TestValidate_AuthEnabledWithoutToken(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.Token = ""

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for enabled auth without token")
	}
	if !strings.Contains(err.Error(), "auth.token") {
		t.Errorf("error should mention auth.token: %v", err)
	}
}

func TestValidate_EmptyUpstreamBaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.Upstream.BaseURL = ""

	if err := validate(cfg); err == nil {
		t.Fatal("expected error for empty upstream.base_url")
	}
}

func TestValidate_DuplicateKeyRefs(t *testing.T) {
	cfg := validConfig()
	cfg.Credentials.KeyRefs = []string{"env:K1", "env:K2", "env:K1"}

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for duplicate key refs")
	}
	if !strings.Contains(err.Error(), "duplicates") {
		t.Errorf("error should mention the duplicate: %v", err)
	}
}

func TestValidate_EmptyKeyRefList_Allowed(t *testing.T) {
	// Load-time the list may be empty; the daemon enforces size >= 1.
	cfg := validConfig()
	cfg.Credentials.KeyRefs = nil

	if err := validate(cfg); err != nil {
		t.Fatalf("empty key_refs should validate: %v", err)
	}
}

func TestValidate_CeilingBelowBase(t *testing.T) {
	cfg := validConfig()
	cfg.Pool.CooldownBaseSeconds = 60
	cfg.Pool.CooldownCeilingSeconds = 30

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for ceiling below base")
	}
	if !strings.Contains(err.Error(), "cooldown_ceiling_seconds") {
		t.Errorf("error should mention cooldown_ceiling_seconds: %v", err)
	}
}

func TestValidate_NonPositiveMultiplier(t *testing.T) {
	cfg := validConfig()
	cfg.Pool.CooldownMultipliers = []float64{1, 0, 4}

	if err := validate(cfg); err == nil {
		t.Fatal("expected error for zero multiplier")
	}
}

func TestValidate_EmptyTierList(t *testing.T) {
	cfg := validConfig()
	cfg.Dispatch.Tiers = nil

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for empty tier list")
	}
	if !strings.Contains(err.Error(), "dispatch.tiers") {
		t.Errorf("error should mention dispatch.tiers: %v", err)
	}
}

func TestValidate_BadTemperature(t *testing.T) {
	cfg := validConfig()
	cfg.Dispatch.Temperature = 2.5

	if err := validate(cfg); err == nil {
		t.Fatal("expected error for temperature above 2")
	}
}

func TestValidate_CacheEnabledZeroSize(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.Enabled = true
	cfg.Cache.Size = 0

	if err := validate(cfg); err == nil {
		t.Fatal("expected error for enabled cache with zero size")
	}
}

func TestValidate_RateLimitEnabledBadRate(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.Rate = 0

	if err := validate(cfg); err == nil {
		t.Fatal("expected error for enabled rate limit with zero rate")
	}
}

func TestValidate_BadTracingExporter(t *testing.T) {
	cfg := validConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "jaeger"

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for unknown tracing exporter")
	}
	if !strings.Contains(err.Error(), "tracing.exporter") {
		t.Errorf("error should mention tracing.exporter: %v", err)
	}
}

func TestValidate_BadSampleRate(t *testing.T) {
	cfg := validConfig()
	cfg.Tracing.SampleRate = 1.5

	if err := validate(cfg); err == nil {
		t.Fatal("expected error for sample rate above 1")
	}
}

func TestValidate_CombinesErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Upstream.BaseURL = ""
	cfg.Dispatch.Tiers = nil

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected combined validation error")
	}
	for _, want := range []string{"server.port", "upstream.base_url", "dispatch.tiers"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("combined error missing %q: %v", want, err)
		}
	}
}
