package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	// Server validation
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if cfg.Server.TLSEnabled {
		if cfg.Server.CertFile == "" {
			errs = append(errs, "server.cert_file must be set when tls_enabled is true")
		}
		if cfg.Server.KeyFile == "" {
			errs = append(errs, "server.key_file must be set when tls_enabled is true")
		}
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout))
	}
	if cfg.Server.MaxBodySize < 0 {
		errs = append(errs, fmt.Sprintf("server.max_body_size must be non-negative, got %d", cfg.Server.MaxBodySize))
	}

	// Auth validation
	if cfg.Auth.Enabled && cfg.Auth.Token == "" {
		errs = append(errs, "auth.token must be set when auth.enabled is true")
	}

	// Upstream validation
	if cfg.Upstream.BaseURL == "" {
		errs = append(errs, "upstream.base_url must not be empty")
	}
	if cfg.Upstream.Timeout < 0 {
		errs = append(errs, fmt.Sprintf("upstream.timeout must be non-negative, got %d", cfg.Upstream.Timeout))
	}

	// Credentials validation. An empty list is allowed at load time so that
	// init-config and key management work before any keys exist; the daemon
	// refuses to start without at least one ref.
	seen := make(map[string]bool, len(cfg.Credentials.KeyRefs))
	for i, ref := range cfg.Credentials.KeyRefs {
		if ref == "" {
			errs = append(errs, fmt.Sprintf("credentials.key_refs[%d] must not be empty", i))
			continue
		}
		if seen[ref] {
			errs = append(errs, fmt.Sprintf("credentials.key_refs[%d] duplicates %q", i, ref))
		}
		seen[ref] = true
	}

	// Pool validation
	if cfg.Pool.CooldownBaseSeconds < 1 {
		errs = append(errs, fmt.Sprintf("pool.cooldown_base_seconds must be at least 1, got %d", cfg.Pool.CooldownBaseSeconds))
	}
	if cfg.Pool.CooldownCeilingSeconds < cfg.Pool.CooldownBaseSeconds {
		errs = append(errs, fmt.Sprintf("pool.cooldown_ceiling_seconds must be >= cooldown_base_seconds, got %d < %d",
			cfg.Pool.CooldownCeilingSeconds, cfg.Pool.CooldownBaseSeconds))
	}
	for i, m := range cfg.Pool.CooldownMultipliers {
		if m <= 0 {
			errs = append(errs, fmt.Sprintf("pool.cooldown_multipliers[%d] must be positive, got %g", i, m))
		}
	}
	if cfg.Pool.StaggerSeconds < 0 {
		errs = append(errs, fmt.Sprintf("pool.stagger_seconds must be non-negative, got %d", cfg.Pool.StaggerSeconds))
	}

	// Dispatch validation
	if len(cfg.Dispatch.Tiers) == 0 {
		errs = append(errs, "dispatch.tiers must list at least one model")
	}
	for i, tier := range cfg.Dispatch.Tiers {
		if tier == "" {
			errs = append(errs, fmt.Sprintf("dispatch.tiers[%d] must not be empty", i))
		}
	}
	if cfg.Dispatch.MaxAttempts < 0 {
		errs = append(errs, fmt.Sprintf("dispatch.max_attempts must be non-negative, got %d", cfg.Dispatch.MaxAttempts))
	}
	if cfg.Dispatch.RetryAfterSeconds < 0 {
		errs = append(errs, fmt.Sprintf("dispatch.retry_after_seconds must be non-negative, got %d", cfg.Dispatch.RetryAfterSeconds))
	}
	if cfg.Dispatch.Temperature < 0 || cfg.Dispatch.Temperature > 2 {
		errs = append(errs, fmt.Sprintf("dispatch.temperature must be between 0 and 2, got %g", cfg.Dispatch.Temperature))
	}
	if cfg.Dispatch.TopP < 0 || cfg.Dispatch.TopP > 1 {
		errs = append(errs, fmt.Sprintf("dispatch.top_p must be between 0 and 1, got %g", cfg.Dispatch.TopP))
	}
	if cfg.Dispatch.MaxTokens < 0 {
		errs = append(errs, fmt.Sprintf("dispatch.max_tokens must be non-negative, got %d", cfg.Dispatch.MaxTokens))
	}

	// Cache validation
	if cfg.Cache.Enabled && cfg.Cache.Size < 1 {
		errs = append(errs, fmt.Sprintf("cache.size must be at least 1 when cache is enabled, got %d", cfg.Cache.Size))
	}

	// RateLimit validation
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.Rate <= 0 {
			errs = append(errs, fmt.Sprintf("rate_limit.rate must be positive, got %g", cfg.RateLimit.Rate))
		}
		if cfg.RateLimit.Burst < 1 {
			errs = append(errs, fmt.Sprintf("rate_limit.burst must be at least 1, got %d", cfg.RateLimit.Burst))
		}
	}

	// Tracing validation
	if cfg.Tracing.Enabled {
		validExporters := []string{"stdout", "otlp-grpc", "otlp-http"}
		if !isValidEnum(cfg.Tracing.Exporter, validExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", validExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.ServiceName == "" {
			errs = append(errs, "tracing.service_name must not be empty when tracing is enabled")
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %f", cfg.Tracing.SampleRate))
	}

	// Metrics validation
	if cfg.Metrics.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("metrics.retention_days must be at least 1, got %d", cfg.Metrics.RetentionDays))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}
