package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for KeyGate.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"      toml:"server"`
	Auth        AuthConfig        `mapstructure:"auth"        toml:"auth"`
	Upstream    UpstreamConfig    `mapstructure:"upstream"    toml:"upstream"`
	Credentials CredentialsConfig `mapstructure:"credentials" toml:"credentials"`
	Pool        PoolConfig        `mapstructure:"pool"        toml:"pool"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch"    toml:"dispatch"`
	Cache       CacheConfig       `mapstructure:"cache"       toml:"cache"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"  toml:"rate_limit"`
	Tracing     TracingConfig     `mapstructure:"tracing"     toml:"tracing"`
	Metrics     MetricsConfig     `mapstructure:"metrics"     toml:"metrics"`
}

// ServerConfig holds the core server settings.
type ServerConfig struct {
	BindAddress  string `mapstructure:"bind_address"  toml:"bind_address"`
	Port         int    `mapstructure:"port"          toml:"port"`
	LogLevel     string `mapstructure:"log_level"     toml:"log_level"`
	DataDir      string `mapstructure:"data_dir"      toml:"data_dir"`
	TLSEnabled   bool   `mapstructure:"tls_enabled"   toml:"tls_enabled"`
	CertFile     string `mapstructure:"cert_file"     toml:"cert_file"`
	KeyFile      string `mapstructure:"key_file"      toml:"key_file"`
	ReadTimeout  int    `mapstructure:"read_timeout"  toml:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout" toml:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"  toml:"idle_timeout"`
	MaxBodySize  int64  `mapstructure:"max_body_size" toml:"max_body_size"`
}

// AuthConfig holds the inbound API authentication settings.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Token   string `mapstructure:"token"   toml:"token"`
}

// UpstreamConfig describes the completion service all credentials share.
type UpstreamConfig struct {
	BaseURL string `mapstructure:"base_url" toml:"base_url"`
	Timeout int    `mapstructure:"timeout"  toml:"timeout"` // seconds
}

// TimeoutDuration returns the upstream call timeout as a time.Duration.
func (u UpstreamConfig) TimeoutDuration() time.Duration {
	if u.Timeout <= 0 {
		return time.Duration(DefaultUpstreamTimeout) * time.Second
	}
	return time.Duration(u.Timeout) * time.Second
}

// CredentialsConfig lists the key references resolved at startup. Each entry
// is a ref understood by the vault package (keyring://, env:, file://).
type CredentialsConfig struct {
	KeyRefs []string `mapstructure:"key_refs" toml:"key_refs"`
}

// PoolConfig holds the credential cooldown and selection tunables. These are
// hot-reloadable; the config watcher pushes changes into the running pool.
type PoolConfig struct {
	CooldownBaseSeconds    int       `mapstructure:"cooldown_base_seconds"    toml:"cooldown_base_seconds"`
	CooldownMultipliers    []float64 `mapstructure:"cooldown_multipliers"     toml:"cooldown_multipliers"`
	CooldownCeilingSeconds int       `mapstructure:"cooldown_ceiling_seconds" toml:"cooldown_ceiling_seconds"`
	StaggerSeconds         int       `mapstructure:"stagger_seconds"          toml:"stagger_seconds"`
	DecayOnSuccess         bool      `mapstructure:"decay_on_success"         toml:"decay_on_success"`
}

// CooldownBaseDuration returns the base cooldown as a time.Duration.
func (p PoolConfig) CooldownBaseDuration() time.Duration {
	if p.CooldownBaseSeconds <= 0 {
		return time.Duration(DefaultCooldownBaseSeconds) * time.Second
	}
	return time.Duration(p.CooldownBaseSeconds) * time.Second
}

// CooldownCeilingDuration returns the cooldown ceiling as a time.Duration.
func (p PoolConfig) CooldownCeilingDuration() time.Duration {
	if p.CooldownCeilingSeconds <= 0 {
		return time.Duration(DefaultCooldownCeilingSeconds) * time.Second
	}
	return time.Duration(p.CooldownCeilingSeconds) * time.Second
}

// StaggerDuration returns the startup stagger interval as a time.Duration.
func (p PoolConfig) StaggerDuration() time.Duration {
	if p.StaggerSeconds < 0 {
		return 0
	}
	return time.Duration(p.StaggerSeconds) * time.Second
}

// DispatchConfig controls tier fallback and the per-request retry budget.
type DispatchConfig struct {
	Tiers             []string `mapstructure:"tiers"               toml:"tiers"`
	MaxAttempts       int      `mapstructure:"max_attempts"        toml:"max_attempts"` // 0 = derived from pool size
	RetryAfterSeconds int      `mapstructure:"retry_after_seconds" toml:"retry_after_seconds"`
	Temperature       float64  `mapstructure:"temperature"         toml:"temperature"`
	TopP              float64  `mapstructure:"top_p"               toml:"top_p"`
	MaxTokens         int      `mapstructure:"max_tokens"          toml:"max_tokens"`
}

// CacheConfig controls the deterministic completion cache.
type CacheConfig struct {
	Enabled bool `mapstructure:"enabled" toml:"enabled"`
	Size    int  `mapstructure:"size"    toml:"size"`
}

// RateLimitConfig controls inbound per-client rate limiting.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled" toml:"enabled"`
	Rate    float64 `mapstructure:"rate"    toml:"rate"` // requests per second
	Burst   int     `mapstructure:"burst"   toml:"burst"`
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"`     // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`     // e.g. "localhost:4317"
	ServiceName string  `mapstructure:"service_name" toml:"service_name"` // defaults to "keygate"
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`  // 0.0 to 1.0
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`     // skip TLS for dev
}

// MetricsConfig controls the audit log retention and the metrics endpoint.
type MetricsConfig struct {
	Enabled       bool `mapstructure:"enabled"        toml:"enabled"`
	RetentionDays int  `mapstructure:"retention_days" toml:"retention_days"`
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (KEYGATE_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.keygate/keygate.toml
//  4. ./keygate.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	// Set all defaults from the default config so viper knows every key.
	setViperDefaults(v)

	// Environment variable overlay: KEYGATE_SERVER_PORT etc.
	v.SetEnvPrefix("KEYGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Determine which file(s) to read.
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".keygate"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("keygate")
	}

	if err := v.ReadInConfig(); err != nil {
		// If no config file exists we still proceed with defaults + env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Store the resolved config file path.
	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Expand ~ in data_dir.
	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// InitConfig writes the default configuration file to ~/.keygate/keygate.toml.
// If the file already exists it is not overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".keygate")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := DefaultConfig()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ExportConfig writes the current config to the given path in TOML format.
// The auth token is blanked so exports can be shared.
func ExportConfig(path string) error {
	cfg := *Get()
	cfg.Auth.Token = ""
	data, err := toml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every known key with viper so that env var binding
// works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// Server
	v.SetDefault("server.bind_address", d.Server.BindAddress)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.tls_enabled", d.Server.TLSEnabled)
	v.SetDefault("server.cert_file", d.Server.CertFile)
	v.SetDefault("server.key_file", d.Server.KeyFile)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)

	// Auth
	v.SetDefault("auth.enabled", d.Auth.Enabled)
	v.SetDefault("auth.token", d.Auth.Token)

	// Upstream
	v.SetDefault("upstream.base_url", d.Upstream.BaseURL)
	v.SetDefault("upstream.timeout", d.Upstream.Timeout)

	// Credentials
	v.SetDefault("credentials.key_refs", d.Credentials.KeyRefs)

	// Pool
	v.SetDefault("pool.cooldown_base_seconds", d.Pool.CooldownBaseSeconds)
	v.SetDefault("pool.cooldown_multipliers", d.Pool.CooldownMultipliers)
	v.SetDefault("pool.cooldown_ceiling_seconds", d.Pool.CooldownCeilingSeconds)
	v.SetDefault("pool.stagger_seconds", d.Pool.StaggerSeconds)
	v.SetDefault("pool.decay_on_success", d.Pool.DecayOnSuccess)

	// Dispatch
	v.SetDefault("dispatch.tiers", d.Dispatch.Tiers)
	v.SetDefault("dispatch.max_attempts", d.Dispatch.MaxAttempts)
	v.SetDefault("dispatch.retry_after_seconds", d.Dispatch.RetryAfterSeconds)
	v.SetDefault("dispatch.temperature", d.Dispatch.Temperature)
	v.SetDefault("dispatch.top_p", d.Dispatch.TopP)
	v.SetDefault("dispatch.max_tokens", d.Dispatch.MaxTokens)

	// Cache
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.size", d.Cache.Size)

	// RateLimit
	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.rate", d.RateLimit.Rate)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)

	// Tracing
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)

	// Metrics
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.retention_days", d.Metrics.RetentionDays)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
