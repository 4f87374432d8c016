package config

// DefaultBindAddress is the default bind address (localhost only for security).
const DefaultBindAddress = "127.0.0.1"

// DefaultPort is the default port for the gateway server.
const DefaultPort = 7688

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.keygate"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "keygate.toml"

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 10

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
// Set high (5 minutes) to accommodate slow completion responses.
const DefaultWriteTimeout = 300

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultMaxBodySize is the default maximum request body size in bytes (10 MB).
const DefaultMaxBodySize = 10 << 20

// DefaultUpstreamBaseURL is the default completion service base URL.
const DefaultUpstreamBaseURL = "https://api.openai.com/v1"

// DefaultUpstreamTimeout is the default upstream call timeout in seconds.
const DefaultUpstreamTimeout = 60

// DefaultCooldownBaseSeconds is the default cooldown after a single failure.
const DefaultCooldownBaseSeconds = 15

// DefaultCooldownCeilingSeconds bounds worst-case credential unavailability.
const DefaultCooldownCeilingSeconds = 300

// DefaultStaggerSeconds is the default spacing of initial credential
// last-used stamps at startup.
const DefaultStaggerSeconds = 3

// DefaultRetryAfterSeconds is the wait hint returned when the pool is
// exhausted for a request.
const DefaultRetryAfterSeconds = 30

// DefaultMaxTokens is the default completion token cap when the caller does
// not set one.
const DefaultMaxTokens = 1024

// DefaultTemperature is the default sampling temperature.
const DefaultTemperature = 0.7

// DefaultTopP is the default nucleus sampling parameter.
const DefaultTopP = 1.0

// DefaultCacheSize is the default deterministic completion cache capacity.
const DefaultCacheSize = 256

// DefaultRateLimitRate is the default inbound requests-per-second allowance.
const DefaultRateLimitRate = 10.0

// DefaultRateLimitBurst is the default inbound rate limit burst.
const DefaultRateLimitBurst = 20

// DefaultRetentionDays is the default audit log retention in days.
const DefaultRetentionDays = 30

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "otlp-grpc"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "keygate"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// DefaultCooldownMultipliers scale the base cooldown by consecutive error
// count: 15s, 30s, 1m, 2m, 4m with the default base.
var DefaultCooldownMultipliers = []float64{1, 2, 4, 8, 16}

// DefaultTiers is the default model fallback order, most capable first.
var DefaultTiers = []string{"gpt-4o", "gpt-4o-mini"}

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:  DefaultBindAddress,
			Port:         DefaultPort,
			LogLevel:     DefaultLogLevel,
			DataDir:      DefaultDataDir,
			TLSEnabled:   false,
			CertFile:     "",
			KeyFile:      "",
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			MaxBodySize:  DefaultMaxBodySize,
		},
		Auth: AuthConfig{
			Enabled: false,
			Token:   "",
		},
		Upstream: UpstreamConfig{
			BaseURL: DefaultUpstreamBaseURL,
			Timeout: DefaultUpstreamTimeout,
		},
		Credentials: CredentialsConfig{
			KeyRefs: []string{"keyring://keygate/key-1"},
		},
		Pool: PoolConfig{
			CooldownBaseSeconds:    DefaultCooldownBaseSeconds,
			CooldownMultipliers:    append([]float64(nil), DefaultCooldownMultipliers...),
			CooldownCeilingSeconds: DefaultCooldownCeilingSeconds,
			StaggerSeconds:         DefaultStaggerSeconds,
			DecayOnSuccess:         true,
		},
		Dispatch: DispatchConfig{
			Tiers:             append([]string(nil), DefaultTiers...),
			MaxAttempts:       0, // derived from pool size at startup
			RetryAfterSeconds: DefaultRetryAfterSeconds,
			Temperature:       DefaultTemperature,
			TopP:              DefaultTopP,
			MaxTokens:         DefaultMaxTokens,
		},
		Cache: CacheConfig{
			Enabled: true,
			Size:    DefaultCacheSize,
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			Rate:    DefaultRateLimitRate,
			Burst:   DefaultRateLimitBurst,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
			Insecure:    false,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			RetentionDays: DefaultRetentionDays,
		},
	}
}
