package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/keygate/internal/api"
	"github.com/allaspectsdev/keygate/internal/cache"
	"github.com/allaspectsdev/keygate/internal/config"
	"github.com/allaspectsdev/keygate/internal/dispatch"
	"github.com/allaspectsdev/keygate/internal/metrics"
	"github.com/allaspectsdev/keygate/internal/pool"
	"github.com/allaspectsdev/keygate/internal/store"
	"github.com/allaspectsdev/keygate/internal/tokenizer"
	"github.com/allaspectsdev/keygate/internal/tracing"
	"github.com/allaspectsdev/keygate/internal/upstream"
	"github.com/allaspectsdev/keygate/internal/vault"
	"github.com/allaspectsdev/keygate/internal/version"
)

// Run is the main daemon orchestrator. It initialises all subsystems, starts
// the gateway server, and blocks until a shutdown signal is received.
func Run(cfg *config.Config, foreground bool) error {
	// 1. Set up zerolog logger.
	dataDir := expandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	zerolog.SetGlobalLevel(logLevel)

	writers := []io.Writer{}

	// Always log to file.
	logPath := filepath.Join(dataDir, "keygate.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logFile.Close()
	writers = append(writers, logFile)

	// If foreground, also write to stdout with console formatting.
	if foreground {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
		writers = append(writers, consoleWriter)
	}

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "keygate").Logger()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("keygate starting")

	// 2. Check if already running.
	if IsRunning(dataDir) {
		return fmt.Errorf("keygate is already running (PID file exists at %s)", filepath.Join(dataDir, pidFilename))
	}

	// 3. Open the audit store.
	dbPath := filepath.Join(dataDir, "keygate.db")
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	log.Info().Str("db_path", dbPath).Msg("store opened")

	// 4. Create metrics collector.
	collector := metrics.NewCollector()

	// 5. Initialise tracing.
	if cfg.Tracing.Enabled {
		shutdown, traceErr := tracing.Init(
			context.Background(),
			cfg.Tracing.ServiceName,
			version.Version,
			cfg.Tracing.Exporter,
			cfg.Tracing.Endpoint,
			cfg.Tracing.SampleRate,
			cfg.Tracing.Insecure,
		)
		if traceErr != nil {
			log.Warn().Err(traceErr).Msg("failed to initialise tracing; continuing without it")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					log.Error().Err(err).Msg("tracing shutdown error")
				}
			}()
			log.Info().Str("exporter", cfg.Tracing.Exporter).Msg("tracing initialised")
		}
	}

	// 6. Resolve credentials and build the pool.
	if len(cfg.Credentials.KeyRefs) == 0 {
		return fmt.Errorf("no credentials configured: add key_refs under [credentials] or run `keygate keys add`")
	}
	v := vault.New()
	secrets, err := v.ResolveAll(cfg.Credentials.KeyRefs)
	if err != nil {
		return fmt.Errorf("resolving credentials: %w", err)
	}

	p, err := pool.New(secrets, poolOptions(cfg.Pool), log.Logger)
	if err != nil {
		return fmt.Errorf("building credential pool: %w", err)
	}
	log.Info().Int("credentials", p.Size()).Msg("credential pool ready")

	// 7. Wire the dispatcher to the upstream client.
	client := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.TimeoutDuration(), log.Logger)
	d, err := dispatch.New(p, client, dispatch.Config{
		Tiers:       cfg.Dispatch.Tiers,
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		RetryAfter:  cfg.Dispatch.RetryAfterSeconds,
		Temperature: cfg.Dispatch.Temperature,
		TopP:        cfg.Dispatch.TopP,
		MaxTokens:   cfg.Dispatch.MaxTokens,
	}, log.Logger, collector)
	if err != nil {
		return fmt.Errorf("building dispatcher: %w", err)
	}

	// 8. Completion cache.
	completionCache, err := cache.New(cfg.Cache.Size, cache.DefaultTTL, cfg.Cache.Enabled)
	if err != nil {
		return fmt.Errorf("building completion cache: %w", err)
	}

	// 9. Write PID file.
	if err := WritePID(dataDir); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	log.Info().Int("pid", os.Getpid()).Msg("PID file written")

	// 10. Start config watcher. Pool tuning and log level apply live;
	// anything else needs a restart.
	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}

	var watcher *config.Watcher
	if _, statErr := os.Stat(configFile); statErr == nil {
		w, watchErr := config.Watch(configFile)
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			watcher = w
			defer watcher.Close()
			watcher.OnChange(func(old, newCfg *config.Config) {
				log.Info().Msg("configuration reloaded")
				zerolog.SetGlobalLevel(parseLogLevel(newCfg.Server.LogLevel))
				p.SetOptions(poolOptions(newCfg.Pool))
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	// 11. Background maintenance.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	prunerDone := make(chan struct{})
	go func() {
		defer close(prunerDone)
		runPruner(bgCtx, st, cfg.Metrics.RetentionDays)
	}()
	purgerDone := completionCache.StartPurger(bgCtx)

	// 12. Build the HTTP server.
	handler := api.NewHandler(d, p, completionCache, st, tokenizer.New(), collector, log.Logger, cfg.Server.MaxBodySize)

	var limiter *api.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = api.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, true)
	}

	authToken := ""
	if cfg.Auth.Enabled {
		authToken = cfg.Auth.Token
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	srv := api.NewServer(handler, addr, api.ServerOptions{
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    time.Duration(cfg.Server.IdleTimeout) * time.Second,
		TracingEnabled: cfg.Tracing.Enabled,
		AuthToken:      authToken,
		RateLimiter:    limiter,
		MetricsEnabled: cfg.Metrics.Enabled,
	})

	errCh := make(chan error, 1)
	go func() {
		if cfg.Server.TLSEnabled {
			log.Info().Str("addr", addr).Msg("gateway server starting (TLS)")
			if err := srv.StartTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("gateway server: %w", err)
			}
		} else {
			log.Info().Str("addr", addr).Msg("gateway server starting")
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("gateway server: %w", err)
			}
		}
	}()

	scheme := "http"
	if cfg.Server.TLSEnabled {
		scheme = "https"
	}

	log.Info().
		Str("addr", addr).
		Int("credentials", p.Size()).
		Int("tiers", len(cfg.Dispatch.Tiers)).
		Bool("tls", cfg.Server.TLSEnabled).
		Msg("keygate is ready")

	if foreground {
		fmt.Printf("\n  Keygate is running!\n")
		fmt.Printf("  Gateway: %s://%s\n\n", scheme, addr)
	}

	// 13. Wait for shutdown signal or fatal error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		return err
	}

	// 14. Graceful shutdown with 30-second timeout.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down...")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway server shutdown error")
	}

	// Wait for background goroutines before the deferred store close runs.
	bgCancel()
	<-purgerDone
	<-prunerDone
	if err := RemovePID(dataDir); err != nil {
		log.Error().Err(err).Msg("failed to remove PID file during shutdown")
	}

	log.Info().Msg("keygate stopped")
	return nil
}

// poolOptions maps the pool section of the config onto pool.Options.
func poolOptions(pc config.PoolConfig) pool.Options {
	return pool.Options{
		CooldownBase:        pc.CooldownBaseDuration(),
		CooldownMultipliers: pc.CooldownMultipliers,
		CooldownCeiling:     pc.CooldownCeilingDuration(),
		StaggerInterval:     pc.StaggerDuration(),
		DecayOnSuccess:      pc.DecayOnSuccess,
	}
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop() error {
	dataDir := expandHome(config.Get().Server.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("keygate does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		// Stale PID file; clean it up.
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("keygate is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to keygate (PID %d)\n", pid)

	// Wait briefly for the process to exit.
	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}

	return nil
}

// Status checks if the daemon is running and prints a pool summary.
func Status() error {
	cfg := config.Get()
	dataDir := expandHome(cfg.Server.DataDir)

	if !IsRunning(dataDir) {
		fmt.Println("keygate is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("keygate is running (PID %d)\n", pid)

	// Try to fetch the live pool snapshot from the gateway.
	scheme := "http"
	if cfg.Server.TLSEnabled {
		scheme = "https"
	}
	poolURL := fmt.Sprintf("%s://localhost:%d/v1/pool", scheme, cfg.Server.Port)

	req, err := http.NewRequest(http.MethodGet, poolURL, nil)
	if err != nil {
		return nil
	}
	if cfg.Auth.Enabled && cfg.Auth.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Auth.Token)
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Println("  (gateway unreachable)")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	var snapshot struct {
		Busy        int `json:"busy"`
		Total       int `json:"total"`
		Credentials []struct {
			Hint       string `json:"hint"`
			Available  bool   `json:"available"`
			InFlight   bool   `json:"in_flight"`
			ErrorCount int    `json:"error_count"`
		} `json:"credentials"`
	}
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil
	}

	fmt.Printf("\n  Pool: %d busy / %d total\n", snapshot.Busy, snapshot.Total)
	for _, c := range snapshot.Credentials {
		state := "ready"
		switch {
		case c.InFlight:
			state = "in-flight"
		case !c.Available:
			state = "cooling down"
		}
		fmt.Printf("  %-14s %s", c.Hint, state)
		if c.ErrorCount > 0 {
			fmt.Printf(" (errors: %d)", c.ErrorCount)
		}
		fmt.Println()
	}

	return nil
}

// runPruner periodically prunes old audit rows from the store.
func runPruner(ctx context.Context, st *store.Store, retentionDays int) {
	if retentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Msg("audit pruner: recovered from panic")
					}
				}()
				n, err := st.Prune(retentionDays)
				if err != nil {
					log.Error().Err(err).Msg("audit pruning failed")
				} else if n > 0 {
					log.Info().Int64("rows", n).Int("retention_days", retentionDays).Msg("pruned old audit rows")
				}
			}()
		}
	}
}

// parseLogLevel converts a string log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
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
