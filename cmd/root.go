package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/config"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "scanrelay",
	Short: "Run phased web security scans against a remote scanning backend",
	Long: `scanrelay - phased security scan orchestrator

Runs a light, deep or network scan against a target by invoking each scan
phase on the remote backend in turn, shows progress while phases run and
prints a consolidated report with remediation recommendations.

COMMANDS:
  scanrelay scan <target>     - Run a scan and print the report
  scanrelay phases [mode]     - Show the phases each scan mode runs
  scanrelay history           - Show the most recent scans
  scanrelay resolve <host>    - Resolve a host to its IP address
  scanrelay serve             - Start the dashboard API server

CONFIGURATION:
  Flags, SCANRELAY_* environment variables and an optional config file
  (--config, or .scanrelay.yaml in the working or home directory).
  The backend is set with --backend-url or SCANRELAY_BACKEND_BASE_URL and
  its key with SCANRELAY_BACKEND_API_KEY.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		if err := initConfig(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		var err error
		log, err = logger.New(cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		log.Debugw("Configuration loaded",
			"config_file", viper.ConfigFileUsed(),
			"backend", cfg.Backend.BaseURL,
			"history_backend", cfg.History.Backend,
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log == nil {
			return
		}
		// Sync on stdout/stderr returns EINVAL on Linux; nothing to report there.
		if err := log.Sync(); err != nil && !strings.Contains(err.Error(), "invalid argument") {
			fmt.Fprintf(os.Stderr, "Warning: failed to sync logger: %v\n", err)
		}
	},
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.Version = logger.Version

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .scanrelay.yaml)")

	// Logging configuration
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (json, console)")
	viper.BindPFlag("logger.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logger.format", rootCmd.PersistentFlags().Lookup("log-format"))

	// Backend configuration
	rootCmd.PersistentFlags().String("backend-url", "", "base URL of the scanning backend")
	rootCmd.PersistentFlags().Duration("backend-timeout", config.Default().Backend.Timeout, "timeout for a single phase call")
	rootCmd.PersistentFlags().Bool("compress", false, "gzip request bodies sent to the backend")
	viper.BindPFlag("backend.base_url", rootCmd.PersistentFlags().Lookup("backend-url"))
	viper.BindPFlag("backend.timeout", rootCmd.PersistentFlags().Lookup("backend-timeout"))
	viper.BindPFlag("backend.compress_requests", rootCmd.PersistentFlags().Lookup("compress"))

	// Pacing of backend calls
	rootCmd.PersistentFlags().Float64("rate-limit", config.Default().RateLimit.RequestsPerSecond, "backend requests per second")
	rootCmd.PersistentFlags().Int("rate-burst", config.Default().RateLimit.BurstSize, "backend rate limit burst size")
	viper.BindPFlag("rate_limit.requests_per_second", rootCmd.PersistentFlags().Lookup("rate-limit"))
	viper.BindPFlag("rate_limit.burst_size", rootCmd.PersistentFlags().Lookup("rate-burst"))

	// History storage
	rootCmd.PersistentFlags().String("history-backend", config.Default().History.Backend, "history store (memory, sqlite, postgres, redis)")
	rootCmd.PersistentFlags().String("history-dsn", "", "history database DSN or sqlite file path")
	rootCmd.PersistentFlags().String("redis-addr", config.Default().Redis.Addr, "Redis server address")
	viper.BindPFlag("history.backend", rootCmd.PersistentFlags().Lookup("history-backend"))
	viper.BindPFlag("history.dsn", rootCmd.PersistentFlags().Lookup("history-dsn"))
	viper.BindPFlag("redis.addr", rootCmd.PersistentFlags().Lookup("redis-addr"))

	// Secrets come from the environment or config file, never flags
	viper.BindEnv("backend.api_key", "SCANRELAY_BACKEND_API_KEY")
	viper.BindEnv("redis.password", "SCANRELAY_REDIS_PASSWORD")
	viper.BindEnv("server.api_key", "SCANRELAY_SERVER_API_KEY")

	viper.BindEnv("backend.base_url", "SCANRELAY_BACKEND_BASE_URL", "SCANRELAY_BACKEND_URL")
	viper.BindEnv("history.dsn", "SCANRELAY_HISTORY_DSN", "DATABASE_URL")
	viper.BindEnv("telemetry.enabled", "SCANRELAY_TELEMETRY_ENABLED")
	viper.BindEnv("telemetry.endpoint", "SCANRELAY_TELEMETRY_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")

	d := config.Default()
	viper.SetDefault("scan.default_mode", d.Scan.DefaultMode)
	viper.SetDefault("scan.tick_interval", d.Scan.TickInterval)
	viper.SetDefault("scan.allow_private_targets", d.Scan.AllowPrivateTargets)
	viper.SetDefault("rate_limit.min_delay", d.RateLimit.MinDelay)
	viper.SetDefault("history.capacity", d.History.Capacity)
	viper.SetDefault("history.redis_key", d.History.RedisKey)
	viper.SetDefault("redis.max_retries", d.Redis.MaxRetries)
	viper.SetDefault("redis.dial_timeout", d.Redis.DialTimeout)
	viper.SetDefault("redis.read_timeout", d.Redis.ReadTimeout)
	viper.SetDefault("redis.write_timeout", d.Redis.WriteTimeout)
	viper.SetDefault("resolver.timeout", d.Resolver.Timeout)
	viper.SetDefault("resolver.cache_ttl", d.Resolver.CacheTTL)
	viper.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	viper.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	viper.SetDefault("telemetry.exporter_type", d.Telemetry.ExporterType)
	viper.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	viper.SetDefault("telemetry.sample_rate", d.Telemetry.SampleRate)
	viper.SetDefault("server.addr", d.Server.Addr)
	viper.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	viper.SetDefault("server.max_concurrent_scans", d.Server.MaxConcurrentScans)
	viper.SetDefault("server.rate_limit.requests_per_second", d.Server.RateLimit.RequestsPerSecond)
	viper.SetDefault("server.rate_limit.burst_size", d.Server.RateLimit.BurstSize)
	viper.SetDefault("logger.output_paths", d.Logger.OutputPaths)
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".scanrelay")
	}

	viper.SetEnvPrefix("SCANRELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg = &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()

	return nil
}
