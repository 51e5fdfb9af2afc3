package config

import (
	"time"
)

type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Scan      ScanConfig      `mapstructure:"scan"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	History   HistoryConfig   `mapstructure:"history"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Server    ServerConfig    `mapstructure:"server"`
}

type LoggerConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// BackendConfig describes the remote scanning service each phase is sent to.
type BackendConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	ScanPath         string        `mapstructure:"scan_path"`
	Timeout          time.Duration `mapstructure:"timeout"`
	CompressRequests bool          `mapstructure:"compress_requests"`
}

type ScanConfig struct {
	DefaultMode  string        `mapstructure:"default_mode"`
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// AllowPrivateTargets is for backends deployed inside the network they scan.
	AllowPrivateTargets bool `mapstructure:"allow_private_targets"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	BurstSize         int           `mapstructure:"burst_size"`
	MinDelay          time.Duration `mapstructure:"min_delay"`
}

type HistoryConfig struct {
	// Backend is one of memory, sqlite, postgres or redis.
	Backend  string `mapstructure:"backend"`
	Capacity int    `mapstructure:"capacity"`
	DSN      string `mapstructure:"dsn"`
	RedisKey string `mapstructure:"redis_key"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type ResolverConfig struct {
	Nameserver string        `mapstructure:"nameserver"`
	Timeout    time.Duration `mapstructure:"timeout"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	ExporterType string  `mapstructure:"exporter_type"`
	Endpoint     string  `mapstructure:"endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// APIKey protects the /api routes when set.
	APIKey             string          `mapstructure:"api_key"`
	RateLimit          RateLimitConfig `mapstructure:"rate_limit"`
	MaxConcurrentScans int             `mapstructure:"max_concurrent_scans"`
}

// Default returns the configuration used when no flag, env var or file overrides a value.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stderr"},
		},
		Backend: BackendConfig{
			ScanPath: "/functions/v1/scan",
			Timeout:  5 * time.Minute,
		},
		Scan: ScanConfig{
			DefaultMode:  "light",
			TickInterval: 1200 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 2.0,
			BurstSize:         1,
			MinDelay:          250 * time.Millisecond,
		},
		History: HistoryConfig{
			Backend:  "sqlite",
			Capacity: 10,
			RedisKey: "scanrelay:history",
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Resolver: ResolverConfig{
			Timeout:  5 * time.Second,
			CacheTTL: 5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "scanrelay",
			ExporterType: "otlp",
			Endpoint:     "localhost:4318",
			SampleRate:   1.0,
		},
		Server: ServerConfig{
			Addr:               ":8080",
			ShutdownTimeout:    10 * time.Second,
			MaxConcurrentScans: 4,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 20,
				BurstSize:         40,
			},
		},
	}
}

// ApplyDefaults fills zero values left after decoding with the values from Default.
func (c *Config) ApplyDefaults() {
	d := Default()

	if c.Logger.Level == "" {
		c.Logger.Level = d.Logger.Level
	}
	if c.Logger.Format == "" {
		c.Logger.Format = d.Logger.Format
	}
	if len(c.Logger.OutputPaths) == 0 {
		c.Logger.OutputPaths = d.Logger.OutputPaths
	}
	if c.Backend.ScanPath == "" {
		c.Backend.ScanPath = d.Backend.ScanPath
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = d.Backend.Timeout
	}
	if c.Scan.DefaultMode == "" {
		c.Scan.DefaultMode = d.Scan.DefaultMode
	}
	if c.Scan.TickInterval == 0 {
		c.Scan.TickInterval = d.Scan.TickInterval
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = d.RateLimit.RequestsPerSecond
	}
	if c.RateLimit.BurstSize == 0 {
		c.RateLimit.BurstSize = d.RateLimit.BurstSize
	}
	if c.History.Backend == "" {
		c.History.Backend = d.History.Backend
	}
	if c.History.Capacity <= 0 {
		c.History.Capacity = d.History.Capacity
	}
	if c.History.RedisKey == "" {
		c.History.RedisKey = d.History.RedisKey
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = d.Redis.Addr
	}
	if c.Resolver.Timeout == 0 {
		c.Resolver.Timeout = d.Resolver.Timeout
	}
	if c.Resolver.CacheTTL == 0 {
		c.Resolver.CacheTTL = d.Resolver.CacheTTL
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = d.Telemetry.ServiceName
	}
	if c.Telemetry.ExporterType == "" {
		c.Telemetry.ExporterType = d.Telemetry.ExporterType
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Server.MaxConcurrentScans <= 0 {
		c.Server.MaxConcurrentScans = d.Server.MaxConcurrentScans
	}
}
