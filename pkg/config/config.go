package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"rtcstats/pkg/tracing"

	"gopkg.in/yaml.v2"
)

// Store backends
const (
	BackendMemory  = "memory"
	BackendMongoDB = "mongodb"
	BackendRedis   = "redis"
)

// Archive backends
const (
	ArchiveFile = "file"
	ArchiveS3   = "s3"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		MaxBodyBytes    int64         `yaml:"max_body_bytes"`
		MaxBatchSize    int           `yaml:"max_batch_size"`
	} `yaml:"server"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Store struct {
		Backend          string `yaml:"backend"`
		FallbackToMemory bool   `yaml:"fallback_to_memory"`

		CircuitBreaker struct {
			Enabled          bool          `yaml:"enabled"`
			FailureThreshold int           `yaml:"failure_threshold"`
			SuccessThreshold int           `yaml:"success_threshold"`
			Timeout          time.Duration `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"store"`

	MongoDB struct {
		URI            string        `yaml:"uri"`
		DB             string        `yaml:"db"`
		Collection     string        `yaml:"collection"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
	} `yaml:"mongodb"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Archive struct {
		Backend   string `yaml:"backend"`
		Directory string `yaml:"directory"`
		TempDir   string `yaml:"temp_dir"`

		S3 struct {
			Bucket   string `yaml:"bucket"`
			Prefix   string `yaml:"prefix"`
			Region   string `yaml:"region"`
			Endpoint string `yaml:"endpoint"`
		} `yaml:"s3"`
	} `yaml:"archive"`

	Events struct {
		Enabled bool   `yaml:"enabled"`
		Channel string `yaml:"channel"`
	} `yaml:"events"`

	Persist struct {
		MaxAttempts  int           `yaml:"max_attempts"`
		InitialDelay time.Duration `yaml:"initial_delay"`
		MaxDelay     time.Duration `yaml:"max_delay"`
		Multiplier   float64       `yaml:"multiplier"`
		Jitter       bool          `yaml:"jitter"`
		Timeout      time.Duration `yaml:"timeout"`
		Workers      int           `yaml:"workers"`
	} `yaml:"persist"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"`
		TokenTTL       time.Duration `yaml:"token_ttl"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		MaxConcurrent     int     `yaml:"max_concurrent"`
	} `yaml:"rate_limiting"`

	Tracing tracing.Config `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be > 0")
	}
	if c.Server.MaxBatchSize <= 0 {
		return fmt.Errorf("server.max_batch_size must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Store
	switch c.Store.Backend {
	case BackendMemory:
	case BackendMongoDB:
		if c.MongoDB.URI == "" {
			return fmt.Errorf("mongodb.uri must not be empty when store.backend=mongodb")
		}
		if c.MongoDB.DB == "" || c.MongoDB.Collection == "" {
			return fmt.Errorf("mongodb.db and mongodb.collection must be set when store.backend=mongodb")
		}
	case BackendRedis:
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when store.backend=redis")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when store.backend=redis")
		}
	default:
		return fmt.Errorf("store.backend must be one of memory, mongodb, redis; got %q", c.Store.Backend)
	}

	if c.Store.CircuitBreaker.Enabled {
		if c.Store.CircuitBreaker.FailureThreshold < 1 || c.Store.CircuitBreaker.SuccessThreshold < 1 {
			return fmt.Errorf("store.circuit_breaker thresholds must be >= 1")
		}
		if c.Store.CircuitBreaker.Timeout <= 0 {
			return fmt.Errorf("store.circuit_breaker.timeout must be > 0")
		}
	}

	// Archive
	switch c.Archive.Backend {
	case ArchiveFile:
	case ArchiveS3:
		if c.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket must not be empty when archive.backend=s3")
		}
	default:
		return fmt.Errorf("archive.backend must be one of file, s3; got %q", c.Archive.Backend)
	}

	// Events
	if c.Events.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when events are enabled")
		}
		if c.Events.Channel == "" {
			return fmt.Errorf("events.channel must not be empty when events are enabled")
		}
	}

	// Persist
	if c.Persist.MaxAttempts < 1 {
		return fmt.Errorf("persist.max_attempts must be >= 1")
	}
	if c.Persist.InitialDelay < 0 || c.Persist.MaxDelay < c.Persist.InitialDelay {
		return fmt.Errorf("persist.initial_delay must be >= 0 and <= persist.max_delay")
	}
	if c.Persist.Multiplier < 1 {
		return fmt.Errorf("persist.multiplier must be >= 1")
	}
	if c.Persist.Timeout <= 0 {
		return fmt.Errorf("persist.timeout must be > 0")
	}
	if c.Persist.Workers <= 0 {
		return fmt.Errorf("persist.workers must be > 0")
	}

	// Auth
	if c.Auth.JWTSecret != "" && c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0 when auth.jwt_secret is set")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.max_concurrent must be >= 0 when rate limiting is enabled")
		}
	}

	// Tracing
	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":3000"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second
	cfg.Server.MaxBodyBytes = 64 << 20
	cfg.Server.MaxBatchSize = 100

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Store.Backend = BackendMemory
	cfg.Store.CircuitBreaker.Enabled = true
	cfg.Store.CircuitBreaker.FailureThreshold = 5
	cfg.Store.CircuitBreaker.SuccessThreshold = 2
	cfg.Store.CircuitBreaker.Timeout = 10 * time.Second

	cfg.MongoDB.DB = "rtcstats"
	cfg.MongoDB.Collection = "metadata"
	cfg.MongoDB.ConnectTimeout = 10 * time.Second

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Archive.Backend = ArchiveFile

	cfg.Events.Enabled = false
	cfg.Events.Channel = "rtcstats:events"

	cfg.Persist.MaxAttempts = 16
	cfg.Persist.InitialDelay = 5 * time.Millisecond
	cfg.Persist.MaxDelay = 500 * time.Millisecond
	cfg.Persist.Multiplier = 2.0
	cfg.Persist.Jitter = true
	cfg.Persist.Timeout = 30 * time.Second
	cfg.Persist.Workers = 8

	cfg.Auth.TokenTTL = 24 * time.Hour
	cfg.Auth.AllowedOrigins = []string{"*"}

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 50
	cfg.RateLimiting.Burst = 100
	cfg.RateLimiting.MaxConcurrent = 0

	cfg.Tracing = tracing.DefaultConfig()

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("RTCSTATS_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("RTCSTATS_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if backend := os.Getenv("RTCSTATS_STORE_BACKEND"); backend != "" {
		c.Store.Backend = backend
	}
	if uri := os.Getenv("RTCSTATS_MONGODB_URI"); uri != "" {
		c.MongoDB.URI = uri
	}
	if addr := os.Getenv("RTCSTATS_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if dir := os.Getenv("RTCSTATS_ARCHIVE_DIRECTORY"); dir != "" {
		c.Archive.Directory = dir
	}
	if backend := os.Getenv("RTCSTATS_ARCHIVE_BACKEND"); backend != "" {
		c.Archive.Backend = backend
	}
	if bucket := os.Getenv("RTCSTATS_ARCHIVE_S3_BUCKET"); bucket != "" {
		c.Archive.S3.Bucket = bucket
	}
	if enabled := os.Getenv("RTCSTATS_EVENTS_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			c.Events.Enabled = b
		}
	}
	if secret := os.Getenv("RTCSTATS_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if attempts := os.Getenv("RTCSTATS_PERSIST_MAX_ATTEMPTS"); attempts != "" {
		if n, err := strconv.Atoi(attempts); err == nil {
			c.Persist.MaxAttempts = n
		}
	}
}
