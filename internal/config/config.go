package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Upload    UploadConfig    `yaml:"upload"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	UsageLog  UsageLogConfig  `yaml:"usage_log"`
	Security  SecurityConfig  `yaml:"security"`
	LogLevel  string          `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            int `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     int `yaml:"read_timeout" validate:"min=1"`
	WriteTimeout    int `yaml:"write_timeout" validate:"min=1"`
	ShutdownTimeout int `yaml:"shutdown_timeout" validate:"min=1"`
}

// RateLimitConfig holds admission control settings
type RateLimitConfig struct {
	Backend       string        `yaml:"backend" validate:"oneof=memory redis"`
	Window        time.Duration `yaml:"window" validate:"min=1s"`
	MaxRequests   int           `yaml:"max_requests" validate:"min=1"`
	MaxClients    int           `yaml:"max_clients" validate:"min=1"`
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"min=1s"`
}

// UploadConfig holds limits for incoming images
type UploadConfig struct {
	MaxFileSize  int64    `yaml:"max_file_size" validate:"min=1"`
	AllowedTypes []string `yaml:"allowed_types" validate:"min=1"`
}

// ScannerConfig holds preprocessing and decode settings
type ScannerConfig struct {
	Workers         int           `yaml:"workers" validate:"min=1"`
	Timeout         time.Duration `yaml:"timeout" validate:"min=1ms"`
	MinModulePixels float64       `yaml:"min_module_pixels" validate:"gt=0"`
	MaxModulePixels float64       `yaml:"max_module_pixels" validate:"gtefield=MinModulePixels"`
	MaxPixels       int           `yaml:"max_pixels" validate:"min=1"`
	MaxSourcePixels int           `yaml:"max_source_pixels" validate:"min=1"`
	Resampler       string        `yaml:"resampler" validate:"oneof=catmullrom approxbilinear lanczos"`
}

// StoreConfig holds the usage log persistence settings
type StoreConfig struct {
	Driver         string        `yaml:"driver" validate:"oneof=sqlite postgres mysql redis memory"`
	DSN            string        `yaml:"dsn"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"min=1ms"`
}

// RedisConfig holds Redis-related configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// UsageLogConfig holds settings for the asynchronous usage logger
type UsageLogConfig struct {
	QueueSize     int           `yaml:"queue_size" validate:"min=1"`
	Workers       int           `yaml:"workers" validate:"min=1"`
	WriteTimeout  time.Duration `yaml:"write_timeout" validate:"min=1ms"`
	RetentionDays int           `yaml:"retention_days" validate:"min=0"`
	StoreClientIP bool          `yaml:"store_client_ip"`
	StorePayload  bool          `yaml:"store_payload"`
}

// SecurityConfig holds API access settings
type SecurityConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15,
			WriteTimeout:    20,
			ShutdownTimeout: 10,
		},
		RateLimit: RateLimitConfig{
			Backend:       "memory",
			Window:        time.Minute,
			MaxRequests:   10,
			MaxClients:    100000,
			SweepInterval: time.Minute,
		},
		Upload: UploadConfig{
			MaxFileSize:  10 * 1024 * 1024,
			AllowedTypes: []string{"image/png", "image/jpeg", "image/gif", "image/webp"},
		},
		Scanner: ScannerConfig{
			Workers:         4,
			Timeout:         10 * time.Second,
			MinModulePixels: 10,
			MaxModulePixels: 15,
			MaxPixels:       16 * 1024 * 1024,
			MaxSourcePixels: 50 * 1000 * 1000,
			Resampler:       "catmullrom",
		},
		Store: StoreConfig{
			Driver:         "sqlite",
			DSN:            "qrscan.db",
			ConnectTimeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "qrscan:",
		},
		UsageLog: UsageLogConfig{
			QueueSize:     1024,
			Workers:       2,
			WriteTimeout:  5 * time.Second,
			RetentionDays: 30,
		},
		LogLevel: "info",
	}
}

// Load loads configuration from defaults, an optional YAML file and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (optional)
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// applyEnv overrides cfg with environment variables, keeping current values as defaults
func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvAsInt("SERVER_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvAsInt("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvAsInt("SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.ShutdownTimeout = getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.RateLimit.Backend = getEnv("RATE_LIMIT_BACKEND", cfg.RateLimit.Backend)
	cfg.RateLimit.Window = getEnvAsDuration("RATE_LIMIT_WINDOW", cfg.RateLimit.Window)
	cfg.RateLimit.MaxRequests = getEnvAsInt("RATE_LIMIT_MAX_REQUESTS", cfg.RateLimit.MaxRequests)
	cfg.RateLimit.MaxClients = getEnvAsInt("RATE_LIMIT_MAX_CLIENTS", cfg.RateLimit.MaxClients)
	cfg.RateLimit.SweepInterval = getEnvAsDuration("RATE_LIMIT_SWEEP_INTERVAL", cfg.RateLimit.SweepInterval)

	cfg.Upload.MaxFileSize = int64(getEnvAsInt("UPLOAD_MAX_FILE_SIZE", int(cfg.Upload.MaxFileSize)))
	cfg.Upload.AllowedTypes = getEnvAsList("UPLOAD_ALLOWED_TYPES", cfg.Upload.AllowedTypes)

	cfg.Scanner.Workers = getEnvAsInt("SCANNER_WORKERS", cfg.Scanner.Workers)
	cfg.Scanner.Timeout = getEnvAsDuration("SCANNER_TIMEOUT", cfg.Scanner.Timeout)
	cfg.Scanner.MinModulePixels = getEnvAsFloat("SCANNER_MIN_MODULE_PIXELS", cfg.Scanner.MinModulePixels)
	cfg.Scanner.MaxModulePixels = getEnvAsFloat("SCANNER_MAX_MODULE_PIXELS", cfg.Scanner.MaxModulePixels)
	cfg.Scanner.MaxPixels = getEnvAsInt("SCANNER_MAX_PIXELS", cfg.Scanner.MaxPixels)
	cfg.Scanner.MaxSourcePixels = getEnvAsInt("SCANNER_MAX_SOURCE_PIXELS", cfg.Scanner.MaxSourcePixels)
	cfg.Scanner.Resampler = getEnv("SCANNER_RESAMPLER", cfg.Scanner.Resampler)

	cfg.Store.Driver = getEnv("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.DSN = getEnv("STORE_DSN", cfg.Store.DSN)
	cfg.Store.ConnectTimeout = getEnvAsDuration("STORE_CONNECT_TIMEOUT", cfg.Store.ConnectTimeout)

	cfg.Redis.Addr = getRedisAddr(cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.Prefix = getEnv("REDIS_PREFIX", cfg.Redis.Prefix)

	cfg.UsageLog.QueueSize = getEnvAsInt("USAGE_LOG_QUEUE_SIZE", cfg.UsageLog.QueueSize)
	cfg.UsageLog.Workers = getEnvAsInt("USAGE_LOG_WORKERS", cfg.UsageLog.Workers)
	cfg.UsageLog.WriteTimeout = getEnvAsDuration("USAGE_LOG_WRITE_TIMEOUT", cfg.UsageLog.WriteTimeout)
	cfg.UsageLog.RetentionDays = getEnvAsInt("MAX_LOG_RETENTION_DAYS", cfg.UsageLog.RetentionDays)
	cfg.UsageLog.StoreClientIP = getEnvAsBool("STORE_IP", cfg.UsageLog.StoreClientIP)
	cfg.UsageLog.StorePayload = getEnvAsBool("STORE_QR_CONTENT", cfg.UsageLog.StorePayload)

	cfg.Security.APIKeys = getEnvAsList("API_KEYS", cfg.Security.APIKeys)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("90s") or a bare number of seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}

// getRedisAddr resolves REDIS_URL (with or without the redis:// scheme), then REDIS_ADDR
func getRedisAddr(defaultValue string) string {
	if url := os.Getenv("REDIS_URL"); url != "" {
		return strings.TrimPrefix(url, "redis://")
	}
	return getEnv("REDIS_ADDR", defaultValue)
}
