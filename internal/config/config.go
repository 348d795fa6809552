package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the namespace for every environment variable read by Load.
const EnvPrefix = "ISXLIC"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	Storage   StorageConfig   `yaml:"storage" envconfig:"STORAGE"`
	Keys      KeysConfig      `yaml:"keys" envconfig:"KEYS"`
	Trial     TrialConfig     `yaml:"trial" envconfig:"TRIAL"`
	Guard     GuardConfig     `yaml:"guard" envconfig:"GUARD"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST"`

	// AllowedOrigins limits browser origins for the event stream; the
	// server's own host is always allowed.
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`

	// Admin enables the revoke and audit endpoints.
	Admin bool `yaml:"admin" envconfig:"ADMIN"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TelemetryConfig toggles the OpenTelemetry exporters
type TelemetryConfig struct {
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DataDir string `yaml:"data_dir" envconfig:"DATA_DIR"`
	LogsDir string `yaml:"logs_dir" envconfig:"LOGS_DIR"`
}

// StoreConfig configures the secure store adapter
type StoreConfig struct {
	// Backend is one of auto, keyring, file or memory.
	Backend    string        `yaml:"backend" envconfig:"BACKEND"`
	Service    string        `yaml:"service" envconfig:"SERVICE"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	Passphrase string        `yaml:"passphrase" envconfig:"PASSPHRASE"`
}

// StorageConfig selects where the revocation registry, audit log and key
// catalog live.
type StorageConfig struct {
	// Driver is file or postgres.
	Driver   string `yaml:"driver" envconfig:"DRIVER"`
	DSN      string `yaml:"dsn" envconfig:"DSN"`
	MaxConns int    `yaml:"max_conns" envconfig:"MAX_CONNS"`
}

// KeysConfig holds verification and local issuing key material.
// HMACSecret and IssuerSecret are base64 (std encoding); Ed25519PublicKey is
// base64 of the 32 byte public key.
type KeysConfig struct {
	HMACSecret       string `yaml:"hmac_secret" envconfig:"HMAC_SECRET"`
	Ed25519PublicKey string `yaml:"ed25519_public_key" envconfig:"ED25519_PUBLIC_KEY"`
	IssuerSecret     string `yaml:"issuer_secret" envconfig:"ISSUER_SECRET"`
}

// TrialConfig bounds locally generated trial licenses
type TrialConfig struct {
	MaxDays int `yaml:"max_days" envconfig:"MAX_DAYS"`
}

// GuardConfig configures the activation attempt guard
type GuardConfig struct {
	AttemptsPerMinute float64       `yaml:"attempts_per_minute" envconfig:"ATTEMPTS_PER_MINUTE"`
	Burst             int           `yaml:"burst" envconfig:"BURST"`
	MaxFailures       int           `yaml:"max_failures" envconfig:"MAX_FAILURES"`
	BlockDuration     time.Duration `yaml:"block_duration" envconfig:"BLOCK_DURATION"`
}

// Load loads configuration from the YAML file (when present) and then
// overlays environment variables, which take precedence.
func Load() (*Config, error) {
	return LoadFile(getConfigFilePath())
}

// LoadFile is Load with an explicit config file; an empty path means env only.
func LoadFile(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile decodes the YAML file over cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// resolvePaths fills in data and logs directories from the centralized paths
func (c *Config) resolvePaths() error {
	if c.Paths.DataDir != "" && c.Paths.LogsDir != "" {
		return nil
	}

	paths, err := GetPaths()
	if err != nil {
		return err
	}
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = paths.DataDir
	}
	if c.Paths.LogsDir == "" {
		c.Paths.LogsDir = paths.LogsDir
	}
	return nil
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	switch strings.ToLower(c.Store.Backend) {
	case "auto", "keyring", "file", "memory":
	default:
		return fmt.Errorf("unknown store backend: %q", c.Store.Backend)
	}

	if c.Store.Timeout <= 0 {
		return fmt.Errorf("store timeout must be positive")
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "file":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver: %q", c.Storage.Driver)
	}

	if c.Trial.MaxDays <= 0 {
		return fmt.Errorf("trial max days must be positive")
	}

	// Always JSON
	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}

	if c.Logging.FilePath == "" {
		c.Logging.FilePath = filepath.Join(c.Paths.LogsDir, "licensed.log")
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if explicit := os.Getenv(EnvPrefix + "_CONFIG"); explicit != "" {
		return explicit
	}

	locations := []string{
		"licensed.yaml",
		"configs/licensed.yaml",
		"../configs/licensed.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimitRPS:    20,
			RateLimitBurst:  40,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "console",
		},
		Telemetry: TelemetryConfig{
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1,
		},
		Store: StoreConfig{
			Backend: "auto",
			Service: "isx-license",
			Timeout: 3 * time.Second,
		},
		Storage: StorageConfig{
			Driver:   "file",
			MaxConns: 10,
		},
		Trial: TrialConfig{
			MaxDays: 30,
		},
		Guard: GuardConfig{
			AttemptsPerMinute: 10,
			Burst:             5,
			MaxFailures:       5,
			BlockDuration:     15 * time.Minute,
		},
	}
}
