// Package config loads the settings of the josekit command and the
// example servers from a YAML file and JOSEKIT_ environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/picatz/josekit/pkg/checker"
	"github.com/picatz/josekit/pkg/compression"
	"github.com/picatz/josekit/pkg/jwa"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of the environment variables overriding the
// configuration file.
const EnvPrefix = "JOSEKIT_"

// Config represents the josekit configuration
type Config struct {
	// Logging configuration
	Logging LoggingConfig `yaml:"logging"`

	// Checks applied to loaded envelopes
	Checks ChecksConfig `yaml:"checks"`

	// Keys used to verify and decrypt
	Keys KeysConfig `yaml:"keys"`

	// Compression configuration
	Compression CompressionConfig `yaml:"compression"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`

	// Format is json or console
	Format string `yaml:"format"`
}

// ChecksConfig configures the header and claim checks.
type ChecksConfig struct {
	AllowedAlgorithms []string `yaml:"allowedAlgorithms"`
	AllowNone         bool     `yaml:"allowNone"`
	SupportedCritical []string `yaml:"supportedCritical"`
	AllowedIssuers    []string `yaml:"allowedIssuers"`
	AllowedAudiences  []string `yaml:"allowedAudiences"`
	RequiredClaims    []string `yaml:"requiredClaims"`
	ClockSkew         Duration `yaml:"clockSkew"`
}

// KeysConfig configures where keys come from.
type KeysConfig struct {
	// Files are JWK set files
	Files []string `yaml:"files"`

	// JKU configures the remote JWK sets that a "jku" header may name
	JKU JKUConfig `yaml:"jku"`
}

// JKUConfig configures the remote JWK set cache.
type JKUConfig struct {
	AllowedURLs     []string `yaml:"allowedURLs"`
	RefreshInterval Duration `yaml:"refreshInterval"`
	CacheDuration   Duration `yaml:"cacheDuration"`
	Timeout         Duration `yaml:"timeout"`
}

// CompressionConfig limits decompression.
type CompressionConfig struct {
	MaxSize int64 `yaml:"maxSize"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Checks: ChecksConfig{
			ClockSkew: Duration{Duration: time.Minute},
		},
		Keys: KeysConfig{
			JKU: JKUConfig{
				RefreshInterval: Duration{Duration: 15 * time.Minute},
				CacheDuration:   Duration{Duration: time.Hour},
				Timeout:         Duration{Duration: 10 * time.Second},
			},
		},
		Compression: CompressionConfig{
			MaxSize: compression.DefaultMaxSize,
		},
		Metrics: MetricsConfig{
			Address: ":9090",
			Path:    "/metrics",
		},
	}
}

// Load loads configuration from file and environment variables. A
// missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := LoadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv overrides the configuration with JOSEKIT_ environment
// variables. Lists are comma separated.
func LoadFromEnv(cfg *Config) error {
	getEnv := func(key string) string {
		return strings.TrimSpace(os.Getenv(EnvPrefix + key))
	}

	getList := func(key string) []string {
		val := getEnv(key)
		if val == "" {
			return nil
		}
		var list []string
		for _, item := range strings.Split(val, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
		return list
	}

	getDuration := func(key string, dst *Duration) error {
		val := getEnv(key)
		if val == "" {
			return nil
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		dst.Duration = d
		return nil
	}

	getBool := func(key string, dst *bool) error {
		val := getEnv(key)
		if val == "" {
			return nil
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
		return nil
	}

	// Logging settings
	if val := getEnv("LOGGING_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := getEnv("LOGGING_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	// Check settings
	if list := getList("CHECKS_ALLOWED_ALGORITHMS"); list != nil {
		cfg.Checks.AllowedAlgorithms = list
	}
	if list := getList("CHECKS_SUPPORTED_CRITICAL"); list != nil {
		cfg.Checks.SupportedCritical = list
	}
	if list := getList("CHECKS_ALLOWED_ISSUERS"); list != nil {
		cfg.Checks.AllowedIssuers = list
	}
	if list := getList("CHECKS_ALLOWED_AUDIENCES"); list != nil {
		cfg.Checks.AllowedAudiences = list
	}
	if list := getList("CHECKS_REQUIRED_CLAIMS"); list != nil {
		cfg.Checks.RequiredClaims = list
	}
	if err := getBool("CHECKS_ALLOW_NONE", &cfg.Checks.AllowNone); err != nil {
		return err
	}
	if err := getDuration("CHECKS_CLOCK_SKEW", &cfg.Checks.ClockSkew); err != nil {
		return err
	}

	// Key settings
	if list := getList("KEYS_FILES"); list != nil {
		cfg.Keys.Files = list
	}
	if list := getList("KEYS_JKU_ALLOWED_URLS"); list != nil {
		cfg.Keys.JKU.AllowedURLs = list
	}
	if err := getDuration("KEYS_JKU_REFRESH_INTERVAL", &cfg.Keys.JKU.RefreshInterval); err != nil {
		return err
	}
	if err := getDuration("KEYS_JKU_CACHE_DURATION", &cfg.Keys.JKU.CacheDuration); err != nil {
		return err
	}
	if err := getDuration("KEYS_JKU_TIMEOUT", &cfg.Keys.JKU.Timeout); err != nil {
		return err
	}

	// Compression settings
	if val := getEnv("COMPRESSION_MAX_SIZE"); val != "" {
		size, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("%sCOMPRESSION_MAX_SIZE: %w", EnvPrefix, err)
		}
		cfg.Compression.MaxSize = size
	}

	// Metrics settings
	if err := getBool("METRICS_ENABLED", &cfg.Metrics.Enabled); err != nil {
		return err
	}
	if val := getEnv("METRICS_ADDRESS"); val != "" {
		cfg.Metrics.Address = val
	}
	if val := getEnv("METRICS_PATH"); val != "" {
		cfg.Metrics.Path = val
	}

	return nil
}

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"json", "console"}
)

// Validate validates the configuration
func Validate(cfg *Config) error {
	if !slices.Contains(validLogLevels, strings.ToLower(cfg.Logging.Level)) {
		return fmt.Errorf("logging level must be one of: %s", strings.Join(validLogLevels, ", "))
	}
	if !slices.Contains(validLogFormats, strings.ToLower(cfg.Logging.Format)) {
		return fmt.Errorf("logging format must be one of: %s", strings.Join(validLogFormats, ", "))
	}

	if err := validateChecksConfig(&cfg.Checks); err != nil {
		return fmt.Errorf("checks configuration validation failed: %w", err)
	}

	if err := validateJKUConfig(&cfg.Keys.JKU); err != nil {
		return fmt.Errorf("jku configuration validation failed: %w", err)
	}

	if cfg.Compression.MaxSize <= 0 {
		return fmt.Errorf("compression max size must be positive, got %d", cfg.Compression.MaxSize)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Address == "" {
			return fmt.Errorf("metrics address is required when metrics are enabled")
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			return fmt.Errorf("metrics path must start with '/', got %q", cfg.Metrics.Path)
		}
	}

	return nil
}

func validateChecksConfig(checks *ChecksConfig) error {
	known := jwa.DefaultRegistry().Algorithms()
	for _, alg := range checks.AllowedAlgorithms {
		if alg == jwa.None {
			if !checks.AllowNone {
				return fmt.Errorf("algorithm %q requires allowNone", alg)
			}
			continue
		}
		if !slices.Contains(known, alg) {
			return fmt.Errorf("unknown algorithm %q", alg)
		}
	}

	if checks.ClockSkew.Duration < 0 {
		return fmt.Errorf("clock skew must be non-negative, got %s", checks.ClockSkew)
	}
	return nil
}

func validateJKUConfig(jku *JKUConfig) error {
	if len(jku.AllowedURLs) == 0 {
		return nil
	}
	for _, u := range jku.AllowedURLs {
		if !strings.HasPrefix(u, "https://") && !strings.HasPrefix(u, "http://") {
			return fmt.Errorf("allowed URL %q must be an http or https URL", u)
		}
	}
	if jku.RefreshInterval.Duration <= 0 {
		return fmt.Errorf("refreshInterval must be positive")
	}
	if jku.CacheDuration.Duration <= 0 {
		return fmt.Errorf("cacheDuration must be positive")
	}
	if jku.Timeout.Duration <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// CheckerOptions returns the checker options matching the configuration.
func (c *Config) CheckerOptions() []checker.Option {
	opts := []checker.Option{
		checker.WithAllowInsecureNoneAlgorithm(c.Checks.AllowNone),
		checker.WithClockSkew(c.Checks.ClockSkew.Duration),
	}
	if len(c.Checks.AllowedAlgorithms) > 0 {
		opts = append(opts, checker.WithAllowedAlgorithms(c.Checks.AllowedAlgorithms...))
	}
	if len(c.Checks.SupportedCritical) > 0 {
		opts = append(opts, checker.WithSupportedCriticalHeaders(c.Checks.SupportedCritical...))
	}
	if len(c.Checks.AllowedIssuers) > 0 {
		opts = append(opts, checker.WithAllowedIssuers(c.Checks.AllowedIssuers...))
	}
	if len(c.Checks.AllowedAudiences) > 0 {
		opts = append(opts, checker.WithAllowedAudiences(c.Checks.AllowedAudiences...))
	}
	if len(c.Checks.RequiredClaims) > 0 {
		opts = append(opts, checker.WithRequiredClaims(c.Checks.RequiredClaims...))
	}
	return opts
}
