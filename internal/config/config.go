package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	FileTypeObs = "obs"
	FileTypeNav = "nav"

	EnvPrefix = "RINEXFETCH_"

	defaultLogLevel       = LogLevelInfo
	defaultListingTimeout = 10 * time.Second
	defaultFileTimeout    = 15 * time.Second
	defaultMaxAttempts    = 3
	defaultBackoffBase    = time.Second
	defaultUserAgent      = "rinexfetch/1.0"
	defaultConcurrency    = 3
	defaultChunkSize      = 8192
	defaultReportDir      = "reports"
	minChunkSize          = 1024
)

var defaultFileTypes = map[string]string{
	FileTypeObs: "http://garner.ucsd.edu/pub/rinex",
	FileTypeNav: "http://garner.ucsd.edu/pub/nav",
}

type HTTPConfig struct {
	ListingTimeout time.Duration `yaml:"listing_timeout"`
	FileTimeout    time.Duration `yaml:"file_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	UserAgent      string        `yaml:"user_agent"`
}

type FetchConfig struct {
	Concurrency int  `yaml:"concurrency"`
	ChunkSize   int  `yaml:"chunk_size"`
	KeepPartial bool `yaml:"keep_partial"`
	Deduplicate bool `yaml:"deduplicate"`
}

type ReportConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type Config struct {
	LogLevel  string            `yaml:"log_level"`
	LogFile   string            `yaml:"log_file"`
	RedisURL  string            `yaml:"redis_url"`
	FileTypes map[string]string `yaml:"file_types"`
	HTTP      HTTPConfig        `yaml:"http"`
	Fetch     FetchConfig       `yaml:"fetch"`
	Report    ReportConfig      `yaml:"report"`
}

func (c *Config) SetDefaults() {
	c.LogLevel = defaultLogLevel
	c.FileTypes = make(map[string]string, len(defaultFileTypes))
	for k, v := range defaultFileTypes {
		c.FileTypes[k] = v
	}

	c.HTTP = HTTPConfig{
		ListingTimeout: defaultListingTimeout,
		FileTimeout:    defaultFileTimeout,
		MaxAttempts:    defaultMaxAttempts,
		BackoffBase:    defaultBackoffBase,
		UserAgent:      defaultUserAgent,
	}

	c.Fetch = FetchConfig{
		Concurrency: defaultConcurrency,
		ChunkSize:   defaultChunkSize,
		Deduplicate: true,
	}

	c.Report = ReportConfig{
		Dir: defaultReportDir,
	}
}

// Load reads the yaml file at path over the defaults. A missing file is not an error.
// Variables from a .env file and RINEXFETCH_* environment variables are applied last.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.SetDefaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}

	if v := os.Getenv(EnvPrefix + "LOG_FILE"); v != "" {
		c.LogFile = v
	}

	if v := os.Getenv(EnvPrefix + "REDIS_URL"); v != "" {
		c.RedisURL = v
	}

	if v := os.Getenv(EnvPrefix + "CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sCONCURRENCY must be an integer, got: %s", EnvPrefix, v)
		}
		c.Fetch.Concurrency = n
	}

	return nil
}

func (c *Config) Validate() error {
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	if len(c.FileTypes) == 0 {
		return fmt.Errorf("file_types cannot be empty")
	}

	for name, url := range c.FileTypes {
		if url == "" {
			return fmt.Errorf("file type %s has an empty base url", name)
		}
	}

	if c.HTTP.ListingTimeout <= 0 || c.HTTP.FileTimeout <= 0 {
		return fmt.Errorf("http timeouts must be positive")
	}

	if c.HTTP.MaxAttempts < 1 {
		return fmt.Errorf("http.max_attempts must be at least 1, got: %d", c.HTTP.MaxAttempts)
	}

	if c.HTTP.BackoffBase < 0 {
		return fmt.Errorf("http.backoff_base cannot be negative")
	}

	if c.Fetch.Concurrency < 1 {
		return fmt.Errorf("fetch.concurrency must be at least 1, got: %d", c.Fetch.Concurrency)
	}

	if c.Fetch.ChunkSize < minChunkSize {
		return fmt.Errorf("fetch.chunk_size must be at least %d, got: %d", minChunkSize, c.Fetch.ChunkSize)
	}

	if c.Report.Enabled && c.Report.Dir == "" {
		return fmt.Errorf("report.dir cannot be empty when reports are enabled")
	}

	return nil
}

// BaseURL resolves a file type name to its archive base url without a trailing slash.
func (c *Config) BaseURL(fileType string) (string, bool) {
	url, ok := c.FileTypes[strings.ToLower(fileType)]

	return strings.TrimRight(url, "/"), ok
}
