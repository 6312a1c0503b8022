package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the printbot configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Quota     QuotaConfig     `yaml:"quota"`
	Database  DatabaseConfig  `yaml:"database"`
	LINE      LINEConfig      `yaml:"line"`
	LLM       LLMConfig       `yaml:"llm"`
	OCR       OCRConfig       `yaml:"ocr"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings for operator endpoints.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// Quota storage backends.
const (
	QuotaBackendFile  = "file"
	QuotaBackendRedis = "redis"
)

// QuotaConfig holds the daily usage quota settings.
type QuotaConfig struct {
	DailyLimit int    `yaml:"daily_limit"`
	Backend    string `yaml:"backend"` // file, redis (default: file)
	Path       string `yaml:"path"`    // file backend
	Key        string `yaml:"key"`     // redis backend
	LockTTLSec int    `yaml:"lock_ttl_sec"`
	Timezone   string `yaml:"timezone"` // IANA name, empty = process local time
}

// Location resolves the configured time zone.
func (q QuotaConfig) Location() (*time.Location, error) {
	if q.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(q.Timezone)
}

// DatabaseConfig holds Redis/Valkey connection settings for the redis quota backend.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// LINEConfig holds LINE Messaging API channel settings.
type LINEConfig struct {
	ChannelSecret      string `yaml:"channel_secret"`
	ChannelAccessToken string `yaml:"channel_access_token"`
	MaxImageBytes      int64  `yaml:"max_image_bytes"`
}

// LLMConfig holds chat completion settings.
type LLMConfig struct {
	APIKey       string  `yaml:"api_key"`
	BaseURL      string  `yaml:"base_url"`
	Model        string  `yaml:"model"`
	Temperature  float32 `yaml:"temperature"` // 0 falls back to the default
	SystemPrompt string  `yaml:"system_prompt"`
}

// OCRConfig holds Tesseract settings.
type OCRConfig struct {
	Languages   []string `yaml:"languages"`
	PageSegMode int      `yaml:"page_seg_mode"`
}

// RateLimitConfig holds per-user throttling of image events.
type RateLimitConfig struct {
	EventsPerMinute int `yaml:"events_per_minute"` // 0 = disabled
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		// The webhook answers after OCR and completion have finished.
		c.HTTP.WriteTimeoutSec = 90
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Quota.DailyLimit <= 0 {
		c.Quota.DailyLimit = 10
	}
	if c.Quota.Backend == "" {
		c.Quota.Backend = QuotaBackendFile
	}
	if c.Quota.Path == "" {
		c.Quota.Path = "usage_counter.json"
	}
	if c.Quota.Key == "" {
		c.Quota.Key = "printbot:quota"
	}
	if c.Quota.LockTTLSec <= 0 {
		c.Quota.LockTTLSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.LINE.MaxImageBytes <= 0 {
		c.LINE.MaxImageBytes = 10 << 20
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o"
	}
	if c.LLM.Temperature <= 0 {
		c.LLM.Temperature = 0.3
	}
	if len(c.OCR.Languages) == 0 {
		c.OCR.Languages = []string{"jpn", "eng"}
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Quota.Backend {
	case QuotaBackendFile:
		if c.Quota.Path == "" {
			return fmt.Errorf("quota.path is required for the file backend")
		}
	case QuotaBackendRedis:
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for the redis backend")
		}
	default:
		return fmt.Errorf("quota.backend must be \"file\" or \"redis\", got %q", c.Quota.Backend)
	}
	if _, err := c.Quota.Location(); err != nil {
		return fmt.Errorf("quota.timezone: %w", err)
	}
	if c.LINE.ChannelSecret == "" {
		return fmt.Errorf("line.channel_secret is required")
	}
	if c.LINE.ChannelAccessToken == "" {
		return fmt.Errorf("line.channel_access_token is required")
	}
	if c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be at most 2, got %v", c.LLM.Temperature)
	}
	if c.OCR.PageSegMode < 0 || c.OCR.PageSegMode > 13 {
		return fmt.Errorf("ocr.page_seg_mode must be between 0 and 13, got %d", c.OCR.PageSegMode)
	}
	if c.RateLimit.EventsPerMinute < 0 {
		return fmt.Errorf("ratelimit.events_per_minute must not be negative, got %d", c.RateLimit.EventsPerMinute)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
