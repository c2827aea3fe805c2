package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/livetemplate/codepane/internal/assistant"
	"github.com/livetemplate/codepane/internal/logging"
	"github.com/livetemplate/codepane/internal/persist"
	"github.com/livetemplate/codepane/internal/vfs"
)

// FileName is the config file looked up by LoadFromDir. HiddenFileName is the fallback.
const (
	FileName       = "codepane.yaml"
	HiddenFileName = ".codepane.yaml"
)

// Config represents the codepane configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Editor    EditorConfig    `yaml:"editor"`
	Files     FilesConfig     `yaml:"files"`
	Assistant AssistantConfig `yaml:"assistant"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           int              `yaml:"port"`
	Host           string           `yaml:"host"`
	Debug          bool             `yaml:"debug"`
	AllowedOrigins []string         `yaml:"allowed_origins,omitempty"` // CORS and websocket origins; empty allows same-origin only
	RateLimit      *RateLimitConfig `yaml:"rate_limit,omitempty"`
	Auth           *AuthConfig      `yaml:"auth,omitempty"`
}

// RateLimitConfig holds per-IP rate limiting for the API
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"` // default: 10
	Burst             int     `yaml:"burst,omitempty"`               // default: 20
}

// AuthConfig protects the /api routes with a shared key
type AuthConfig struct {
	// APIKey supports environment variable expansion (e.g., "${CODEPANE_KEY}")
	APIKey string `yaml:"api_key,omitempty"`
	// HeaderName defaults to "X-API-Key". "Authorization" accepts a Bearer token.
	HeaderName string `yaml:"header_name,omitempty"`
}

// StorageConfig selects where the workspace snapshot is kept
type StorageConfig struct {
	Driver string   `yaml:"driver"`          // memory, file, sqlite, postgres, s3
	Path   string   `yaml:"path,omitempty"`  // file: directory, sqlite: database file
	DSN    string   `yaml:"dsn,omitempty"`   // postgres connection string (env vars expanded)
	Table  string   `yaml:"table,omitempty"` // sqlite/postgres table (default: codepane_state)
	Watch  bool     `yaml:"watch,omitempty"` // file: reload when another process rewrites the snapshot
	S3     S3Config `yaml:"s3,omitempty"`
}

// S3Config configures the s3 storage driver
type S3Config struct {
	Bucket          string `yaml:"bucket,omitempty"`
	Prefix          string `yaml:"prefix,omitempty"`
	Region          string `yaml:"region,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"`          // for MinIO and other S3-compatible stores
	AccessKeyID     string `yaml:"access_key_id,omitempty"`     // env vars expanded
	SecretAccessKey string `yaml:"secret_access_key,omitempty"` // env vars expanded
}

// EditorConfig holds the debounce and history settings
type EditorConfig struct {
	RenderDebounce string `yaml:"render_debounce,omitempty"` // default: 1s
	SaveDebounce   string `yaml:"save_debounce,omitempty"`   // default: 2s
	HistorySize    int    `yaml:"history_size,omitempty"`    // default: 50
	ConsoleLimit   int    `yaml:"console_limit,omitempty"`   // default: 500
}

// FilesConfig holds file store settings
type FilesConfig struct {
	ConflictPolicy string `yaml:"conflict_policy,omitempty"` // "suffix" (default) or "reject"
}

// AssistantConfig configures code generation
type AssistantConfig struct {
	Enabled           *bool        `yaml:"enabled,omitempty"` // default: true when an API key is available
	Endpoint          string       `yaml:"endpoint,omitempty"`
	Model             string       `yaml:"model,omitempty"`
	APIKey            string       `yaml:"api_key,omitempty"` // default: ${OPENAI_API_KEY}
	Timeout           string       `yaml:"timeout,omitempty"` // default: 30s
	Temperature       float64      `yaml:"temperature,omitempty"`
	MaxTokens         int          `yaml:"max_tokens,omitempty"`
	CacheSize         int          `yaml:"cache_size,omitempty"`
	CacheTTL          string       `yaml:"cache_ttl,omitempty"` // default: no expiry
	RequestsPerMinute int          `yaml:"requests_per_minute,omitempty"`
	Retry             *RetryConfig `yaml:"retry,omitempty"`
}

// RetryConfig configures retry behavior for assistant requests
type RetryConfig struct {
	MaxRetries int    `yaml:"max_retries,omitempty"` // Maximum retry attempts (default: 2)
	BaseDelay  string `yaml:"base_delay,omitempty"`  // Initial delay (e.g., "500ms"). Default: 500ms
	MaxDelay   string `yaml:"max_delay,omitempty"`   // Maximum delay (e.g., "5s"). Default: 5s
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error
	Format string `yaml:"format,omitempty"` // json or console
	Output string `yaml:"output,omitempty"` // stdout, stderr or a file path
}

// parseDuration returns def when s is empty or invalid.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetRateLimitRPS returns the rate limit in requests per second (default: 10)
func (c ServerConfig) GetRateLimitRPS() float64 {
	if c.RateLimit == nil || c.RateLimit.RequestsPerSecond <= 0 {
		return 10
	}
	return c.RateLimit.RequestsPerSecond
}

// GetRateLimitBurst returns the burst size (default: 20)
func (c ServerConfig) GetRateLimitBurst() int {
	if c.RateLimit == nil || c.RateLimit.Burst <= 0 {
		return 20
	}
	return c.RateLimit.Burst
}

// IsAuthEnabled returns true if API authentication is configured
func (c ServerConfig) IsAuthEnabled() bool {
	return c.Auth.GetAPIKey() != ""
}

// GetAPIKey returns the configured API key with environment variable expansion
func (c *AuthConfig) GetAPIKey() string {
	if c == nil || c.APIKey == "" {
		return ""
	}
	return os.ExpandEnv(c.APIKey)
}

// GetHeaderName returns the header name for authentication (default: "X-API-Key")
func (c *AuthConfig) GetHeaderName() string {
	if c == nil || c.HeaderName == "" {
		return "X-API-Key"
	}
	return c.HeaderName
}

// GetRenderDebounce returns the preview debounce (default: 1s)
func (c EditorConfig) GetRenderDebounce() time.Duration {
	return parseDuration(c.RenderDebounce, time.Second)
}

// GetSaveDebounce returns the autosave debounce (default: 2s)
func (c EditorConfig) GetSaveDebounce() time.Duration {
	return parseDuration(c.SaveDebounce, 2*time.Second)
}

// GetHistorySize returns the history cap (default: 50)
func (c EditorConfig) GetHistorySize() int {
	if c.HistorySize <= 0 {
		return 50
	}
	return c.HistorySize
}

// GetConsoleLimit returns the log panel cap (default: 500)
func (c EditorConfig) GetConsoleLimit() int {
	if c.ConsoleLimit <= 0 {
		return 500
	}
	return c.ConsoleLimit
}

// GetConflictPolicy returns the name clash policy (default: suffix)
func (c FilesConfig) GetConflictPolicy() vfs.ConflictPolicy {
	if vfs.ConflictPolicy(c.ConflictPolicy) == vfs.ConflictReject {
		return vfs.ConflictReject
	}
	return vfs.ConflictSuffix
}

// Validate checks the values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "", "memory", "file", "sqlite", "postgres", "s3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for the postgres driver")
	}
	if c.Storage.Driver == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required for the s3 driver")
	}
	if c.Storage.Watch && c.Storage.Driver != "file" {
		return fmt.Errorf("storage.watch is only supported by the file driver")
	}
	switch vfs.ConflictPolicy(c.Files.ConflictPolicy) {
	case "", vfs.ConflictSuffix, vfs.ConflictReject:
	default:
		return fmt.Errorf("files.conflict_policy: expected %q or %q, got %q",
			vfs.ConflictSuffix, vfs.ConflictReject, c.Files.ConflictPolicy)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d is out of range", c.Server.Port)
	}
	return nil
}

// PersistOptions maps the storage section onto slot options.
func (c StorageConfig) PersistOptions() persist.Options {
	return persist.Options{
		Driver: c.Driver,
		Path:   c.Path,
		DSN:    os.ExpandEnv(c.DSN),
		Table:  c.Table,
		S3: persist.S3Config{
			Endpoint:  c.S3.Endpoint,
			Bucket:    c.S3.Bucket,
			Prefix:    c.S3.Prefix,
			Region:    c.S3.Region,
			AccessKey: os.ExpandEnv(c.S3.AccessKeyID),
			SecretKey: os.ExpandEnv(c.S3.SecretAccessKey),
		},
	}
}

// ClientConfig maps the assistant section onto the client config, keeping
// client defaults for anything unset.
func (c AssistantConfig) ClientConfig() assistant.Config {
	cfg := assistant.DefaultConfig()
	if c.Endpoint != "" {
		cfg.Endpoint = c.Endpoint
	}
	if c.Model != "" {
		cfg.Model = c.Model
	}
	if c.APIKey != "" {
		cfg.APIKey = os.ExpandEnv(c.APIKey)
	}
	cfg.Timeout = parseDuration(c.Timeout, cfg.Timeout)
	if c.Temperature > 0 {
		cfg.Temperature = c.Temperature
	}
	if c.MaxTokens > 0 {
		cfg.MaxTokens = c.MaxTokens
	}
	if c.CacheSize > 0 {
		cfg.CacheSize = c.CacheSize
	}
	cfg.CacheTTL = parseDuration(c.CacheTTL, cfg.CacheTTL)
	if c.RequestsPerMinute > 0 {
		cfg.RequestsPerMinute = c.RequestsPerMinute
	}
	if c.Retry != nil {
		if c.Retry.MaxRetries >= 0 {
			cfg.Retry.MaxRetries = c.Retry.MaxRetries
		}
		cfg.Retry.BaseDelay = parseDuration(c.Retry.BaseDelay, cfg.Retry.BaseDelay)
		cfg.Retry.MaxDelay = parseDuration(c.Retry.MaxDelay, cfg.Retry.MaxDelay)
	}
	return cfg
}

// IsEnabled reports whether the assistant should be wired. Without an
// explicit setting it follows the presence of an API key.
func (c AssistantConfig) IsEnabled() bool {
	if c.Enabled != nil && !*c.Enabled {
		return false
	}
	return c.ClientConfig().APIKey != ""
}

// LoggerConfig maps the logging section onto the logger config.
func (c LoggingConfig) LoggerConfig(debug bool) logging.Config {
	cfg := logging.Config{Level: c.Level, Format: c.Format, OutputPath: c.Output}
	if cfg.Level == "" {
		cfg.Level = "info"
		if debug {
			cfg.Level = "debug"
		}
	}
	if cfg.Format == "" {
		cfg.Format = "console"
	}
	return cfg
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:  8080,
			Host:  "localhost",
			Debug: false,
		},
		Storage: StorageConfig{
			Driver: "file",
			Path:   ".codepane",
		},
		Editor: EditorConfig{
			RenderDebounce: "1s",
			SaveDebounce:   "2s",
			HistorySize:    50,
			ConsoleLimit:   500,
		},
		Files: FilesConfig{
			ConflictPolicy: string(vfs.ConflictSuffix),
		},
		Assistant: AssistantConfig{
			Model:   "gpt-4o-mini",
			APIKey:  "${OPENAI_API_KEY}",
			Timeout: "30s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file
// If the file doesn't exist, returns the default configuration
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig() // Start with defaults
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return config, nil
}

// LoadFromDir looks for codepane.yaml, then .codepane.yaml, in the given directory.
// If neither is found, returns the default configuration
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}
	return Load(filepath.Join(dir, HiddenFileName))
}

// Save writes the configuration to a YAML file
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
