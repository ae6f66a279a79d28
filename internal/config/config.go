// Package config provides configuration loading and validation for the application.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lllypuk/userfeed/internal/infrastructure/imagecache"
)

// Default configuration constants.
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8080
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	DefaultAPIBaseURL   = "https://api.github.com"
	DefaultListTimeout  = 10 * time.Second
	DefaultImageTimeout = 30 * time.Second
	DefaultUserAgent    = "userfeed"

	DefaultPlaceholderSize  = 45
	DefaultPlaceholderColor = "#808080"

	DefaultImageStoreMaxEntries = 1024
	DefaultImageStoreTTL        = 24 * time.Hour
	DefaultImageStoreKeyPrefix  = "userfeed:image:"

	DefaultRedisPoolSize = 10

	DefaultWSBufferSize   = 1024
	DefaultWSPingInterval = 30 * time.Second
	DefaultWSPongTimeout  = 60 * time.Second

	DefaultMetricsPath = "/metrics"

	DefaultReloadLimit  = 10
	DefaultReloadWindow = time.Minute
)

// Image store types.
const (
	ImageStoreNone   = "none"
	ImageStoreMemory = "memory"
	ImageStoreRedis  = "redis"
)

// Config holds the complete application configuration.
type Config struct {
	App         AppConfig         `yaml:"app"`
	Server      ServerConfig      `yaml:"server"`
	API         APIConfig         `yaml:"api"`
	Placeholder PlaceholderConfig `yaml:"placeholder"`
	ImageStore  ImageStoreConfig  `yaml:"image_store"`
	Redis       RedisConfig       `yaml:"redis"`
	Log         LogConfig         `yaml:"log"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	// Name is the application name used in logs.
	Name string `yaml:"name" env:"APP_NAME"`

	// LoadOnStart triggers the first list load as soon as the loop runs.
	LoadOnStart bool `yaml:"load_on_start" env:"APP_LOAD_ON_START"`
}

// ServerConfig holds HTTP server configuration. AllowedOrigins applies to
// both CORS and WebSocket upgrades.
//
//nolint:golines // Struct tags require longer lines for readability
type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST"`
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"SERVER_ALLOWED_ORIGINS"`
}

// Address returns the full server address (host:port).
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// APIConfig holds the remote user API configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type APIConfig struct {
	BaseURL              string        `yaml:"base_url" env:"API_BASE_URL"`
	ListTimeout          time.Duration `yaml:"list_timeout" env:"API_LIST_TIMEOUT"`
	ImageTimeout         time.Duration `yaml:"image_timeout" env:"API_IMAGE_TIMEOUT"`
	UserAgent            string        `yaml:"user_agent" env:"API_USER_AGENT"`
	CoalesceImages       bool          `yaml:"coalesce_images" env:"API_COALESCE_IMAGES"`
	PerItemNotifications bool          `yaml:"per_item_notifications" env:"API_PER_ITEM_NOTIFICATIONS"`
}

// PlaceholderConfig describes the image shown while an icon loads.
type PlaceholderConfig struct {
	Size  int    `yaml:"size" env:"PLACEHOLDER_SIZE"`
	Color string `yaml:"color" env:"PLACEHOLDER_COLOR"` // #rrggbb
}

// ImageStoreConfig holds the shared image byte store configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type ImageStoreConfig struct {
	Type       string        `yaml:"type" env:"IMAGE_STORE_TYPE"` // none | memory | redis
	MaxEntries int           `yaml:"max_entries" env:"IMAGE_STORE_MAX_ENTRIES"`
	TTL        time.Duration `yaml:"ttl" env:"IMAGE_STORE_TTL"`
	KeyPrefix  string        `yaml:"key_prefix" env:"IMAGE_STORE_KEY_PREFIX"`
}

// RedisConfig holds Redis connection configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	PoolSize int    `yaml:"pool_size" env:"REDIS_POOL_SIZE"`
}

// LogConfig holds logging configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // debug | info | warn | error
	Format string `yaml:"format" env:"LOG_FORMAT"` // json | text | pretty
}

// WebSocketConfig holds WebSocket server configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" env:"WS_READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" env:"WS_WRITE_BUFFER_SIZE"`
	PingInterval    time.Duration `yaml:"ping_interval" env:"WS_PING_INTERVAL"`
	PongTimeout     time.Duration `yaml:"pong_timeout" env:"WS_PONG_TIMEOUT"`
}

// MetricsConfig holds Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"METRICS_ENABLED"`
	Path    string `yaml:"path" env:"METRICS_PATH"`
}

// RateLimitConfig bounds how often one client may trigger a list reload.
//
//nolint:golines // Struct tags require longer lines for readability
type RateLimitConfig struct {
	Enabled     bool          `yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
	ReloadLimit int           `yaml:"reload_limit" env:"RATE_LIMIT_RELOAD_LIMIT"`
	Window      time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW"`
}

// Configuration errors.
var (
	ErrConfigNotFound         = errors.New("configuration file not found")
	ErrConfigInvalid          = errors.New("invalid configuration")
	ErrInvalidDuration        = errors.New("invalid duration format")
	ErrInvalidLogLevel        = errors.New("invalid log level: must be debug, info, warn, or error")
	ErrInvalidLogFormat       = errors.New("invalid log format: must be json, text, or pretty")
	ErrInvalidImageStoreType  = errors.New("invalid image store type: must be none, memory, or redis")
	ErrInvalidPlaceholderSize = errors.New("invalid placeholder size: must be positive")
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "userfeed",
			LoadOnStart: true,
		},
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
			AllowedOrigins:  []string{"*"},
		},
		API: APIConfig{
			BaseURL:      DefaultAPIBaseURL,
			ListTimeout:  DefaultListTimeout,
			ImageTimeout: DefaultImageTimeout,
			UserAgent:    DefaultUserAgent,
		},
		Placeholder: PlaceholderConfig{
			Size:  DefaultPlaceholderSize,
			Color: DefaultPlaceholderColor,
		},
		ImageStore: ImageStoreConfig{
			Type:       ImageStoreNone,
			MaxEntries: DefaultImageStoreMaxEntries,
			TTL:        DefaultImageStoreTTL,
			KeyPrefix:  DefaultImageStoreKeyPrefix,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: DefaultRedisPoolSize,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  DefaultWSBufferSize,
			WriteBufferSize: DefaultWSBufferSize,
			PingInterval:    DefaultWSPingInterval,
			PongTimeout:     DefaultWSPongTimeout,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    DefaultMetricsPath,
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			ReloadLimit: DefaultReloadLimit,
			Window:      DefaultReloadWindow,
		},
	}
}

// Normalize lowercases and trims the enumerated string settings so that
// consumers can compare them against the package constants directly.
func (c *Config) Normalize() {
	c.ImageStore.Type = strings.ToLower(strings.TrimSpace(c.ImageStore.Type))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	var errs []error

	errs = c.validateServer(errs)
	errs = c.validateAPI(errs)
	errs = c.validatePlaceholder(errs)
	errs = c.validateImageStore(errs)
	errs = c.validateLog(errs)
	errs = c.validateWebSocket(errs)
	errs = c.validateMetrics(errs)
	errs = c.validateRateLimit(errs)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, errors.Join(errs...))
	}

	return nil
}

// validateServer validates server configuration.
func (c *Config) validateServer(errs []error) []error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, errors.New("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, errors.New("server.write_timeout must be positive"))
	}
	if len(c.Server.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("server.allowed_origins must not be empty, use \"*\" to allow every origin"))
	}
	return errs
}

// validateAPI validates the remote API configuration.
func (c *Config) validateAPI(errs []error) []error {
	u, err := url.Parse(c.API.BaseURL)
	if c.API.BaseURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url must be an absolute http(s) url, got %q", c.API.BaseURL))
	}
	if c.API.ListTimeout <= 0 {
		errs = append(errs, errors.New("api.list_timeout must be positive"))
	}
	if c.API.ImageTimeout <= 0 {
		errs = append(errs, errors.New("api.image_timeout must be positive"))
	}
	return errs
}

// validatePlaceholder validates the placeholder image configuration.
func (c *Config) validatePlaceholder(errs []error) []error {
	if c.Placeholder.Size <= 0 {
		errs = append(errs, ErrInvalidPlaceholderSize)
	}
	if _, err := imagecache.ParseColor(c.Placeholder.Color); err != nil {
		errs = append(errs, fmt.Errorf("placeholder.color: %w", err))
	}
	return errs
}

// validateImageStore validates image store configuration.
func (c *Config) validateImageStore(errs []error) []error {
	switch c.ImageStore.Type {
	case ImageStoreNone:
	case ImageStoreMemory:
		if c.ImageStore.MaxEntries <= 0 {
			errs = append(errs, errors.New("image_store.max_entries must be positive"))
		}
	case ImageStoreRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis image store"))
		}
	default:
		errs = append(errs, ErrInvalidImageStoreType)
	}
	if c.ImageStore.TTL < 0 {
		errs = append(errs, errors.New("image_store.ttl must not be negative"))
	}
	return errs
}

// validateLog validates logging configuration.
func (c *Config) validateLog(errs []error) []error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ErrInvalidLogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "text": true, "pretty": true}
	if !validLogFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, ErrInvalidLogFormat)
	}
	return errs
}

// validateWebSocket validates WebSocket configuration.
func (c *Config) validateWebSocket(errs []error) []error {
	if c.WebSocket.ReadBufferSize <= 0 {
		errs = append(errs, errors.New("websocket.read_buffer_size must be positive"))
	}
	if c.WebSocket.WriteBufferSize <= 0 {
		errs = append(errs, errors.New("websocket.write_buffer_size must be positive"))
	}
	if c.WebSocket.PingInterval <= 0 {
		errs = append(errs, errors.New("websocket.ping_interval must be positive"))
	}
	if c.WebSocket.PongTimeout <= 0 {
		errs = append(errs, errors.New("websocket.pong_timeout must be positive"))
	}
	return errs
}

// validateRateLimit validates reload rate limiting.
func (c *Config) validateRateLimit(errs []error) []error {
	if !c.RateLimit.Enabled {
		return errs
	}
	if c.RateLimit.ReloadLimit <= 0 {
		errs = append(errs, errors.New("rate_limit.reload_limit must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}
	return errs
}

// validateMetrics validates metrics configuration.
func (c *Config) validateMetrics(errs []error) []error {
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, errors.New("metrics.path must start with /"))
	}
	return errs
}

// Load loads configuration from the default config file and environment variables.
func Load() (*Config, error) {
	return LoadFromPath("")
}

// LoadFromPath loads configuration from a specific file path.
// If path is empty, it tries to find the config file in standard locations.
func LoadFromPath(path string) (*Config, error) {
	loader := NewLoader()
	return loader.Load(path)
}

// Loader handles configuration loading from files and environment variables.
type Loader struct {
	configPaths []string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		configPaths: []string{
			"configs/config.yaml",
			"config.yaml",
			"/etc/userfeed/config.yaml",
		},
	}
}

// WithConfigPaths sets custom config paths to search.
func (l *Loader) WithConfigPaths(paths []string) *Loader {
	l.configPaths = paths
	return l
}

// Load loads configuration from file and environment variables.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	configPath := path
	if configPath == "" {
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			configPath = envPath
		} else {
			for _, p := range l.configPaths {
				if _, err := os.Stat(p); err == nil {
					configPath = p
					break
				}
			}
		}
	}

	if configPath != "" {
		if err := l.loadFromFile(cfg, configPath); err != nil {
			// Only fatal when the path was asked for explicitly.
			if path != "" || os.Getenv("CONFIG_PATH") != "" {
				return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
			}
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func (l *Loader) loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if unmarshalErr := yaml.Unmarshal(data, cfg); unmarshalErr != nil {
		return fmt.Errorf("failed to parse config file: %w", unmarshalErr)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.loadEnvToStruct(reflect.ValueOf(cfg).Elem())
}

// loadEnvToStruct recursively loads environment variables into a struct.
func (l *Loader) loadEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := range v.NumField() {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.loadEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := l.setFieldFromEnv(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s from env %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

// setFieldFromEnv sets a struct field value from an environment variable string.
//
//nolint:exhaustive // We only support a subset of reflect.Kind for config values
func (l *Loader) setFieldFromEnv(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeFor[time.Duration]() {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrInvalidDuration, value)
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %s", value)
			}
			field.SetInt(i)
		}

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type())
		}
		var items []string
		for item := range strings.SplitSeq(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value: %s", value)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// IsDevelopment returns true if the log level indicates a development environment.
func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Log.Level) == "debug"
}
