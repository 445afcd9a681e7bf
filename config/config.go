package config

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/upb/image-gateway/services/providers"
)

// writeTimeoutMargin is added to DispatchBudget for the derived write timeout
const writeTimeoutMargin = time.Minute

// Stage names used in StrategyConfig and logs
const (
	StageForward     = "forward"
	StageSecondary   = "secondary"
	StagePlaceholder = "placeholder"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      *DatabaseConfig     `yaml:"database,omitempty"` // Optional: nil when DATABASE_URL is unset
	Redis         RedisConfig         `yaml:"redis"`
	Forward       ForwardConfig       `yaml:"forward"`
	Secondary     SecondaryConfig     `yaml:"secondary"`
	Placeholder   PlaceholderConfig   `yaml:"placeholder"`
	Defaults      RequestDefaults     `yaml:"defaults"`
	Observability ObservabilityConfig `yaml:"observability"`
	Environment   string              `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string        `yaml:"-"`
	Host             string        `yaml:"host,omitempty"`
	Port             int           `yaml:"port,omitempty"`
	User             string        `yaml:"user,omitempty"`
	Password         string        `yaml:"-"`
	Database         string        `yaml:"database,omitempty"`
	SSLMode          string        `yaml:"sslmode,omitempty"`
	MaxOpenConns     int           `yaml:"max_open_conns"`
	MaxIdleConns     int           `yaml:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds the optional shared credential store
type RedisConfig struct {
	URL       string `yaml:"-"`
	KeyPrefix string `yaml:"key_prefix"`
}

// ForwardConfig holds the forward stage: the real provider API that takes a whole batch
type ForwardConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BaseURL        string        `yaml:"base_url"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
}

// SecondaryConfig holds the secondary stage: a chat-completions image model called once per image
type SecondaryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	APIKey         string        `yaml:"-"`
	BaseURL        string        `yaml:"base_url"`
	Model          string        `yaml:"model"`
	KeyHeader      string        `yaml:"key_header"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	Delay          time.Duration `yaml:"delay"`
}

// PlaceholderConfig holds the terminal placeholder stage
type PlaceholderConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

// RequestDefaults fill fields omitted from a generation request
type RequestDefaults struct {
	NumImages    int `yaml:"num_images"`
	Width        int `yaml:"width"`
	Height       int `yaml:"height"`
	MaxNumImages int `yaml:"max_num_images"`
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"` // json or text
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 0),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: loadDatabaseConfig(),
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", ""),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "image-gateway:"),
		},
		Forward: ForwardConfig{
			Enabled:        getEnvAsBool("FORWARD_TO_REAL_API", false),
			BaseURL:        strings.TrimRight(getEnv("REAL_API_BASE_URL", "http://localhost:5100"), "/"),
			ConnectTimeout: getEnvAsDuration("CONNECT_TIMEOUT", 10*time.Second),
			ReadTimeout:    getEnvAsDuration("READ_TIMEOUT", 600*time.Second),
		},
		Secondary: SecondaryConfig{
			Enabled:        getEnvAsBool("USE_REAL_GENERATION", true),
			APIKey:         getEnv("YUNWU_API_KEY", ""),
			BaseURL:        strings.TrimRight(getEnv("YUNWU_BASE_URL", "https://yunwu.ai"), "/"),
			Model:          getEnv("YUNWU_MODEL", "sora_image"),
			KeyHeader:      getEnv("YUNWU_KEY_HEADER", "X-Yunwu-API-Key"),
			ConnectTimeout: getEnvAsDuration("YUNWU_CONNECT_TIMEOUT", 10*time.Second),
			ReadTimeout:    getEnvAsDuration("YUNWU_READ_TIMEOUT", 60*time.Second),
			Delay:          getEnvAsDuration("SECONDARY_DELAY", 2*time.Second),
		},
		Placeholder: PlaceholderConfig{
			Enabled: getEnvAsBool("PLACEHOLDER_ENABLED", true),
			BaseURL: getEnv("PLACEHOLDER_BASE_URL", "https://picsum.photos"),
		},
		Defaults: RequestDefaults{
			NumImages:    getEnvAsInt("DEFAULT_NUM_IMAGES", 1),
			Width:        getEnvAsInt("DEFAULT_WIDTH", 1080),
			Height:       getEnvAsInt("DEFAULT_HEIGHT", 1920),
			MaxNumImages: getEnvAsInt("MAX_NUM_IMAGES", 10),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Unset write timeout: long enough for the slowest chain the stages allow
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = cfg.DispatchBudget() + writeTimeoutMargin
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Forward.Enabled {
		u, err := url.Parse(c.Forward.BaseURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("invalid forward base URL %q: set REAL_API_BASE_URL to an http(s) address", c.Forward.BaseURL)
		}
	}

	timeouts := map[string]time.Duration{
		"CONNECT_TIMEOUT":       c.Forward.ConnectTimeout,
		"READ_TIMEOUT":          c.Forward.ReadTimeout,
		"YUNWU_CONNECT_TIMEOUT": c.Secondary.ConnectTimeout,
		"YUNWU_READ_TIMEOUT":    c.Secondary.ReadTimeout,
	}
	for name, value := range timeouts {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Secondary.Delay < 0 {
		return fmt.Errorf("SECONDARY_DELAY must not be negative")
	}

	if c.Defaults.MaxNumImages < 1 {
		return fmt.Errorf("MAX_NUM_IMAGES must be at least 1")
	}
	if c.Defaults.NumImages < 1 || c.Defaults.NumImages > c.Defaults.MaxNumImages {
		return fmt.Errorf("DEFAULT_NUM_IMAGES must be between 1 and %d", c.Defaults.MaxNumImages)
	}
	if c.Defaults.Width < 1 || c.Defaults.Height < 1 {
		return fmt.Errorf("DEFAULT_WIDTH and DEFAULT_HEIGHT must be positive")
	}

	if c.Server.WriteTimeout > 0 {
		if budget := c.DispatchBudget(); c.Server.WriteTimeout < budget {
			return fmt.Errorf("SERVER_WRITE_TIMEOUT %s is shorter than the slowest generation the stages allow (%s)",
				c.Server.WriteTimeout, budget)
		}
	}

	if c.Secondary.KeyHeader == "" {
		return fmt.Errorf("YUNWU_KEY_HEADER is required")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// DispatchBudget is the longest a single generation request can take: the
// forward call, then one secondary call per image up to MAX_NUM_IMAGES with
// the delay between them. The placeholder stage adds nothing.
func (c *Config) DispatchBudget() time.Duration {
	var budget time.Duration
	if c.Forward.Enabled && !c.ForwardTargetIsSelf() {
		budget += c.Forward.ConnectTimeout + c.Forward.ReadTimeout
	}
	if c.Secondary.Enabled && c.Defaults.MaxNumImages > 0 {
		n := time.Duration(c.Defaults.MaxNumImages)
		budget += n * (c.Secondary.ConnectTimeout + c.Secondary.ReadTimeout)
		budget += (n - 1) * c.Secondary.Delay
	}
	return budget
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// ForwardTargetIsSelf reports whether the forward endpoint points back at this
// gateway: a loopback or unspecified host on the port the server listens on.
// Other cycles (proxies, DNS aliases, another port of the same process) are
// not detected.
func (c *Config) ForwardTargetIsSelf() bool {
	u, err := url.Parse(c.Forward.BaseURL)
	if err != nil || u.Host == "" {
		return false
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}
	if port != strconv.Itoa(c.Server.Port) {
		return false
	}

	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}

// Strategies derives the immutable stage configuration in chain order.
// A forward target that points back at the gateway is reported as disabled.
func (c *Config) Strategies() []providers.StrategyConfig {
	return []providers.StrategyConfig{
		{
			Name:           StageForward,
			Enabled:        c.Forward.Enabled && !c.ForwardTargetIsSelf(),
			Endpoint:       c.Forward.BaseURL,
			ConnectTimeout: c.Forward.ConnectTimeout,
			ReadTimeout:    c.Forward.ReadTimeout,
		},
		{
			Name:           StageSecondary,
			Enabled:        c.Secondary.Enabled,
			Endpoint:       c.Secondary.BaseURL,
			ConnectTimeout: c.Secondary.ConnectTimeout,
			ReadTimeout:    c.Secondary.ReadTimeout,
		},
		{
			Name:     StagePlaceholder,
			Enabled:  c.Placeholder.Enabled,
			Endpoint: c.Placeholder.BaseURL,
		},
	}
}

// Strategy returns the stage configuration with the given name
func (c *Config) Strategy(name string) (providers.StrategyConfig, bool) {
	for _, s := range c.Strategies() {
		if s.Name == name {
			return s, true
		}
	}
	return providers.StrategyConfig{}, false
}

// Redacted returns a copy safe to print: secrets are masked
func (c *Config) Redacted() *Config {
	clone := *c
	clone.Secondary.APIKey = providers.MaskSecret(c.Secondary.APIKey)
	if c.Database != nil {
		db := *c.Database
		db.Password = ""
		clone.Database = &db
	}
	return &clone
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_HOST.
// Returns nil when neither is set (credentials stay in Redis or memory, generation logs are not persisted).
func loadDatabaseConfig() *DatabaseConfig {
	pool := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		pool.ConnectionString = dbURL
		return &pool
	}
	if host := getEnv("DB_HOST", ""); host != "" {
		pool.Host = host
		pool.Port = getEnvAsInt("DB_PORT", 5432)
		pool.User = getEnv("DB_USER", "gateway")
		pool.Password = getEnv("DB_PASSWORD", "")
		pool.Database = getEnv("DB_NAME", "image_gateway")
		pool.SSLMode = getEnv("DB_SSLMODE", "disable")
		return &pool
	}
	return nil
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 5100)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 5100
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s") or bare integers meaning seconds ("600")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
