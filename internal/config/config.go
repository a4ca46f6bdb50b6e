package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// globalConfig stores the configuration loaded with command-line overrides
// so handler packages see the same settings the server started with.
var (
	globalConfig *Config
	configMutex  sync.Mutex
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	VNC      VNCConfig      `json:"vnc"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

// LoadOptions holds command-line override options
type LoadOptions struct {
	Host       string
	Port       string
	LogLevel   string
	RepeaterID string
	ViewOnly   bool
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host" env:"SERVER_HOST" default:"0.0.0.0"`
	Port         string        `json:"port" env:"SERVER_PORT" default:"8080"`
	ReadTimeout  time.Duration `json:"readTimeout" env:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `json:"writeTimeout" env:"SERVER_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `json:"idleTimeout" env:"SERVER_IDLE_TIMEOUT" default:"120s"`
}

// VNCConfig holds RFB session defaults
type VNCConfig struct {
	QualityLevel     int           `json:"qualityLevel" env:"VNC_QUALITY_LEVEL" default:"6"`
	CompressionLevel int           `json:"compressionLevel" env:"VNC_COMPRESSION_LEVEL" default:"2"`
	Shared           bool          `json:"shared" env:"VNC_SHARED" default:"true"`
	ViewOnly         bool          `json:"viewOnly" env:"VNC_VIEW_ONLY" default:"false"`
	ShowDotCursor    bool          `json:"showDotCursor" env:"VNC_SHOW_DOT_CURSOR" default:"false"`
	RepeaterID       string        `json:"repeaterID" env:"VNC_REPEATER_ID" default:""`
	DialTimeout      time.Duration `json:"dialTimeout" env:"VNC_DIAL_TIMEOUT" default:"10s"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	AllowedOrigins     []string `json:"allowedOrigins" env:"ALLOWED_ORIGINS" default:""`
	MaxConnections     int      `json:"maxConnections" env:"MAX_CONNECTIONS" default:"100"`
	EnableRateLimit    bool     `json:"enableRateLimit" env:"ENABLE_RATE_LIMIT" default:"true"`
	RateLimitPerMinute int      `json:"rateLimitPerMinute" env:"RATE_LIMIT_PER_MINUTE" default:"60"`
	EnableTLS          bool     `json:"enableTLS" env:"ENABLE_TLS" default:"false"`
	TLSCertFile        string   `json:"tlsCertFile" env:"TLS_CERT_FILE" default:""`
	TLSKeyFile         string   `json:"tlsKeyFile" env:"TLS_KEY_FILE" default:""`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format       string `json:"format" env:"LOG_FORMAT" default:"text"`
	EnableCaller bool   `json:"enableCaller" env:"LOG_ENABLE_CALLER" default:"false"`
	File         string `json:"file" env:"LOG_FILE" default:""`
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	return LoadWithOverrides(LoadOptions{})
}

// LoadWithOverrides loads configuration with command-line overrides
func LoadWithOverrides(opts LoadOptions) (*Config, error) {
	config := &Config{}

	// Server config
	config.Server.Host = getOverrideOrEnv(opts.Host, "SERVER_HOST", "0.0.0.0")
	config.Server.Port = getOverrideOrEnv(opts.Port, "SERVER_PORT", "8080")
	config.Server.ReadTimeout = getDurationWithDefault("SERVER_READ_TIMEOUT", 30*time.Second)
	config.Server.WriteTimeout = getDurationWithDefault("SERVER_WRITE_TIMEOUT", 30*time.Second)
	config.Server.IdleTimeout = getDurationWithDefault("SERVER_IDLE_TIMEOUT", 120*time.Second)

	// VNC session defaults
	config.VNC.QualityLevel = getIntWithDefault("VNC_QUALITY_LEVEL", 6)
	config.VNC.CompressionLevel = getIntWithDefault("VNC_COMPRESSION_LEVEL", 2)
	config.VNC.Shared = getBoolWithDefault("VNC_SHARED", true)
	config.VNC.ViewOnly = getBoolWithDefault("VNC_VIEW_ONLY", false) || opts.ViewOnly
	config.VNC.ShowDotCursor = getBoolWithDefault("VNC_SHOW_DOT_CURSOR", false)
	config.VNC.RepeaterID = getOverrideOrEnv(opts.RepeaterID, "VNC_REPEATER_ID", "")
	config.VNC.DialTimeout = getDurationWithDefault("VNC_DIAL_TIMEOUT", 10*time.Second)

	// Security config
	config.Security.AllowedOrigins = getStringSliceWithDefault("ALLOWED_ORIGINS", []string{})
	config.Security.MaxConnections = getIntWithDefault("MAX_CONNECTIONS", 100)
	config.Security.EnableRateLimit = getBoolWithDefault("ENABLE_RATE_LIMIT", true)
	config.Security.RateLimitPerMinute = getIntWithDefault("RATE_LIMIT_PER_MINUTE", 60)
	config.Security.EnableTLS = getBoolWithDefault("ENABLE_TLS", false)
	config.Security.TLSCertFile = getEnvWithDefault("TLS_CERT_FILE", "")
	config.Security.TLSKeyFile = getEnvWithDefault("TLS_KEY_FILE", "")

	// Logging config
	config.Logging.Level = getOverrideOrEnv(opts.LogLevel, "LOG_LEVEL", "info")
	config.Logging.Format = getEnvWithDefault("LOG_FORMAT", "text")
	config.Logging.EnableCaller = getBoolWithDefault("LOG_ENABLE_CALLER", false)
	config.Logging.File = getEnvWithDefault("LOG_FILE", "")

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Store the configuration globally so other packages can access it
	configMutex.Lock()
	globalConfig = config
	configMutex.Unlock()

	return config, nil
}

// GetGlobalConfig returns the globally stored configuration
func GetGlobalConfig() *Config {
	configMutex.Lock()
	defer configMutex.Unlock()
	return globalConfig
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid server port: %s", c.Server.Port)
	}

	// Validate VNC config
	if c.VNC.QualityLevel < 0 || c.VNC.QualityLevel > 9 {
		return fmt.Errorf("quality level must be in [0,9]")
	}

	if c.VNC.CompressionLevel < 0 || c.VNC.CompressionLevel > 9 {
		return fmt.Errorf("compression level must be in [0,9]")
	}

	// Validate security config
	if c.Security.EnableTLS {
		if c.Security.TLSCertFile == "" || c.Security.TLSKeyFile == "" {
			return fmt.Errorf("TLS certificate and key files must be specified when TLS is enabled")
		}

		if _, err := os.Stat(c.Security.TLSCertFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS certificate file does not exist: %s", c.Security.TLSCertFile)
		}

		if _, err := os.Stat(c.Security.TLSKeyFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS key file does not exist: %s", c.Security.TLSKeyFile)
		}
	}

	if c.Security.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be positive")
	}

	if c.Security.RateLimitPerMinute <= 0 {
		return fmt.Errorf("rate limit per minute must be positive")
	}

	// Validate logging config
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}

	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getStringSliceWithDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return splitString(value, ",")
	}
	return defaultValue
}

// getOverrideOrEnv returns command-line override value, env value, or default
func getOverrideOrEnv(override, envKey, defaultValue string) string {
	if override != "" {
		return override
	}
	return getEnvWithDefault(envKey, defaultValue)
}

func splitString(s, sep string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
