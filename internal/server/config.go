// Package server provides configuration helpers that define runtime defaults,
// validation, and file/environment loading for the relay.
package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultAddr            = ":3005"
	defaultHTTPAddr        = ":8080"
	defaultRoomCount       = 20
	defaultMaxMessageSize  = 4096
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Config holds the relay configuration.
type Config struct {
	// Addr is the TCP address of the line protocol listener.
	Addr string `yaml:"addr"`
	// HTTPAddr serves health, stats, metrics and the WebSocket endpoint.
	// Empty disables the HTTP surface.
	HTTPAddr string `yaml:"http_addr"`
	// RoomCount is advertised to every client in the handshake preamble.
	RoomCount      int      `yaml:"rooms"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// MaxMessageSize bounds a single line, in bytes.
	MaxMessageSize int `yaml:"max_message_size"`
	// WriteTimeout bounds each write to a client. Zero disables it.
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
}

func defaultConfig() Config {
	return Config{
		Addr:     defaultAddr,
		HTTPAddr: defaultHTTPAddr,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		RoomCount:       defaultRoomCount,
		MaxMessageSize:  defaultMaxMessageSize,
		WriteTimeout:    defaultWriteTimeout,
		ShutdownTimeout: defaultShutdownTimeout,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// Sanitize replaces invalid values with their defaults.
func (c Config) Sanitize() Config {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}

	if c.RoomCount <= 0 {
		c.RoomCount = defaultRoomCount
	}

	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}

	if c.WriteTimeout < 0 {
		c.WriteTimeout = defaultWriteTimeout
	}

	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.LogFormat == "" {
		c.LogFormat = "text"
	}

	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// TransportOptions returns the limits applied to every client transport.
func (c Config) TransportOptions() TransportOptions {
	return TransportOptions{
		MaxLineSize:  c.MaxMessageSize,
		WriteTimeout: c.WriteTimeout,
	}
}

// LoadConfig builds a configuration from defaults, then the YAML file at path
// (skipped when path is empty), then environment variables.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		// #nosec G304 - path comes from the operator's -config flag
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg.Sanitize(), nil
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	applyEnv(&cfg)
	cfg = cfg.Sanitize()
	return &cfg
}

func applyEnv(cfg *Config) {
	if addr := os.Getenv("RELAY_ADDR"); addr != "" {
		cfg.Addr = addr
	}

	// An explicitly empty RELAY_HTTP_ADDR disables the HTTP surface.
	if httpAddr, ok := os.LookupEnv("RELAY_HTTP_ADDR"); ok {
		cfg.HTTPAddr = strings.TrimSpace(httpAddr)
	}

	if rooms := os.Getenv("RELAY_ROOMS"); rooms != "" {
		cfg.RoomCount = parseIntValue(rooms, cfg.RoomCount)
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseIntValue(maxSize, cfg.MaxMessageSize)
	}

	if timeout := os.Getenv("WRITE_TIMEOUT"); timeout != "" {
		cfg.WriteTimeout = parseDuration(timeout, cfg.WriteTimeout)
	}

	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseDuration(timeout, cfg.ShutdownTimeout)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = strings.ToLower(format)
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go duration strings ("750ms") or whole seconds ("3").
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
