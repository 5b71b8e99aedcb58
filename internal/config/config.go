package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the console configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Storage StorageConfig `yaml:"storage"`
	Store   StoreConfig   `yaml:"store"`
	Events  EventsConfig  `yaml:"events"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the admin HTTP server configuration
type ServerConfig struct {
	Port int       `yaml:"port"`
	Host string    `yaml:"host"`
	TLS  TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS configuration for the admin server
type TLSConfig struct {
	Enabled      bool   `yaml:"enabled"`
	CertFile     string `yaml:"certFile"`
	KeyFile      string `yaml:"keyFile"`
	AutoGenerate bool   `yaml:"autoGenerate"` // self-signed when no cert is configured
	StorePath    string `yaml:"storePath"`    // empty means <storage.path>/certs
}

// BackendConfig locates the remote API bot service
type BackendConfig struct {
	BaseURL  string        `yaml:"baseURL"`
	BasePath string        `yaml:"basePath"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"`
}

// StorageConfig holds draft storage configuration
type StorageConfig struct {
	Type string `yaml:"type"` // "memory", "file" or "sqlite"
	Path string `yaml:"path"`
}

// StoreConfig tunes the configuration store
type StoreConfig struct {
	ErrorDismiss time.Duration `yaml:"errorDismiss"`
	DiscardStale bool          `yaml:"discardStale"`
}

// EventsConfig holds store event retention
type EventsConfig struct {
	MaxEvents int `yaml:"maxEvents"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "127.0.0.1",
			TLS: TLSConfig{
				AutoGenerate: true,
			},
		},
		Backend: BackendConfig{
			BaseURL:  "http://localhost:3000",
			BasePath: "/api-bot",
			Timeout:  30 * time.Second,
		},
		Storage: StorageConfig{
			Type: "memory",
			Path: "./data",
		},
		Store: StoreConfig{
			ErrorDismiss: 5 * time.Second,
		},
		Events: EventsConfig{
			MaxEvents: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a YAML file. Missing keys keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late at startup
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Backend.BaseURL != "" &&
		!strings.HasPrefix(c.Backend.BaseURL, "http://") &&
		!strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return fmt.Errorf("backend.baseURL must start with http:// or https://")
	}
	switch c.Storage.Type {
	case "", "memory", "file", "sqlite":
	default:
		return fmt.Errorf("unknown storage.type %q", c.Storage.Type)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}
	return nil
}

// Addr returns the listen address of the admin server
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Marshal renders the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
