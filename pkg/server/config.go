package server

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration. Values are resolved in order:
// defaults, then the YAML config file, then environment variables, then
// CLI flags.
type Config struct {
	Addr        string `yaml:"addr"`         // TLS bind address (e.g. ":9700")
	DBPath      string `yaml:"db_path"`      // SQLite database path
	CertFile    string `yaml:"cert_file"`    // TLS certificate file path
	KeyFile     string `yaml:"key_file"`     // TLS private key file path
	DataDir     string `yaml:"data_dir"`     // directory for generated certs and data
	MetricsAddr string `yaml:"metrics_addr"` // HTTP bind address for /metrics (empty = disabled)
	LogLevel    string `yaml:"log_level"`    // debug, info, warn, error
	LogFormat   string `yaml:"log_format"`   // text or json
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:      ":9700",
		DBPath:    "duckchat.db",
		DataDir:   ".",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadConfigFile overlays a YAML config file onto cfg. Missing keys keep
// their current values.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg. SERVER_HOST and
// SERVER_PORT come from the deployment's .env contract; either may be
// set alone.
func (c *Config) ApplyEnv() {
	host, port, err := net.SplitHostPort(c.Addr)
	if err != nil {
		host, port = "", c.Addr
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port = v
	}
	c.Addr = net.JoinHostPort(host, port)

	if v := os.Getenv("DB_PATH"); v != "" {
		c.DBPath = v
	}
}
