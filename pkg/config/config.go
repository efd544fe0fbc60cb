/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables used to configure wsrelay
	EnvPrefix = "WSRELAY_"
)

// Config holds all configuration for the relay server and the client
type Config struct {
	Client  ClientConfig  `koanf:"client"`
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// ClientConfig holds the reconnecting client configuration
type ClientConfig struct {
	// URL is the WebSocket endpoint (ws:// or wss://)
	URL string `koanf:"url"`

	// MaxWaitTime caps the exponential reconnect backoff
	MaxWaitTime time.Duration `koanf:"max_wait_time"`

	// HeartbeatInterval is the keep-alive period while connected
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	// Jitter is the upper bound of the random delay added to each backoff
	Jitter time.Duration `koanf:"jitter"`

	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	WriteTimeout     time.Duration `koanf:"write_timeout"`

	// PingInterval is how often the CLI client emits a ping action (0 disables)
	PingInterval time.Duration `koanf:"ping_interval"`
}

// ServerConfig holds relay server configuration
type ServerConfig struct {
	Port            int           `koanf:"port"`
	WSPath          string        `koanf:"ws_path"`
	StaticDir       string        `koanf:"static_dir"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	ReadLimit       int64         `koanf:"read_limit"` // Maximum inbound frame size in bytes
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `koanf:"level"`  // "debug", "info", "warn", "error"
	Format string `koanf:"format"` // "json" or "text"
}

// MetricsConfig holds Prometheus metrics server configuration
type MetricsConfig struct {
	// Enabled indicates whether the metrics server should be started
	Enabled bool `koanf:"enabled"`

	// Port is the port for the metrics HTTP server
	Port int `koanf:"port"`
}

// LoadConfig loads configuration from file, environment variables, and defaults
// Priority: Environment variables > Config file > Defaults
// An empty path or a missing file skips the file layer.
func LoadConfig(configPath string) (*Config, error) {
	cfg := defaultConfig()

	k := koanf.New(".")

	// Load config file if path is provided
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	// Load environment variables with prefix
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ToLower(s)

		switch s {
		case "url":
			return "client.url"
		default:
			// Step 1: Convert double underscore "__" into a temporary placeholder
			s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
			// Step 2: Convert single "_" into "."
			s = strings.ReplaceAll(s, "_", ".")
			// Step 3: Convert placeholder back into literal "_"
			s = strings.ReplaceAll(s, "%UNDERSCORE%", "_")
			return s
		}
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Unmarshal into Config struct with DecodeHook for duration strings
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns the default configuration
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config struct with default configuration values
func defaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			URL:               "ws://localhost:9001/ws",
			MaxWaitTime:       4096 * time.Millisecond,
			HeartbeatInterval: 60 * time.Second,
			Jitter:            1000 * time.Millisecond,
			HandshakeTimeout:  10 * time.Second,
			WriteTimeout:      10 * time.Second,
			PingInterval:      5 * time.Second,
		},
		Server: ServerConfig{
			Port:            9001,
			WSPath:          "/ws",
			StaticDir:       "./public",
			ShutdownTimeout: 15 * time.Second,
			ReadLimit:       1 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9091,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Client.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got: %s)", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text", "console":
	default:
		return fmt.Errorf("logging.format must be json or text (got: %s)", c.Logging.Format)
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1 and 65535 (got: %d)", c.Metrics.Port)
	}
	return nil
}

// Validate validates the client configuration
func (c *ClientConfig) Validate() error {
	if c.URL != "" {
		if err := ValidateURL(c.URL); err != nil {
			return fmt.Errorf("client.url: %w", err)
		}
	}
	if c.MaxWaitTime <= 0 {
		return fmt.Errorf("client.max_wait_time must be positive (got: %s)", c.MaxWaitTime)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("client.heartbeat_interval must be positive (got: %s)", c.HeartbeatInterval)
	}
	if c.Jitter < 0 {
		return fmt.Errorf("client.jitter must not be negative (got: %s)", c.Jitter)
	}
	if c.HandshakeTimeout < 0 || c.WriteTimeout < 0 || c.PingInterval < 0 {
		return fmt.Errorf("client timeouts and intervals must not be negative")
	}
	return nil
}

// Validate validates the relay server configuration
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535 (got: %d)", c.Port)
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("server.ws_path must start with '/' (got: %s)", c.WSPath)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive (got: %s)", c.ShutdownTimeout)
	}
	if c.ReadLimit <= 0 {
		return fmt.Errorf("server.read_limit must be positive (got: %d)", c.ReadLimit)
	}
	return nil
}

// ValidateURL checks that raw is an absolute ws:// or wss:// URL with a host
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url scheme must be ws or wss (got: %q)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url must include a host")
	}
	return nil
}
