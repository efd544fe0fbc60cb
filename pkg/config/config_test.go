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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 4096*time.Millisecond, cfg.Client.MaxWaitTime)
	assert.Equal(t, 60*time.Second, cfg.Client.HeartbeatInterval)
	assert.Equal(t, time.Second, cfg.Client.Jitter)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "/ws", cfg.Server.WSPath)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfigFile(t, `
[client]
url = "wss://relay.example.com/ws"
max_wait_time = "2s"
jitter = "250ms"

[server]
port = 8088
ws_path = "/socket"

[logging]
level = "debug"
format = "text"

[metrics]
enabled = true
port = 9200
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://relay.example.com/ws", cfg.Client.URL)
	assert.Equal(t, 2*time.Second, cfg.Client.MaxWaitTime)
	assert.Equal(t, 250*time.Millisecond, cfg.Client.Jitter)
	assert.Equal(t, 60*time.Second, cfg.Client.HeartbeatInterval, "unset keys keep defaults")
	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "/socket", cfg.Server.WSPath)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9200, cfg.Metrics.Port)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
[server]
port = 8088
`)
	t.Setenv("WSRELAY_SERVER_PORT", "7000")
	t.Setenv("WSRELAY_CLIENT_HEARTBEAT__INTERVAL", "30s")
	t.Setenv("WSRELAY_URL", "ws://127.0.0.1:7000/ws")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Client.HeartbeatInterval)
	assert.Equal(t, "ws://127.0.0.1:7000/ws", cfg.Client.URL)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := writeConfigFile(t, `
[client]
url = "http://example.com"
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client.url")
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	path := writeConfigFile(t, "[client\nurl=")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"zero max wait", func(c *Config) { c.Client.MaxWaitTime = 0 }, "client.max_wait_time"},
		{"zero heartbeat", func(c *Config) { c.Client.HeartbeatInterval = 0 }, "client.heartbeat_interval"},
		{"negative jitter", func(c *Config) { c.Client.Jitter = -time.Second }, "client.jitter"},
		{"zero jitter allowed", func(c *Config) { c.Client.Jitter = 0 }, ""},
		{"empty url allowed", func(c *Config) { c.Client.URL = "" }, ""},
		{"server port too high", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"ws path without slash", func(c *Config) { c.Server.WSPath = "ws" }, "server.ws_path"},
		{"zero read limit", func(c *Config) { c.Server.ReadLimit = 0 }, "server.read_limit"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"metrics port ignored when disabled", func(c *Config) { c.Metrics.Port = 0 }, ""},
		{"metrics port checked when enabled", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Port = 0
		}, "metrics.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url   string
		valid bool
	}{
		{"ws://localhost:9001/ws", true},
		{"wss://example.com", true},
		{"http://example.com", false},
		{"ws://", false},
		{"localhost:9001", false},
		{"", false},
		{"ws://exa mple.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
