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

package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected zapcore.Level
	}{
		{"debug lowercase", "debug", zapcore.DebugLevel},
		{"debug uppercase", "DEBUG", zapcore.DebugLevel},
		{"info lowercase", "info", zapcore.InfoLevel},
		{"warn lowercase", "warn", zapcore.WarnLevel},
		{"warning lowercase", "warning", zapcore.WarnLevel},
		{"error uppercase", "ERROR", zapcore.ErrorLevel},
		{"unknown defaults to info", "unknown", zapcore.InfoLevel},
		{"empty defaults to info", "", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.level))
		})
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"json debug", Config{Level: "debug", Format: "json"}},
		{"text info", Config{Level: "info", Format: "text"}},
		{"empty config", Config{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := NewLogger(tt.config)
			require.NoError(t, err)
			require.NotNil(t, log)
			assert.True(t, log.Core().Enabled(ParseLevel(tt.config.Level)))
		})
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	log, err := NewLogger(Config{Level: "error", Format: "json"})
	require.NoError(t, err)

	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.ErrorLevel))
}
