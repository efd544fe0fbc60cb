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

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/calebbergman/blog-uws-websockets/pkg/config"
	"github.com/calebbergman/blog-uws-websockets/pkg/logger"
	"github.com/calebbergman/blog-uws-websockets/pkg/metrics"
	"github.com/calebbergman/blog-uws-websockets/pkg/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const CliName = "wsrelay"

var configPath string

var rootCmd = &cobra.Command{
	Use:   CliName,
	Short: "wsrelay runs a WebSocket echo relay and a reconnecting client",
	Long: "wsrelay runs a WebSocket echo relay that answers ping with pong and serves static files, " +
		"and a client that keeps a persistent connection to it with automatic reconnection and heartbeats.",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file")
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Oops. An error occurred while executing %s: %v\n", CliName, err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger shared by every subcommand
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

// transportConfig maps the client section onto transport settings
func transportConfig(cfg config.ClientConfig) transport.Config {
	return transport.Config{
		MaxWaitTime:       cfg.MaxWaitTime,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Jitter:            cfg.Jitter,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
}

// startMetrics starts the metrics server when enabled; a nil server means disabled
func startMetrics(cfg *config.MetricsConfig, log *zap.Logger) (*metrics.Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	metrics.Enabled = true
	server := metrics.NewServer(cfg, log)
	if err := server.Start(); err != nil {
		return nil, err
	}
	return server, nil
}

func stopMetrics(ctx context.Context, server *metrics.Server) error {
	if server == nil {
		return nil
	}
	return server.Stop(ctx)
}
