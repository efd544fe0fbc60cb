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
	"os/signal"
	"syscall"

	"github.com/calebbergman/blog-uws-websockets/pkg/relay"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	servePort      int
	serveStaticDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket echo relay",
	Long:  "Run the relay server. WebSocket clients sending a ping action receive a pong with the same data; other paths serve static files.",
	Example: `# Serve on the default port 9001
wsrelay serve

# Serve files from ./site on port 8080
wsrelay serve --port 8080 --static-dir ./site`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides server.port)")
	serveCmd.Flags().StringVar(&serveStaticDir, "static-dir", "", "static file directory (overrides server.static_dir)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("static-dir") {
		cfg.Server.StaticDir = serveStaticDir
	}
	if err := cfg.Server.Validate(); err != nil {
		return err
	}

	metricsServer, err := startMetrics(&cfg.Metrics, log)
	if err != nil {
		return err
	}

	server := relay.NewServer(&cfg.Server, log)
	if err := server.Start(); err != nil {
		return multierr.Append(err, stopMetrics(context.Background(), metricsServer))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("Shutting down relay")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	err = multierr.Combine(
		server.Stop(shutdownCtx),
		stopMetrics(shutdownCtx, metricsServer),
	)
	if err != nil {
		log.Error("Shutdown finished with errors", zap.Error(err))
		return err
	}
	log.Info("Relay stopped")
	return nil
}
