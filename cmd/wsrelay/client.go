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
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/calebbergman/blog-uws-websockets/pkg/config"
	"github.com/calebbergman/blog-uws-websockets/pkg/dispatch"
	"github.com/calebbergman/blog-uws-websockets/pkg/envelope"
	"github.com/calebbergman/blog-uws-websockets/pkg/transport"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	clientURL          string
	clientPingInterval time.Duration
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Connect to a relay and exchange ping/pong",
	Long: "Keep a persistent connection to a relay, reconnecting with backoff when it drops, " +
		"sending keep-alives while open and a ping every --ping-interval.",
	Example: `# Ping the local relay every 5 seconds
wsrelay client --url ws://localhost:9001/ws

# Only keep the connection alive
wsrelay client --url wss://relay.example.com/ws --ping-interval 0`,
	RunE: runClient,
}

func init() {
	clientCmd.Flags().StringVar(&clientURL, "url", "", "relay WebSocket URL (overrides client.url)")
	clientCmd.Flags().DurationVar(&clientPingInterval, "ping-interval", 0, "ping period, 0 disables (overrides client.ping_interval)")
	rootCmd.AddCommand(clientCmd)
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	if cmd.Flags().Changed("url") {
		cfg.Client.URL = clientURL
	}
	if cmd.Flags().Changed("ping-interval") {
		cfg.Client.PingInterval = clientPingInterval
	}
	if err := cfg.Client.Validate(); err != nil {
		return err
	}

	metricsServer, err := startMetrics(&cfg.Metrics, log)
	if err != nil {
		return err
	}

	tr := newClientTransport(cfg.Client, log)
	if err := tr.Connect(cfg.Client.URL); err != nil {
		return multierr.Append(err, stopMetrics(context.Background(), metricsServer))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pingLoop(ctx, tr, cfg.Client.PingInterval, log)

	log.Info("Shutting down client")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return multierr.Combine(
		tr.Shutdown(shutdownCtx),
		stopMetrics(shutdownCtx, metricsServer),
	)
}

// newClientTransport builds a transport that logs pongs and lifecycle events
func newClientTransport(cfg config.ClientConfig, log *zap.Logger) *transport.Transport {
	tr := transport.New(transportConfig(cfg), log)

	_, _ = tr.AddMessageFunc(envelope.ActionPong, func(env envelope.Envelope) error {
		var data any
		if err := env.Decode(&data); err != nil {
			return err
		}
		log.Info("Received pong", zap.Any("data", data))
		return nil
	})

	tr.AddOnOpenFunc(func(evt dispatch.Event) error {
		log.Info("Connected to relay", zap.String("url", evt.URL))
		return nil
	})
	tr.AddOnCloseFunc(func(evt dispatch.Event) error {
		log.Info("Disconnected from relay",
			zap.String("url", evt.URL),
			zap.Bool("forced", evt.Forced),
			zap.Error(evt.Err),
		)
		return nil
	})
	return tr
}

// pingLoop emits a numbered ping every interval until ctx is done.
// A zero interval only waits for ctx.
func pingLoop(ctx context.Context, tr *transport.Transport, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			err := tr.Emit(envelope.ActionPing, seq)
			switch {
			case err == nil:
				log.Debug("Sent ping", zap.Int("seq", seq))
			case errors.Is(err, transport.ErrNotConnected):
				log.Debug("Skipping ping while disconnected", zap.Int("seq", seq))
			default:
				log.Warn("Failed to send ping", zap.Int("seq", seq), zap.Error(err))
			}
		}
	}
}
