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

package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/calebbergman/blog-uws-websockets/pkg/config"
	"github.com/calebbergman/blog-uws-websockets/pkg/envelope"
	"github.com/calebbergman/blog-uws-websockets/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// connection is one accepted WebSocket client
type connection struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *connection) send(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *connection) close(code int, reason string) error {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return multierr.Append(err, c.conn.Close())
}

// Server is the echo relay: it answers ping envelopes with pong and serves static files
type Server struct {
	config     *config.ServerConfig
	logger     *zap.Logger
	engine     *gin.Engine
	upgrader   websocket.Upgrader
	httpServer *http.Server

	mu    sync.Mutex
	conns map[string]*connection
}

// NewServer creates a relay server and registers its routes
func NewServer(cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: cfg,
		logger: logger,
		engine: gin.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			HandshakeTimeout: 10 * time.Second,
		},
		conns: make(map[string]*connection),
	}

	s.engine.Use(RequestIDMiddleware(logger))
	s.engine.Use(LoggingMiddleware(logger))
	s.engine.Use(gin.Recovery())

	s.engine.GET(cfg.WSPath, s.handleUpgrade)
	s.engine.NoRoute(s.handleNoRoute)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the gin engine
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	s.logger.Info("Starting relay server",
		zap.Int("port", s.config.Port),
		zap.String("ws_path", s.config.WSPath),
		zap.String("static_dir", s.config.StaticDir),
	)

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("relay server failed to bind: %w", err)
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Relay server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop stops accepting requests and closes every open WebSocket connection
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping relay server")

	err := s.httpServer.Shutdown(ctx)

	s.mu.Lock()
	conns := make([]*connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if cerr := c.close(websocket.CloseGoingAway, "Server shutting down"); cerr != nil {
			s.logger.Debug("Error closing WebSocket connection", zap.String("connection_id", c.id), zap.Error(cerr))
		}
	}
	return err
}

// ConnectionCount returns the number of open WebSocket connections
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// handleNoRoute upgrades WebSocket requests on any path and serves static files otherwise
func (s *Server) handleNoRoute(c *gin.Context) {
	if websocket.IsWebSocketUpgrade(c.Request) {
		s.handleUpgrade(c)
		return
	}
	s.serveStatic(c)
}

// handleUpgrade upgrades the request and runs the connection until it closes
func (s *Server) handleUpgrade(c *gin.Context) {
	logger := GetLogger(c, s.logger)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade error is already sent by upgrader
		logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	connection := &connection{id: uuid.NewString(), conn: conn}
	logger = logger.With(zap.String("connection_id", connection.id))

	s.mu.Lock()
	s.conns[connection.id] = connection
	s.mu.Unlock()
	metrics.RelayConnectionsActive.Inc()

	logger.Info("WebSocket connection established", zap.String("remote_addr", conn.RemoteAddr().String()))

	s.readLoop(connection, logger)

	s.mu.Lock()
	delete(s.conns, connection.id)
	s.mu.Unlock()
	metrics.RelayConnectionsActive.Dec()
	_ = conn.Close()

	logger.Info("WebSocket connection closed")
}

// readLoop reads envelopes until the connection closes
func (s *Server) readLoop(c *connection, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in WebSocket read loop", zap.Any("panic", r))
		}
	}()

	if s.config.ReadLimit > 0 {
		c.conn.SetReadLimit(s.config.ReadLimit)
	}

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		if err := s.handleFrame(c, frame, logger); err != nil {
			logger.Warn("Failed to reply", zap.Error(err))
			return
		}
	}
}

// handleFrame answers an exact "ping" with pong carrying the same data. Keep-alives
// and other actions are accepted silently; undecodable frames are ignored.
func (s *Server) handleFrame(c *connection, frame []byte, logger *zap.Logger) error {
	env, err := envelope.Decode(frame)
	if err != nil {
		logger.Debug("Ignoring undecodable frame", zap.Error(err))
		return nil
	}
	metrics.RelayFramesTotal.WithLabelValues(metrics.ActionClass(env.Action)).Inc()

	switch {
	case env.Action == envelope.ActionPing:
		var data any
		if env.HasData() {
			data = env.Data
		}
		reply, err := envelope.Encode(envelope.ActionPong, data)
		if err != nil {
			return fmt.Errorf("failed to encode pong: %w", err)
		}
		return c.send(reply)
	case env.Action == envelope.ActionKeepAlive:
		logger.Debug("Keep-alive received")
	default:
		logger.Debug("Ignoring action", zap.String("action", env.Action))
	}
	return nil
}
