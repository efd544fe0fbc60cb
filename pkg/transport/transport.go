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

package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/calebbergman/blog-uws-websockets/pkg/config"
	"github.com/calebbergman/blog-uws-websockets/pkg/dispatch"
	"github.com/calebbergman/blog-uws-websockets/pkg/envelope"
	"github.com/calebbergman/blog-uws-websockets/pkg/metrics"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// socket is one connection lifecycle: dial, read loop, close reaction.
// Fields other than writeMu are guarded by Transport.mu.
type socket struct {
	url    string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	forced bool

	writeMu       sync.Mutex
	stopHeartbeat chan struct{}
	stopOnce      sync.Once
}

func newSocket(url string) *socket {
	ctx, cancel := context.WithCancel(context.Background())
	return &socket{
		url:           url,
		ctx:           ctx,
		cancel:        cancel,
		stopHeartbeat: make(chan struct{}),
	}
}

func (s *socket) stopHeartbeatLoop() {
	s.stopOnce.Do(func() { close(s.stopHeartbeat) })
}

// write sends one text frame, serialized against other writers of the same socket
func (s *socket) write(conn *websocket.Conn, frame []byte, timeout time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// Transport is a reconnecting WebSocket client that routes inbound envelopes by action.
// Handler and observer registration is provided by the embedded Registry.
type Transport struct {
	*dispatch.Registry

	config  Config
	logger  *zap.Logger
	dialer  *websocket.Dialer
	backoff *Backoff

	mu      sync.Mutex
	state   State
	url     string
	current *socket
	retries int
	timer   *time.Timer

	wg sync.WaitGroup
}

// New creates a transport in the Closed state. Nothing is dialed until Connect.
func New(cfg Config, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	t := &Transport{
		Registry: dispatch.NewRegistry(logger),
		config:   cfg,
		logger:   logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		backoff: NewBackoff(cfg.MaxWaitTime, cfg.Jitter, nil),
		state:   Closed,
	}
	metrics.MoveConnectionState("", Closed.String())
	return t
}

// Connect points the transport at url and starts a new socket in the background.
// Any existing socket or pending reconnect is abandoned first. Dial failures are not
// returned; they are reported to close observers and retried like a dropped connection.
func (t *Transport) Connect(url string) error {
	if url == "" {
		return fmt.Errorf("%w: url is empty", ErrInvalidArgument)
	}
	if err := config.ValidateURL(url); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	t.mu.Lock()
	old := t.current
	var oldConn *websocket.Conn
	if old != nil {
		old.forced = true
		oldConn = old.conn
	}
	t.stopTimerLocked()

	s := newSocket(url)
	t.current = s
	t.url = url
	t.setStateLocked(Connecting)
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.logger.Info("Replacing existing socket", zap.String("old_url", old.url), zap.String("url", url))
		t.closeSocket(old, oldConn, "Client reconnecting")
	}

	t.logger.Info("Connecting", zap.String("url", url))
	go t.run(s)
	return nil
}

// Disconnect closes the current socket and suppresses automatic reconnection until the
// next Connect.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.stopTimerLocked()
	s := t.current
	var conn *websocket.Conn
	if s != nil {
		s.forced = true
		conn = s.conn
	}
	t.setStateLocked(ForceClosed)
	t.mu.Unlock()

	if s != nil {
		t.closeSocket(s, conn, "Client closing connection")
	}
}

// Close drops the current socket without suppressing reconnection
func (t *Transport) Close() {
	t.mu.Lock()
	s := t.current
	var conn *websocket.Conn
	if s != nil {
		conn = s.conn
	}
	t.mu.Unlock()

	if s == nil {
		return
	}
	if conn != nil {
		_ = conn.Close()
		return
	}
	s.cancel()
}

// Shutdown disconnects and waits for background goroutines to exit or ctx to expire
func (t *Transport) Shutdown(ctx context.Context) error {
	t.Disconnect()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("transport shutdown: %w", ctx.Err())
	}
}

// Emit encodes action and data into an envelope and writes it to the open socket.
// There is no outbound queue: when the socket is not open the message is dropped and
// ErrNotConnected is returned.
func (t *Transport) Emit(action string, data any) error {
	if action == "" {
		return fmt.Errorf("%w: action is empty", ErrInvalidArgument)
	}

	t.mu.Lock()
	s := t.current
	if t.state != Open || s == nil || s.conn == nil {
		t.mu.Unlock()
		return ErrNotConnected
	}
	conn := s.conn
	t.mu.Unlock()

	return t.send(s, conn, action, data)
}

func (t *Transport) send(s *socket, conn *websocket.Conn, action string, data any) error {
	frame, err := envelope.Encode(action, data)
	if err != nil {
		if errors.Is(err, envelope.ErrInvalidAction) {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	if err := s.write(conn, frame, t.config.WriteTimeout); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	metrics.MessagesSentTotal.WithLabelValues(metrics.ActionClass(action)).Inc()
	return nil
}

// State returns the current connection state (thread-safe)
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsConnected returns true if a socket is open
func (t *Transport) IsConnected() bool {
	return t.State() == Open
}

// Retries returns the number of reconnect delays computed since the last open
func (t *Transport) Retries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retries
}

// URL returns the endpoint given to the last Connect
func (t *Transport) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url
}

// run drives one socket from dial to close
func (t *Transport) run(s *socket) {
	defer t.wg.Done()
	defer s.cancel()

	conn, resp, err := t.dialer.DialContext(s.ctx, s.url, nil)
	if err != nil {
		fields := []zap.Field{zap.String("url", s.url), zap.Error(err)}
		if resp != nil {
			fields = append(fields, zap.Int("status_code", resp.StatusCode))
		}
		t.logger.Warn("WebSocket connection failed", fields...)
		t.handleClose(s, err)
		return
	}

	t.mu.Lock()
	if t.current != s || s.forced {
		t.mu.Unlock()
		_ = conn.Close()
		t.handleClose(s, nil)
		return
	}
	s.conn = conn
	t.retries = 0
	t.setStateLocked(Open)
	t.mu.Unlock()

	t.handleOpen(s, conn)
	err = t.readLoop(conn)
	t.handleClose(s, err)
}

func (t *Transport) handleOpen(s *socket, conn *websocket.Conn) {
	t.logger.Info("Connection established", zap.String("url", s.url))

	t.wg.Add(1)
	go t.heartbeat(s, conn)

	t.NotifyOpen(dispatch.Event{Type: dispatch.EventOpen, URL: s.url})
}

// readLoop reads frames until the socket fails and returns the cause
func (t *Transport) readLoop(conn *websocket.Conn) error {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		t.handleFrame(frame)
	}
}

// handleFrame decodes one inbound frame and routes it to the registry
func (t *Transport) handleFrame(frame []byte) {
	env, err := envelope.Decode(frame)
	if err != nil {
		metrics.DecodeErrorsTotal.Inc()
		t.logger.Warn("Dropping undecodable frame",
			zap.Int("message_length", len(frame)),
			zap.Error(err),
		)
		return
	}

	metrics.MessagesReceivedTotal.WithLabelValues(metrics.ActionClass(env.Action)).Inc()
	t.logger.Debug("Received envelope", zap.String("action", env.Action))
	t.Dispatch(env)
}

// handleClose stops the heartbeat, schedules a reconnect unless the socket was force
// closed or replaced, and notifies close observers.
func (t *Transport) handleClose(s *socket, cause error) {
	s.stopHeartbeatLoop()

	t.mu.Lock()
	forced := s.forced
	if t.current == s && !forced {
		delay := t.nextDelayLocked()
		t.setStateLocked(Closed)
		t.timer = time.AfterFunc(delay, func() { t.reconnect(s) })

		metrics.ReconnectDelaySeconds.Observe(delay.Seconds())
		t.logger.Warn("Connection lost, will retry",
			zap.String("url", s.url),
			zap.Error(cause),
			zap.Duration("retry_delay", delay),
			zap.Int("retry_count", t.retries),
		)
	}
	t.mu.Unlock()

	if forced {
		t.logger.Info("Connection closed", zap.String("url", s.url))
	}

	t.NotifyClose(dispatch.Event{Type: dispatch.EventClose, URL: s.url, Err: cause, Forced: forced})
}

// reconnect starts a fresh socket if s is still the current, non-forced socket
func (t *Transport) reconnect(s *socket) {
	t.mu.Lock()
	if t.current != s || s.forced {
		t.mu.Unlock()
		return
	}
	ns := newSocket(s.url)
	t.current = ns
	t.timer = nil
	t.setStateLocked(Connecting)
	t.wg.Add(1)
	retries := t.retries
	t.mu.Unlock()

	metrics.ReconnectsTotal.Inc()
	t.logger.Info("Reconnecting", zap.String("url", ns.url), zap.Int("retry_count", retries))
	go t.run(ns)
}

// heartbeat emits keep-alive frames on conn until the socket closes
func (t *Transport) heartbeat(s *socket, conn *websocket.Conn) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := t.send(s, conn, envelope.ActionKeepAlive, nil); err != nil {
				t.logger.Warn("Failed to send keep-alive", zap.Error(err))
			}
		case <-s.stopHeartbeat:
			return
		}
	}
}

// closeSocket sends a normal closure frame when conn is open and tears the socket down
func (t *Transport) closeSocket(s *socket, conn *websocket.Conn, reason string) {
	s.cancel()
	if conn == nil {
		return
	}
	s.writeMu.Lock()
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
	s.writeMu.Unlock()
	_ = conn.Close()
}

// nextDelayLocked computes the next backoff and bumps the retry counter
func (t *Transport) nextDelayLocked() time.Duration {
	delay := t.backoff.Delay(t.retries)
	t.retries++
	return delay
}

func (t *Transport) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// setStateLocked updates the connection state; t.mu must be held
func (t *Transport) setStateLocked(newState State) {
	oldState := t.state
	t.state = newState
	if oldState == newState {
		return
	}
	metrics.MoveConnectionState(oldState.String(), newState.String())
	t.logger.Info("Connection state changed",
		zap.String("from", oldState.String()),
		zap.String("to", newState.String()),
	)
}
