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
	"errors"
	"time"
)

var (
	// ErrInvalidArgument is returned for an unusable URL or action label
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotConnected is returned by Emit when no socket is open; the message is dropped
	ErrNotConnected = errors.New("not connected")
)

// State represents the connection state
type State int

const (
	// Closed - no socket, or a reconnect is pending
	Closed State = iota
	// Connecting - a socket is being dialed
	Connecting
	// Open - the socket is established and frames can be written
	Open
	// ForceClosed - closed by Disconnect, no reconnect until Connect
	ForceClosed
)

// States lists every State in declaration order
var States = []State{Closed, Connecting, Open, ForceClosed}

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case ForceClosed:
		return "force-closed"
	default:
		return "unknown"
	}
}

// Config holds the transport tuning knobs
type Config struct {
	MaxWaitTime       time.Duration // Upper bound of a reconnect delay
	HeartbeatInterval time.Duration // Keep-alive period while open
	Jitter            time.Duration // Random delay added to each backoff, in [0, Jitter)
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
}

// DefaultConfig returns the default transport configuration
func DefaultConfig() Config {
	return Config{
		MaxWaitTime:       4096 * time.Millisecond,
		HeartbeatInterval: 60 * time.Second,
		Jitter:            1000 * time.Millisecond,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// withDefaults fills zero values from DefaultConfig. A zero Jitter is kept.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxWaitTime <= 0 {
		c.MaxWaitTime = def.MaxWaitTime
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	return c
}
