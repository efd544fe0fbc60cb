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

// Package envelope implements the {action, data} framing exchanged over the socket.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/bytedance/sonic"
)

const (
	// ActionKeepAlive is emitted periodically while a connection is open
	ActionKeepAlive = "keep-alive"
	// ActionPing asks the relay to echo the payload back
	ActionPing = "ping"
	// ActionPong carries the echoed ping payload
	ActionPong = "pong"

	// MaxActionLength bounds the size of an action label
	MaxActionLength = 256
)

var (
	// ErrDecode is returned when an inbound frame is not a valid envelope
	ErrDecode = errors.New("envelope: malformed frame")
	// ErrInvalidAction is returned when an action label is empty or malformed
	ErrInvalidAction = errors.New("envelope: invalid action")
)

// codec mirrors encoding/json semantics (RawMessage, omitempty, Marshaler support)
var codec = sonic.ConfigStd

// Envelope is the unit exchanged in both directions
type Envelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// wireEnvelope is the outbound shape; Data is marshalled lazily by the codec
type wireEnvelope struct {
	Action string `json:"action"`
	Data   any    `json:"data,omitempty"`
}

// inboundEnvelope keeps Action as a pointer so a missing label is distinguishable
type inboundEnvelope struct {
	Action *string         `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// HasData reports whether the envelope carries a non-null payload
func (e Envelope) HasData() bool {
	trimmed := strings.TrimSpace(string(e.Data))
	return trimmed != "" && trimmed != "null"
}

// Decode unmarshals the payload into v. A missing or null payload leaves v untouched.
func (e Envelope) Decode(v any) error {
	if !e.HasData() {
		return nil
	}
	if err := codec.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode data for action %q: %w", e.Action, err)
	}
	return nil
}

// Encode serializes an outbound envelope. A nil data value is omitted from the frame.
func Encode(action string, data any) ([]byte, error) {
	if err := ValidateAction(action); err != nil {
		return nil, err
	}
	frame, err := codec.Marshal(wireEnvelope{Action: action, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode action %q: %w", action, err)
	}
	return frame, nil
}

// Decode parses an inbound frame into an Envelope
func Decode(frame []byte) (Envelope, error) {
	var in inboundEnvelope
	if err := codec.Unmarshal(frame, &in); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if in.Action == nil {
		return Envelope{}, fmt.Errorf("%w: missing action", ErrDecode)
	}
	if err := ValidateAction(*in.Action); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return Envelope{Action: *in.Action, Data: in.Data}, nil
}

// ValidateAction rejects labels that are empty, oversized or contain control characters
func ValidateAction(action string) error {
	if action == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidAction)
	}
	if len(action) > MaxActionLength {
		return fmt.Errorf("%w: action exceeds %d bytes", ErrInvalidAction, MaxActionLength)
	}
	for _, r := range action {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: action contains control characters", ErrInvalidAction)
		}
	}
	return nil
}

// SameAction reports whether two labels address the same action (case-insensitive, whole string)
func SameAction(a, b string) bool {
	return strings.EqualFold(a, b)
}
