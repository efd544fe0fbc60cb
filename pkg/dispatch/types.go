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

package dispatch

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/calebbergman/blog-uws-websockets/pkg/envelope"
)

// ErrNoIdentity is returned when a handler or observer value cannot be compared, so it
// could never be found again for duplicate detection or removal. Register such values
// with the *Func variants, which return a Registration handle.
var ErrNoIdentity = errors.New("dispatch: value has no comparable identity")

// Handler processes an inbound envelope whose action matched its registration
type Handler interface {
	HandleMessage(env envelope.Envelope) error
}

// HandlerFunc adapts a plain function to Handler. Funcs are not comparable, so
// register them with Registry.AddMessageFunc.
type HandlerFunc func(env envelope.Envelope) error

// HandleMessage calls f(env)
func (f HandlerFunc) HandleMessage(env envelope.Envelope) error {
	return f(env)
}

// EventType identifies a lifecycle event
type EventType int

const (
	// EventOpen fires after a socket is established
	EventOpen EventType = iota
	// EventClose fires after a socket ends, including failed dials
	EventClose
)

// String returns the string representation of the event type
func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event describes a lifecycle transition delivered to observers
type Event struct {
	Type   EventType
	URL    string
	Err    error // Close cause, nil on open or on a clean close
	Forced bool  // True when the close came from Disconnect and will not reconnect
}

// Observer is notified of lifecycle events
type Observer interface {
	Observe(evt Event) error
}

// ObserverFunc adapts a plain function to Observer. Register it with AddOnOpenFunc
// or AddOnCloseFunc.
type ObserverFunc func(evt Event) error

// Observe calls f(evt)
func (f ObserverFunc) Observe(evt Event) error {
	return f(evt)
}

// HandlerError reports a failed handler or observer invocation
type HandlerError struct {
	Kind     string // "message", "open" or "close"
	Action   string // Matched action for message handlers
	Err      error
	Panicked bool
}

func (e *HandlerError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s handler for action %q failed: %v", e.Kind, e.Action, e.Err)
	}
	return fmt.Sprintf("%s observer failed: %v", e.Kind, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Registration is the handle returned for function registrations, which have no
// identity of their own and are removed with Registry.Remove.
type Registration struct {
	id string
}

// ID returns the unique registration ID
func (r Registration) ID() string {
	return r.id
}

// IsZero reports whether r was never issued
func (r Registration) IsZero() bool {
	return r.id == ""
}

// identityOf returns the comparable value that identifies v.
// Funcs, maps, slices and values containing them have no identity.
func identityOf(v any) (any, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Map, reflect.Slice, reflect.Invalid:
		return nil, false
	}
	if !rv.Comparable() {
		return nil, false
	}
	return v, true
}
