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
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/calebbergman/blog-uws-websockets/pkg/envelope"
	"github.com/calebbergman/blog-uws-websockets/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// registration binds one handler to one action label.
// key is nil for function registrations, which are only removable by id.
type registration struct {
	id      string
	action  string
	handler Handler
	key     any
	removed atomic.Bool
}

// observerEntry is one slot of an ordered observer list
type observerEntry struct {
	id       string
	observer Observer
	key      any
	removed  atomic.Bool
}

// Registry maps inbound action labels to handlers and lifecycle events to observers.
//
// Lists are copy-on-write: mutations replace the slice, so a dispatch works on a stable
// snapshot and callbacks run without any lock held. Each entry carries a removed flag
// checked right before invocation. Once a removal returns the callback is not started
// again, except for a call that had already passed that check.
type Registry struct {
	mu       sync.RWMutex
	messages []*registration
	onOpen   []*observerEntry
	onClose  []*observerEntry
	logger   *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger: logger,
	}
}

// AddMessage registers h for inbound envelopes whose action matches action.
// h must be comparable (typically a pointer); registering the same (action, h) pair
// twice is a no-op and the return value reports whether a registration was created.
func (r *Registry) AddMessage(action string, h Handler) (bool, error) {
	if err := envelope.ValidateAction(action); err != nil {
		return false, err
	}
	if h == nil {
		return false, fmt.Errorf("handler for action %q is nil", action)
	}
	key, ok := identityOf(h)
	if !ok {
		return false, fmt.Errorf("handler for action %q: %w", action, ErrNoIdentity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.messages {
		if m.key == key && envelope.SameAction(m.action, action) {
			return false, nil
		}
	}
	r.messages = appendCopy(r.messages, &registration{id: uuid.NewString(), action: action, handler: h, key: key})
	return true, nil
}

// AddMessageFunc registers fn for action and returns its handle.
// Every call creates a new registration; remove it with Remove.
func (r *Registry) AddMessageFunc(action string, fn func(env envelope.Envelope) error) (Registration, error) {
	if err := envelope.ValidateAction(action); err != nil {
		return Registration{}, err
	}
	if fn == nil {
		return Registration{}, fmt.Errorf("handler for action %q is nil", action)
	}

	reg := &registration{id: uuid.NewString(), action: action, handler: HandlerFunc(fn)}

	r.mu.Lock()
	r.messages = appendCopy(r.messages, reg)
	r.mu.Unlock()

	return Registration{id: reg.id}, nil
}

// DelMessage removes the registration of h for action.
// Removal is keyed by the (action, handler) pair; other actions bound to h are kept.
func (r *Registry) DelMessage(action string, h Handler) bool {
	if h == nil {
		return false
	}
	key, ok := identityOf(h)
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, m := range r.messages {
		if m.key == key && envelope.SameAction(m.action, action) {
			m.removed.Store(true)
			r.messages = removeAt(r.messages, i)
			return true
		}
	}
	return false
}

// Remove deletes the registration identified by reg from whichever list holds it
func (r *Registry) Remove(reg Registration) bool {
	if reg.IsZero() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, m := range r.messages {
		if m.id == reg.id {
			m.removed.Store(true)
			r.messages = removeAt(r.messages, i)
			return true
		}
	}
	for _, list := range []*[]*observerEntry{&r.onOpen, &r.onClose} {
		for i, e := range *list {
			if e.id == reg.id {
				e.removed.Store(true)
				*list = removeAt(*list, i)
				return true
			}
		}
	}
	return false
}

// AddOnOpen appends an observer for socket open events, ignoring duplicates.
// o must be comparable; it returns false for duplicates and for values without identity.
func (r *Registry) AddOnOpen(o Observer) bool {
	return r.addObserver(&r.onOpen, o)
}

// AddOnOpenFunc appends fn as an open observer and returns its handle
func (r *Registry) AddOnOpenFunc(fn func(evt Event) error) Registration {
	return r.addObserverFunc(&r.onOpen, fn)
}

// DelOnOpen removes an open observer
func (r *Registry) DelOnOpen(o Observer) bool {
	return r.delObserver(&r.onOpen, o)
}

// AddOnClose appends an observer for socket close events, ignoring duplicates
func (r *Registry) AddOnClose(o Observer) bool {
	return r.addObserver(&r.onClose, o)
}

// AddOnCloseFunc appends fn as a close observer and returns its handle
func (r *Registry) AddOnCloseFunc(fn func(evt Event) error) Registration {
	return r.addObserverFunc(&r.onClose, fn)
}

// DelOnClose removes a close observer
func (r *Registry) DelOnClose(o Observer) bool {
	return r.delObserver(&r.onClose, o)
}

func (r *Registry) addObserver(list *[]*observerEntry, o Observer) bool {
	if o == nil {
		return false
	}
	key, ok := identityOf(o)
	if !ok {
		r.logger.Warn("Ignoring observer without comparable identity, use the Func variant")
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range *list {
		if e.key == key {
			return false
		}
	}
	*list = appendCopy(*list, &observerEntry{id: uuid.NewString(), observer: o, key: key})
	return true
}

func (r *Registry) addObserverFunc(list *[]*observerEntry, fn func(evt Event) error) Registration {
	if fn == nil {
		return Registration{}
	}
	e := &observerEntry{id: uuid.NewString(), observer: ObserverFunc(fn)}

	r.mu.Lock()
	*list = appendCopy(*list, e)
	r.mu.Unlock()

	return Registration{id: e.id}
}

func (r *Registry) delObserver(list *[]*observerEntry, o Observer) bool {
	if o == nil {
		return false
	}
	key, ok := identityOf(o)
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range *list {
		if e.key == key {
			e.removed.Store(true)
			*list = removeAt(*list, i)
			return true
		}
	}
	return false
}

// Dispatch invokes every handler whose action matches env.Action, in registration order.
// Handler failures are logged and never stop sibling handlers. It returns the number of
// handlers invoked.
func (r *Registry) Dispatch(env envelope.Envelope) int {
	r.mu.RLock()
	var matched []*registration
	for _, m := range r.messages {
		if envelope.SameAction(m.action, env.Action) {
			matched = append(matched, m)
		}
	}
	r.mu.RUnlock()

	invoked := 0
	for _, m := range matched {
		if m.removed.Load() {
			continue
		}
		invoked++
		handler := m.handler
		if err := invoke("message", m.action, func() error { return handler.HandleMessage(env) }); err != nil {
			metrics.HandlerErrorsTotal.WithLabelValues("message").Inc()
			r.logger.Error("Message handler failed",
				zap.String("action", env.Action),
				zap.Error(err),
			)
		}
	}

	if invoked == 0 {
		metrics.UnhandledActionsTotal.Inc()
		r.logger.Warn("No registered message handlers for action",
			zap.String("action", env.Action),
		)
	}
	return invoked
}

// NotifyOpen runs the open observers in registration order
func (r *Registry) NotifyOpen(evt Event) {
	r.mu.RLock()
	list := r.onOpen
	r.mu.RUnlock()
	r.notify(list, evt)
}

// NotifyClose runs the close observers in registration order
func (r *Registry) NotifyClose(evt Event) {
	r.mu.RLock()
	list := r.onClose
	r.mu.RUnlock()
	r.notify(list, evt)
}

func (r *Registry) notify(list []*observerEntry, evt Event) {
	kind := evt.Type.String()
	for _, e := range list {
		if e.removed.Load() {
			continue
		}
		observer := e.observer
		if err := invoke(kind, "", func() error { return observer.Observe(evt) }); err != nil {
			metrics.HandlerErrorsTotal.WithLabelValues(kind).Inc()
			r.logger.Error("Lifecycle observer failed",
				zap.String("event", kind),
				zap.Error(err),
			)
		}
	}
}

// Count returns the number of handlers registered for action
func (r *Registry) Count(action string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, m := range r.messages {
		if envelope.SameAction(m.action, action) {
			n++
		}
	}
	return n
}

// ObserverCounts returns the sizes of the open and close observer lists
func (r *Registry) ObserverCounts() (opens, closes int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.onOpen), len(r.onClose)
}

// invoke runs fn, converting a returned error or a panic into a *HandlerError
func invoke(kind, action string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &HandlerError{Kind: kind, Action: action, Err: fmt.Errorf("panic: %v", p), Panicked: true}
		}
	}()
	if callErr := fn(); callErr != nil {
		return &HandlerError{Kind: kind, Action: action, Err: callErr}
	}
	return nil
}

// appendCopy returns a new slice so snapshots taken by readers are never mutated
func appendCopy[T any](list []T, item T) []T {
	out := make([]T, 0, len(list)+1)
	out = append(out, list...)
	return append(out, item)
}

func removeAt[T any](list []T, i int) []T {
	out := make([]T, 0, len(list)-1)
	out = append(out, list[:i]...)
	return append(out, list[i+1:]...)
}
