package transport

import (
	"sync"

	"go.uber.org/zap"
)

// Event identifies a transport lifecycle signal.
type Event string

const (
	EventConnected    Event = "connected"
	EventDisconnected Event = "disconnected"
	EventError        Event = "error"
	EventMessage      Event = "message"
	EventReconnecting Event = "reconnecting"
)

// Handler consumes an event payload. Payloads are event specific: an error for
// EventError/EventDisconnected, a *jsonrpc.Notification for EventMessage,
// an attempt count for EventReconnecting, nil otherwise.
type Handler func(payload interface{})

// Subscription identifies a registered handler so it can be removed.
type Subscription struct {
	event Event
	id    int
}

// emitter is a per-event handler registry. A handler panic is recovered and
// logged per invocation; it never escapes the emitter.
type emitter struct {
	mux      sync.RWMutex
	next     int
	handlers map[Event]map[int]Handler
	logger   *zap.Logger
}

func newEmitter(logger *zap.Logger) *emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &emitter{handlers: make(map[Event]map[int]Handler), logger: logger}
}

func (e *emitter) on(event Event, handler Handler) Subscription {
	e.mux.Lock()
	defer e.mux.Unlock()
	e.next++
	if e.handlers[event] == nil {
		e.handlers[event] = make(map[int]Handler)
	}
	e.handlers[event][e.next] = handler
	return Subscription{event: event, id: e.next}
}

func (e *emitter) off(subscription Subscription) {
	e.mux.Lock()
	defer e.mux.Unlock()
	if registry, ok := e.handlers[subscription.event]; ok {
		delete(registry, subscription.id)
	}
}

func (e *emitter) emit(event Event, payload interface{}) {
	e.mux.RLock()
	registry := e.handlers[event]
	handlers := make([]Handler, 0, len(registry))
	for _, handler := range registry {
		handlers = append(handlers, handler)
	}
	e.mux.RUnlock()
	for _, handler := range handlers {
		e.invoke(event, handler, payload)
	}
}

func (e *emitter) invoke(event Event, handler Handler, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("event handler panicked", zap.String("event", string(event)), zap.Any("panic", r))
		}
	}()
	handler(payload)
}
