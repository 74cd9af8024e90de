package projection

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Payload is what a handler receives per invocation. EventType is the
// effective type: for retraction dispatches it is the type of the
// retracted event, not "event.retracted".
type Payload struct {
	UserID    uuid.UUID
	EventType string
	EventID   uuid.UUID
	Extra     map[string]any
}

// HandlerFunc recomputes one projection from the user's surviving event
// set. Handlers must be idempotent: two invocations against an unchanged
// event set yield identical data. The connection is carried in ctx — all
// repository calls inside the handler join its savepoint.
type HandlerFunc func(ctx context.Context, p Payload) error

// Handler is a named projection handler. The name is the stable string
// key serialized into retry jobs; it must survive process restarts.
type Handler struct {
	Name   string
	Handle HandlerFunc
}

// Registry maps event types to ordered handler lists and handler names to
// handlers. It is an explicit value constructed once at process start and
// passed by reference; it is not safe for concurrent mutation, so all
// Register calls happen during wiring, before any dispatch.
type Registry struct {
	byName  map[string]Handler
	byEvent map[string][]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]Handler),
		byEvent: make(map[string][]Handler),
	}
}

// Register adds a handler under a unique name for the given event types.
// Duplicate names are an init-time error, not a runtime surprise.
func (r *Registry) Register(name string, eventTypes []string, fn HandlerFunc) error {
	if name == "" {
		return fmt.Errorf("register handler: name is required")
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("register handler: duplicate name %q", name)
	}
	if len(eventTypes) == 0 {
		return fmt.Errorf("register handler %q: at least one event type is required", name)
	}

	h := Handler{Name: name, Handle: fn}
	r.byName[name] = h
	for _, et := range eventTypes {
		r.byEvent[et] = append(r.byEvent[et], h)
	}
	return nil
}

// HandlersFor returns the handlers registered for an event type, in
// registration order. An empty result is the dispatcher's cheap no-op
// signal: no lock is taken and no query is issued.
func (r *Registry) HandlersFor(eventType string) []Handler {
	return r.byEvent[eventType]
}

// ByName resolves a handler by its serialized name.
func (r *Registry) ByName(name string) (Handler, bool) {
	h, ok := r.byName[name]
	return h, ok
}
