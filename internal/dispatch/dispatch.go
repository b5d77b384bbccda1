// Package dispatch routes parsed events to per-type handlers.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/austindbirch/mooring/internal/event"
)

// Status is a handler's verdict on an event.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
)

// Result is what a handler reports back to the pipeline.
type Result struct {
	Status  Status
	Details string
	// Err carries the failure cause when Status is failure.
	Err error
	// Retryable marks a failure as worth retrying. Ignored otherwise.
	Retryable bool
}

// Handler processes one event. Implementations must be safe for concurrent
// use; the same handler serves every delivery of its type.
type Handler func(ctx context.Context, evt *event.Event) Result

// Registry maps event types to handlers. Registration happens at startup;
// Dispatch is called concurrently afterwards.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to an event type, replacing any previous binding.
func (r *Registry) Register(eventType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = h
}

// Types returns the registered event types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Dispatch runs the handler for the event's type. An unknown type is skipped,
// not failed: unrecognized events are acknowledged so the sender stops
// redelivering them. A handler panic is contained and reported as a retryable
// failure.
func (r *Registry) Dispatch(ctx context.Context, evt *event.Event) (res Result) {
	r.mu.RLock()
	h, ok := r.handlers[evt.Type]
	r.mu.RUnlock()

	if !ok {
		return Result{Status: StatusSkipped, Details: fmt.Sprintf("no handler for event type %q", evt.Type)}
	}

	defer func() {
		if p := recover(); p != nil {
			res = Result{
				Status:    StatusFailure,
				Err:       fmt.Errorf("handler for %q panicked: %v", evt.Type, p),
				Retryable: true,
			}
		}
	}()
	return h(ctx, evt)
}
