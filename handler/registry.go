package handler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/courier"
	"github.com/xraph/courier/envelope"
	"github.com/xraph/courier/retry"
)

// Dispatcher processes one envelope. A nil error is success; any error is a
// processing failure routed through the retry policy.
type Dispatcher interface {
	Dispatch(ctx context.Context, env *envelope.Envelope) error
}

// HandlerFunc is a type-erased handler. Typed handlers are converted to a
// HandlerFunc at registration time by closing over the payload decode.
type HandlerFunc func(ctx context.Context, env *envelope.Envelope) error

// Registry maps message types to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	// message type -> HandlerFunc, or nil for a memoized miss
	resolved sync.Map
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Handle registers fn for messageType, replacing any previous handler.
func (r *Registry) Handle(messageType string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[messageType] = fn
	r.resolved.Delete(messageType)
}

// Register registers a typed handler. Envelope data is decoded into T
// according to the envelope content type before fn is called; a payload
// that cannot be decoded fails without retry.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func Register[T any](r *Registry, messageType string, fn func(ctx context.Context, env *envelope.Envelope, msg T) error) {
	r.Handle(messageType, func(ctx context.Context, env *envelope.Envelope) error {
		var msg T
		if len(env.Data) > 0 {
			if err := Decode(env.ContentType, env.Data, &msg); err != nil {
				return retry.NonRetryable(fmt.Errorf("decode %q payload: %w", messageType, err))
			}
		}
		return fn(ctx, env, msg)
	})
}

// Lookup returns the handler for messageType.
func (r *Registry) Lookup(messageType string) (HandlerFunc, bool) {
	if v, ok := r.resolved.Load(messageType); ok {
		fn := v.(HandlerFunc) //nolint:errcheck // only HandlerFunc is stored
		return fn, fn != nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	fn := r.handlers[messageType]
	r.resolved.Store(messageType, fn)
	return fn, fn != nil
}

// Dispatch runs the handler registered for env.MessageType. A missing
// handler fails with a non-retryable courier.ErrNoHandler.
func (r *Registry) Dispatch(ctx context.Context, env *envelope.Envelope) error {
	fn, ok := r.Lookup(env.MessageType)
	if !ok {
		return retry.NonRetryable(fmt.Errorf("%w: %q", courier.ErrNoHandler, env.MessageType))
	}
	return fn(ctx, env)
}

// MessageTypes returns the registered message types, sorted.
func (r *Registry) MessageTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
