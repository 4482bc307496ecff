package job

import (
	"context"
	"fmt"
	"sync"

	jobqueue "github.com/UmairAbideen/cron-job-with-queue"
)

// HandlerFunc is a type-erased job handler operating on the raw payload
// map. The typed Definition[T] is converted to a HandlerFunc at
// registration time by closing over payload decoding + the typed handler.
type HandlerFunc func(ctx context.Context, payload map[string]string) error

// Registry maps job kinds to type-erased handler functions. The mapping is
// populated at startup and looked up at dispatch time; kinds are fixed for
// the lifetime of the process. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a handler to a kind. Registering the same kind twice
// returns jobqueue.ErrDuplicateKind.
func (r *Registry) Register(kind string, fn HandlerFunc) error {
	if kind == "" {
		return fmt.Errorf("register handler: empty kind")
	}
	if fn == nil {
		return fmt.Errorf("register handler for %q: nil handler", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("register handler for %q: %w", kind, jobqueue.ErrDuplicateKind)
	}
	r.handlers[kind] = fn
	return nil
}

// RegisterDefinition registers a typed job definition. The generic handler
// is wrapped in a closure that decodes the payload map into T before
// calling the typed handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) error {
	handler := func(ctx context.Context, payload map[string]string) error {
		t, err := DecodePayload[T](payload)
		if err != nil {
			return fmt.Errorf("decode payload for kind %q: %w: %w", def.Kind, jobqueue.ErrPermanent, err)
		}
		return def.Handler(ctx, t)
	}
	return r.Register(def.Kind, handler)
}

// Get returns the handler for the given kind.
// Returns false if no handler is registered.
func (r *Registry) Get(kind string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns all registered job kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	return kinds
}
