package invalidation

import (
	"log"
	"sync"

	"github.com/LeanVibe/leanvibe-ai-sub004/internal/debug"
	pkgerrors "github.com/LeanVibe/leanvibe-ai-sub004/internal/errors"
)

// CacheHandler is implemented by any consumer that caches per-file state
// and can purge a single key. Handlers are only ever told which key to
// drop; they never get write access to the graph.
type CacheHandler interface {
	// Name identifies the handler in logs and metrics.
	Name() string
	// ClearCache purges everything the handler holds for the given file
	// path. Must be safe to call for keys the handler has never seen.
	ClearCache(key string) error
}

// HandlerRegistry is an observer registry of cache handlers. Handlers may
// register and unregister at any time, including while an invalidation
// pass is running on another goroutine.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers []CacheHandler
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{}
}

// Register adds a handler. A handler already registered under the same
// name is replaced.
func (r *HandlerRegistry) Register(h CacheHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.handlers {
		if existing.Name() == h.Name() {
			r.handlers[i] = h
			return
		}
	}
	r.handlers = append(r.handlers, h)
}

// Unregister removes the handler with the given name, if present.
func (r *HandlerRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, h := range r.handlers {
		if h.Name() == name {
			r.handlers = append(r.handlers[:i], r.handlers[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered handlers.
func (r *HandlerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// clearAll purges one key on every registered handler. A handler failure
// is logged and counted but never blocks the remaining handlers.
func (r *HandlerRegistry) clearAll(key string) (failures int) {
	r.mu.RLock()
	handlers := make([]CacheHandler, len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.RUnlock()

	for _, h := range handlers {
		if err := h.ClearCache(key); err != nil {
			failures++
			herr := pkgerrors.NewHandlerError(h.Name(), key, err)
			log.Printf("Warning: %v", herr)
			debug.LogInvalidation("handler %s failed for %s: %v\n", h.Name(), key, err)
		}
	}
	return failures
}
