package channel

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry maps channel names to their stream handlers
type Registry struct {
	handlers map[string]StreamHandler
	mu       sync.RWMutex
	logger   zerolog.Logger
}

// NewRegistry creates an empty Registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]StreamHandler),
		logger:   logger.With().Str("component", "channel-registry").Logger(),
	}
}

// Register installs handler under name
func (r *Registry) Register(name string, handler StreamHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return Errorf(CodeFailedPrecondition, "channel already registered: %s", name)
	}
	r.handlers[name] = handler
	r.logger.Debug().Str("channel", name).Msg("channel registered")
	return nil
}

// Unregister removes the handler for name. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	_, ok := r.handlers[name]
	delete(r.handlers, name)
	r.mu.Unlock()
	if ok {
		r.logger.Debug().Str("channel", name).Msg("channel unregistered")
	}
}

// Get returns the handler registered under name
func (r *Registry) Get(name string) (StreamHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Len returns the number of registered channels
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
