package discovery

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/taylorshaulis/adsws/internal/routing"
)

// ModuleRoute is one route a local module exposes: its typed descriptor
// and the handler serving it. Modules declare their scope and rate limit
// metadata here explicitly; nothing is probed off the handler.
type ModuleRoute struct {
	Descriptor routing.Descriptor
	Handler    http.Handler
}

// Module is a backend living in the gateway process. It exposes its own
// settings and an enumerable set of routes with attached metadata.
type Module interface {
	// Settings returns the module's configuration. Keys already declared
	// by the gateway win during the merge.
	Settings() map[string]string

	// Routes enumerates the module's routes.
	Routes() []ModuleRoute
}

// Registry holds the local modules available as discovery targets,
// keyed by identifier.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]Module),
	}
}

// Register adds a module under the given identifier.
func (r *Registry) Register(identifier string, module Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[identifier]; exists {
		return fmt.Errorf("module %q is already registered", identifier)
	}
	r.modules[identifier] = module
	return nil
}

// Lookup returns the module registered under the given identifier.
func (r *Registry) Lookup(identifier string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	module, ok := r.modules[identifier]
	return module, ok
}

// localHandlerFactory serves handlers straight from a module's routes,
// keyed by the descriptor's relative path.
type localHandlerFactory struct {
	handlers map[string]http.Handler
}

func newLocalHandlerFactory(routes []ModuleRoute) *localHandlerFactory {
	handlers := make(map[string]http.Handler, len(routes))
	for _, route := range routes {
		handlers[strings.TrimPrefix(route.Descriptor.Path, "/")] = route.Handler
	}
	return &localHandlerFactory{handlers: handlers}
}

// Supports implements routing.HandlerFactory. A module only declares
// methods it serves, so every declared method is supported.
func (f *localHandlerFactory) Supports(_ string) bool {
	return true
}

// Handler implements routing.HandlerFactory.
func (f *localHandlerFactory) Handler(_, relativePath string) http.Handler {
	return f.handlers[strings.TrimPrefix(relativePath, "/")]
}
