package routing

import (
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"
)

// HandlerFactory produces the raw handler for a composed route. A single
// handler is created per route and shared by all of its methods.
type HandlerFactory interface {
	// Supports reports whether the factory can serve the given method.
	Supports(method string) bool

	// Handler returns the raw handler for a route. routePath is the
	// absolute composed path, relativePath the descriptor path on the
	// backend.
	Handler(routePath, relativePath string) http.Handler
}

// Wrapper decorates a raw handler with the gateway's cross-cutting
// policies before it is inserted into the table.
type Wrapper interface {
	Wrap(handler http.Handler, routePath string, desc Descriptor) http.Handler
}

// Composer merges resource descriptors into a routing table.
type Composer struct {
	table   *Table
	wrapper Wrapper
	logger  *zap.Logger
}

// NewComposer creates a composer that mutates the given table. Every
// handler is passed through the wrapper before insertion.
func NewComposer(table *Table, wrapper Wrapper, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{
		table:   table,
		wrapper: wrapper,
		logger:  logger,
	}
}

// Compose builds routing entries for one backend's descriptors under the
// given mount path and merges them into the table. It returns the entries
// it created or extended. Composition itself never fails: an unsupported
// method or a duplicate (path, method) registration drops that method
// with a warning and processing continues.
func (c *Composer) Compose(mountPath string, descriptors []Descriptor, factory HandlerFactory) []*Entry {
	var touched []*Entry

	for _, desc := range descriptors {
		route := JoinMount(mountPath, desc.Path)

		// One composed handler per route. When the route already exists
		// the table reuses its handler, so composition is deferred until
		// a method actually needs it.
		var handler http.Handler
		if existing, ok := c.table.Lookup(route); ok {
			handler = existing.Handler
		}

		seen := false
		for _, method := range desc.Methods {
			method = strings.ToUpper(method)

			// OPTIONS is left to the serving layer's built-in handling.
			if method == http.MethodOptions {
				continue
			}

			if !factory.Supports(method) {
				c.logger.Warn("unsupported method for route, skipping",
					zap.String("method", method),
					zap.String("route", route),
				)
				continue
			}

			if handler == nil {
				handler = c.wrapper.Wrap(factory.Handler(route, desc.Path), route, desc)
			}

			entry, err := c.table.Add(route, method, handler)
			if err != nil {
				c.logger.Warn("route registration conflict, skipping method",
					zap.String("method", method),
					zap.String("route", route),
					zap.Error(err),
				)
				continue
			}

			if !seen {
				touched = append(touched, entry)
				seen = true
			}
		}
	}

	return touched
}

// JoinMount joins a mount path with a descriptor's relative path into an
// absolute, normalized route.
func JoinMount(mountPath, relative string) string {
	relative = strings.TrimPrefix(relative, "/")
	if !strings.HasPrefix(mountPath, "/") {
		mountPath = "/" + mountPath
	}
	return path.Join(mountPath, relative)
}
