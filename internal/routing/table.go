// Package routing builds the gateway routing table from discovered
// resource descriptors. The table is merge-only while discovery runs and
// is published read-only to the serving layer.
package routing

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/taylorshaulis/adsws/internal/config"
)

// Sentinel errors for table mutation.
var (
	// ErrMethodConflict indicates a (path, method) pair was registered twice.
	ErrMethodConflict = errors.New("method already registered for route")

	// ErrTableFrozen indicates a mutation was attempted after the table
	// was published for serving.
	ErrTableFrozen = errors.New("routing table is frozen")
)

// Descriptor is the declarative shape a backend advertises about one of
// its paths: the relative path, the HTTP methods it accepts, the
// authorization scopes it requires, and its rate limit budget.
type Descriptor struct {
	// Path is the resource path relative to the backend's mount point.
	// A leading slash is optional.
	Path string `json:"-"`

	// Methods are the HTTP methods the resource accepts.
	Methods []string `json:"methods"`

	// Scopes are the authorization scopes required to invoke the
	// resource. Empty means no authorization is required.
	Scopes []string `json:"scopes,omitempty"`

	// RateLimit is the resource's request budget. Nil means the gateway
	// default applies.
	RateLimit *config.RateLimit `json:"rate_limit,omitempty"`
}

// Entry is one route in the table: an absolute path, the set of methods
// it accepts, and the decorated handler all methods dispatch through.
type Entry struct {
	Path    string
	Methods []string
	Handler http.Handler
}

// HasMethod reports whether the entry accepts the given method.
func (e *Entry) HasMethod(method string) bool {
	for _, m := range e.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// Table is the gateway routing table. It is built by a single discovery
// pass and must be frozen before being handed to the serving layer;
// concurrent reads of a frozen table are safe.
type Table struct {
	entries []*Entry
	byPath  map[string]*Entry
	frozen  bool
}

// NewTable creates an empty routing table.
func NewTable() *Table {
	return &Table{
		byPath: make(map[string]*Entry),
	}
}

// Add registers a (path, method) pair. A new path creates a new entry
// with the given handler. An existing path with a new method extends the
// entry's method set; the entry's original handler is reused and the
// given one is ignored. Registering the same (path, method) twice is a
// conflict.
func (t *Table) Add(path, method string, handler http.Handler) (*Entry, error) {
	if t.frozen {
		return nil, ErrTableFrozen
	}

	if entry, ok := t.byPath[path]; ok {
		if entry.HasMethod(method) {
			return nil, fmt.Errorf("%w: %s %s", ErrMethodConflict, method, path)
		}
		entry.Methods = append(entry.Methods, method)
		return entry, nil
	}

	entry := &Entry{
		Path:    path,
		Methods: []string{method},
		Handler: handler,
	}
	t.entries = append(t.entries, entry)
	t.byPath[path] = entry
	return entry, nil
}

// Lookup returns the entry for an absolute path.
func (t *Table) Lookup(path string) (*Entry, bool) {
	entry, ok := t.byPath[path]
	return entry, ok
}

// Entries returns the table's entries in registration order.
func (t *Table) Entries() []*Entry {
	return t.entries
}

// Len returns the number of routes in the table.
func (t *Table) Len() int {
	return len(t.entries)
}

// Freeze marks the table read-only. Further Add calls fail with
// ErrTableFrozen.
func (t *Table) Freeze() {
	t.frozen = true
}

// Frozen reports whether the table has been published read-only.
func (t *Table) Frozen() bool {
	return t.frozen
}
