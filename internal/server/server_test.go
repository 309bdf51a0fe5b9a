package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taylorshaulis/adsws/internal/routing"
)

func textHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	})
}

func frozenTable(t *testing.T, entries ...*routing.Entry) *routing.Table {
	t.Helper()

	table := routing.NewTable()
	for _, entry := range entries {
		for _, method := range entry.Methods {
			_, err := table.Add(entry.Path, method, entry.Handler)
			require.NoError(t, err)
		}
	}
	table.Freeze()
	return table
}

func get(s *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestServer_EmptyTableByDefault(t *testing.T) {
	s := New(":0")

	rec := get(s, http.MethodGet, "/anything")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error": "no route"}`, rec.Body.String())
}

func TestServer_Swap(t *testing.T) {
	s := New(":0")

	s.Swap(frozenTable(t, &routing.Entry{
		Path:    "/svc/widgets",
		Methods: []string{"GET", "POST"},
		Handler: textHandler("widgets"),
	}))

	rec := get(s, http.MethodGet, "/svc/widgets")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "widgets", rec.Body.String())

	rec = get(s, http.MethodPost, "/svc/widgets")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_SwapReplacesRoutes(t *testing.T) {
	s := New(":0")

	s.Swap(frozenTable(t, &routing.Entry{
		Path:    "/old",
		Methods: []string{"GET"},
		Handler: textHandler("old"),
	}))
	s.Swap(frozenTable(t, &routing.Entry{
		Path:    "/new",
		Methods: []string{"GET"},
		Handler: textHandler("new"),
	}))

	assert.Equal(t, http.StatusNotFound, get(s, http.MethodGet, "/old").Code)

	rec := get(s, http.MethodGet, "/new")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "new", rec.Body.String())
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s := New(":0")

	s.Swap(frozenTable(t, &routing.Entry{
		Path:    "/svc/widgets",
		Methods: []string{"GET"},
		Handler: textHandler("widgets"),
	}))

	rec := get(s, http.MethodDelete, "/svc/widgets")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.JSONEq(t, `{"error": "method not allowed"}`, rec.Body.String())
}

func TestServer_SwapSkipsConflictingGatewayRoutes(t *testing.T) {
	s := New(":0")

	// A backend mounted at "/" can advertise a resource that composes to
	// /metrics; publishing such a table must not take the server down.
	require.NotPanics(t, func() {
		s.Swap(frozenTable(t,
			&routing.Entry{
				Path:    "/metrics",
				Methods: []string{"GET"},
				Handler: textHandler("shadow"),
			},
			&routing.Entry{
				Path:    "/svc/widgets",
				Methods: []string{"GET"},
				Handler: textHandler("widgets"),
			},
		))
	})

	// The gateway keeps its own metrics endpoint.
	rec := get(s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	// Entries after the conflicting one still mount.
	rec = get(s, http.MethodGet, "/svc/widgets")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "widgets", rec.Body.String())
}

func TestServer_MetricsEndpoint(t *testing.T) {
	s := New(":0")

	rec := get(s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
