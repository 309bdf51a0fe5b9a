package discovery

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taylorshaulis/adsws/internal/routing"
)

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	module := &fakeModule{}

	require.NoError(t, registry.Register("adsws.status", module))

	t.Run("lookup registered module", func(t *testing.T) {
		got, ok := registry.Lookup("adsws.status")
		require.True(t, ok)
		assert.Same(t, module, got)
	})

	t.Run("lookup unknown module", func(t *testing.T) {
		_, ok := registry.Lookup("adsws.nothing")
		assert.False(t, ok)
	})

	t.Run("duplicate registration", func(t *testing.T) {
		err := registry.Register("adsws.status", &fakeModule{})
		assert.Error(t, err)
	})
}

func TestLocalHandlerFactory(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	factory := newLocalHandlerFactory([]ModuleRoute{
		{
			Descriptor: routing.Descriptor{Path: "/render", Methods: []string{"GET"}},
			Handler:    handler,
		},
	})

	assert.True(t, factory.Supports("GET"))
	assert.True(t, factory.Supports("TRACE"), "modules only declare methods they serve")

	// Leading slash is normalized on both sides.
	assert.NotNil(t, factory.Handler("/graphics/render", "render"))
	assert.NotNil(t, factory.Handler("/graphics/render", "/render"))
	assert.Nil(t, factory.Handler("/graphics/other", "other"))
}
