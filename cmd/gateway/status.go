package main

import (
	"net/http"

	"github.com/taylorshaulis/adsws/internal/config"
	"github.com/taylorshaulis/adsws/internal/discovery"
	"github.com/taylorshaulis/adsws/internal/routing"
)

// statusModule is a local backend compiled into the gateway. It serves
// as the in-process discovery target for the gateway's own status route.
type statusModule struct {
	version string
}

func newStatusModule(version string) *statusModule {
	return &statusModule{version: version}
}

// Settings implements discovery.Module.
func (m *statusModule) Settings() map[string]string {
	return map[string]string{
		"STATUS_MODULE_VERSION": m.version,
	}
}

// Routes implements discovery.Module.
func (m *statusModule) Routes() []discovery.ModuleRoute {
	return []discovery.ModuleRoute{
		{
			Descriptor: routing.Descriptor{
				Path:      "/",
				Methods:   []string{http.MethodGet},
				RateLimit: &config.RateLimit{Count: 10000, Period: 86400},
			},
			Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"status":"online","version":"` + m.version + `"}`))
			}),
		},
	}
}
