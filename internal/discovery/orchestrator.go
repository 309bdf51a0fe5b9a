package discovery

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/taylorshaulis/adsws/internal/config"
	"github.com/taylorshaulis/adsws/internal/routing"
)

// ProxyFactoryFunc builds the handler factory that proxies composed
// routes to the backend reachable at baseURL.
type ProxyFactoryFunc func(baseURL string) (routing.HandlerFactory, error)

// Orchestrator drives the discovery pass: it classifies each configured
// backend, resolves it, enumerates its resources and composes them into
// the routing table. A failing backend contributes zero routes and never
// aborts the pass.
type Orchestrator struct {
	cfg       *config.Config
	wrapper   routing.Wrapper
	proxyFor  ProxyFactoryFunc
	registry  *Registry
	resolver  *Resolver
	manifests *ManifestClient
	logger    *zap.Logger
}

// OrchestratorOption is a functional option for configuring the
// orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithRegistry sets the local module registry.
func WithRegistry(registry *Registry) OrchestratorOption {
	return func(o *Orchestrator) {
		o.registry = registry
	}
}

// WithResolver sets the consul SRV resolver. Without one, consul
// locators fail discovery for their backend only.
func WithResolver(resolver *Resolver) OrchestratorOption {
	return func(o *Orchestrator) {
		o.resolver = resolver
	}
}

// WithManifestClient sets the manifest client.
func WithManifestClient(client *ManifestClient) OrchestratorOption {
	return func(o *Orchestrator) {
		o.manifests = client
	}
}

// WithLogger sets the orchestrator's logger.
func WithLogger(logger *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// NewOrchestrator creates a discovery orchestrator. wrapper decorates
// every composed handler; proxyFor builds per-backend proxy factories.
func NewOrchestrator(cfg *config.Config, wrapper routing.Wrapper, proxyFor ProxyFactoryFunc, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		wrapper:  wrapper,
		proxyFor: proxyFor,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.registry == nil {
		o.registry = NewRegistry()
	}
	if o.manifests == nil {
		o.manifests = NewManifestClient(cfg.PublishEndpoint, cfg.DiscoveryTimeout, o.logger)
	}

	return o
}

// backendResult is the outcome of enumerating a single backend before
// any routing table mutation happens.
type backendResult struct {
	descriptors []routing.Descriptor
	factory     routing.HandlerFactory
	settings    map[string]string
}

// Discover runs a single discovery pass over the configured backends, in
// declaration order, and returns the frozen routing table. It never
// fails as a whole: every per-backend error is logged and converted into
// that backend contributing zero routes.
func (o *Orchestrator) Discover(ctx context.Context, backends []config.Backend) *routing.Table {
	table := routing.NewTable()
	composer := routing.NewComposer(table, o.wrapper, o.logger)

	for _, backend := range backends {
		scheme := schemeLabel(backend.Locator)

		result, err := o.enumerate(ctx, backend.Locator)
		if err != nil {
			o.logFailure(backend.Locator, err)
			backendsDiscoveredTotal.WithLabelValues(scheme, "failed").Inc()
			continue
		}

		// All fallible work is done; composition cannot fail, so the
		// backend's routes commit as a whole.
		if len(result.settings) > 0 {
			o.cfg.MergeSettings(result.settings)
		}

		entries := composer.Compose(backend.MountPath, result.descriptors, result.factory)

		backendsDiscoveredTotal.WithLabelValues(scheme, "discovered").Inc()
		routesComposedTotal.Add(float64(len(entries)))

		o.logger.Info("discovered backend",
			zap.String("locator", backend.Locator),
			zap.String("mountPath", backend.MountPath),
			zap.Int("routes", len(entries)),
		)
	}

	table.Freeze()
	return table
}

// enumerate resolves one backend to its descriptors and handler factory.
func (o *Orchestrator) enumerate(ctx context.Context, rawLocator string) (*backendResult, error) {
	locator, err := ParseLocator(rawLocator)
	if err != nil {
		return nil, err
	}

	switch locator.Scheme {
	case SchemeLocal:
		return o.enumerateLocal(locator)

	case SchemeHTTP:
		return o.enumerateRemote(ctx, []string{locator.URL})

	case SchemeConsul:
		if o.resolver == nil {
			return nil, &ConfigurationError{
				Reason: "consul locator configured but no resolver available",
			}
		}
		endpoints, err := o.resolver.Resolve(ctx, locator.Service)
		if err != nil {
			return nil, err
		}
		urls := make([]string, len(endpoints))
		for i, ep := range endpoints {
			urls[i] = ep.URL()
		}
		return o.enumerateRemote(ctx, urls)

	default:
		return nil, &ConfigurationError{
			Reason: "unhandled locator scheme " + string(locator.Scheme),
		}
	}
}

// enumerateLocal looks the module up in the registry and enumerates its
// routes directly, with no network call.
func (o *Orchestrator) enumerateLocal(locator Locator) (*backendResult, error) {
	module, ok := o.registry.Lookup(locator.Module)
	if !ok {
		return nil, &ConfigurationError{
			Reason: "unknown local module " + locator.Module,
		}
	}

	routes := module.Routes()
	descriptors := make([]routing.Descriptor, len(routes))
	for i, route := range routes {
		descriptors[i] = route.Descriptor
	}

	return &backendResult{
		descriptors: descriptors,
		factory:     newLocalHandlerFactory(routes),
		settings:    module.Settings(),
	}, nil
}

// enumerateRemote fetches the discovery manifest from the first
// reachable endpoint. Unreachable endpoints are skipped; any other fetch
// failure fails the backend.
func (o *Orchestrator) enumerateRemote(ctx context.Context, urls []string) (*backendResult, error) {
	var lastErr error

	for _, u := range urls {
		descriptors, err := o.manifests.Fetch(ctx, u)
		if err != nil {
			var netErr *NetworkError
			if errors.As(err, &netErr) {
				o.logger.Debug("endpoint unreachable, trying next",
					zap.String("url", u),
					zap.Error(err),
				)
				lastErr = err
				continue
			}
			return nil, err
		}

		factory, err := o.proxyFor(u)
		if err != nil {
			return nil, err
		}

		return &backendResult{
			descriptors: descriptors,
			factory:     factory,
		}, nil
	}

	return nil, lastErr
}

// logFailure logs a per-backend discovery failure. Unreachable backends
// are informational; everything else is an error with full detail.
func (o *Orchestrator) logFailure(locator string, err error) {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		o.logger.Info("could not discover backend",
			zap.String("locator", locator),
			zap.Error(err),
		)
		return
	}

	o.logger.Error("problem discovering backend, skipping this service entirely",
		zap.String("locator", locator),
		zap.Error(err),
	)
}

// schemeLabel classifies a raw locator for metrics without failing.
func schemeLabel(raw string) string {
	locator, err := ParseLocator(raw)
	if err != nil {
		return "invalid"
	}
	return string(locator.Scheme)
}
