package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taylorshaulis/adsws/internal/routing"
)

// maxManifestSize caps how much of a manifest response is read.
const maxManifestSize = 4 << 20

// Manifest is the self-describing document a remote backend serves: a
// JSON object mapping resource path to descriptor data.
type Manifest map[string]routing.Descriptor

// Descriptors flattens the manifest into descriptors in deterministic
// (path-sorted) order. Leading slashes on manifest keys are optional and
// stripped.
func (m Manifest) Descriptors() []routing.Descriptor {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	descriptors := make([]routing.Descriptor, 0, len(m))
	for _, p := range paths {
		desc := m[p]
		desc.Path = strings.TrimPrefix(p, "/")
		descriptors = append(descriptors, desc)
	}
	return descriptors
}

// ManifestClient fetches discovery manifests from remote backends.
type ManifestClient struct {
	httpClient      *http.Client
	publishEndpoint string
	logger          *zap.Logger
}

// NewManifestClient creates a manifest client. publishEndpoint is the
// well-known path queried on each backend; timeout bounds the whole GET.
func NewManifestClient(publishEndpoint string, timeout time.Duration, logger *zap.Logger) *ManifestClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ManifestClient{
		httpClient:      &http.Client{Timeout: timeout},
		publishEndpoint: publishEndpoint,
		logger:          logger,
	}
}

// Fetch retrieves and decodes the manifest advertised at the backend's
// publish endpoint. Transport failures are reported as *NetworkError, a
// response that is not a valid manifest as *ConfigurationError.
func (c *ManifestClient) Fetch(ctx context.Context, baseURL string) ([]routing.Descriptor, error) {
	manifestURL, err := joinURL(baseURL, c.publishEndpoint)
	if err != nil {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("invalid backend URL %q", baseURL),
			Err:    err,
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("invalid manifest URL %q", manifestURL),
			Err:    err,
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: manifestURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &NetworkError{
			URL: manifestURL,
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, &NetworkError{URL: manifestURL, Err: err}
	}

	var manifest Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("malformed manifest from %s", manifestURL),
			Err:    err,
		}
	}

	c.logger.Debug("fetched discovery manifest",
		zap.String("url", manifestURL),
		zap.Int("resources", len(manifest)),
	)

	return manifest.Descriptors(), nil
}

// joinURL joins a base URL with a path, tolerating a missing leading
// slash on the path.
func joinURL(base, p string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return u.JoinPath(p).String(), nil
}
