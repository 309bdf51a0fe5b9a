// Package discovery resolves configured service locators, enumerates the
// resources each backend advertises and composes them into the gateway
// routing table. A failing backend never aborts discovery of the others.
package discovery

import "fmt"

// ConfigurationError indicates a backend is misconfigured: an invalid
// locator scheme, an unknown network interface or a malformed manifest.
// It is fatal only for the backend being processed.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ResolutionError indicates a service name could not be resolved to any
// endpoint: nameserver failure or no usable SRV records.
type ResolutionError struct {
	Service string
	Reason  string
	Err     error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to resolve %s: %s: %v", e.Service, e.Reason, e.Err)
	}
	return fmt.Sprintf("failed to resolve %s: %s", e.Service, e.Reason)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// NetworkError indicates a backend's manifest endpoint could not be
// reached. It is treated as an informational skip, not a failure.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("could not reach %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
