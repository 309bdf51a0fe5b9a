package discovery

import (
	"fmt"
	"strings"
)

// Scheme classifies how a backend is discovered.
type Scheme string

const (
	// SchemeLocal identifies an in-process module backend.
	SchemeLocal Scheme = "local"

	// SchemeHTTP identifies a static remote HTTP(S) backend.
	SchemeHTTP Scheme = "http"

	// SchemeConsul identifies a backend resolved via consul DNS SRV.
	SchemeConsul Scheme = "consul"
)

const consulPrefix = "consul://"

// Locator identifies a backend and how to reach it. It is parsed eagerly
// from configuration and immutable afterwards.
type Locator struct {
	// Raw is the locator exactly as configured.
	Raw string

	// Scheme classifies the discovery strategy.
	Scheme Scheme

	// URL is the backend base URL. Set for SchemeHTTP.
	URL string

	// Service is the consul service name. Set for SchemeConsul.
	Service string

	// Module is the local module identifier. Set for SchemeLocal.
	Module string
}

// ParseLocator parses a configured service locator. Anything without a
// scheme is a local module identifier; an unrecognized scheme is a
// configuration error.
func ParseLocator(raw string) (Locator, error) {
	if raw == "" {
		return Locator{}, &ConfigurationError{Reason: "empty service locator"}
	}

	switch {
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return Locator{Raw: raw, Scheme: SchemeHTTP, URL: raw}, nil

	case strings.HasPrefix(raw, consulPrefix):
		service := strings.TrimPrefix(raw, consulPrefix)
		if service == "" {
			return Locator{}, &ConfigurationError{
				Reason: fmt.Sprintf("consul locator %q has no service name", raw),
			}
		}
		return Locator{Raw: raw, Scheme: SchemeConsul, Service: service}, nil

	case strings.Contains(raw, "://"):
		return Locator{}, &ConfigurationError{
			Reason: fmt.Sprintf("unknown locator scheme in %q", raw),
		}

	default:
		return Locator{Raw: raw, Scheme: SchemeLocal, Module: raw}, nil
	}
}

// String returns the raw locator.
func (l Locator) String() string {
	return l.Raw
}
