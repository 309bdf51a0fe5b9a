package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// defaultDNSTimeout bounds a single SRV exchange.
const defaultDNSTimeout = 5 * time.Second

// Endpoint is a resolved reachable base address for a backend.
type Endpoint struct {
	Scheme string
	Host   string
	Port   uint16
}

// URL returns the endpoint as a base URL.
func (e Endpoint) URL() string {
	return fmt.Sprintf("%s://%s:%d", e.Scheme, e.Host, e.Port)
}

// Resolver resolves consul service names to endpoints by querying a
// nameserver for SRV records.
type Resolver struct {
	nameserver string
	client     *dns.Client
	logger     *zap.Logger
}

// ResolverOption is a functional option for configuring the resolver.
type ResolverOption func(*Resolver)

// WithDNSTimeout sets the timeout for a single DNS exchange.
func WithDNSTimeout(timeout time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.client.Timeout = timeout
	}
}

// WithResolverLogger sets the resolver's logger.
func WithResolverLogger(logger *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a resolver using an explicit nameserver IP.
func NewResolver(nameserverIP string, opts ...ResolverOption) (*Resolver, error) {
	if net.ParseIP(nameserverIP) == nil {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("invalid nameserver IP %q", nameserverIP),
		}
	}
	return newResolver(net.JoinHostPort(nameserverIP, "53"), opts...), nil
}

// NewResolverFromInterface creates a resolver whose nameserver is the
// IPv4 address bound to the named network interface.
func NewResolverFromInterface(iface string, opts ...ResolverOption) (*Resolver, error) {
	ip, err := interfaceIPv4(iface)
	if err != nil {
		return nil, err
	}
	return newResolver(net.JoinHostPort(ip, "53"), opts...), nil
}

func newResolver(nameserver string, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		nameserver: nameserver,
		client:     &dns.Client{Timeout: defaultDNSTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Nameserver returns the nameserver address the resolver queries.
func (r *Resolver) Nameserver() string {
	return r.nameserver
}

// Resolve queries the nameserver for the service's SRV records and joins
// the answer section (target, port) with the additional section
// (target, address) into endpoints. Targets present in only one of the
// two sections are dropped; the result fully replaces any previous
// endpoint list for the service.
func (r *Resolver) Resolve(ctx context.Context, service string) ([]Endpoint, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(service), dns.TypeSRV)

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.nameserver)
	if err != nil {
		return nil, &ResolutionError{Service: service, Reason: "SRV query failed", Err: err}
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, &ResolutionError{
			Service: service,
			Reason:  fmt.Sprintf("SRV query returned %s", dns.RcodeToString[resp.Rcode]),
		}
	}

	// Additional section maps target hostname to address.
	addresses := make(map[string]string)
	for _, rr := range resp.Extra {
		if a, ok := rr.(*dns.A); ok {
			addresses[a.Hdr.Name] = a.A.String()
		}
	}

	// Answer section maps the same target hostname to a port.
	var endpoints []Endpoint
	for _, rr := range resp.Answer {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		addr, ok := addresses[srv.Target]
		if !ok {
			r.logger.Debug("dropping SRV target without additional record",
				zap.String("service", service),
				zap.String("target", srv.Target),
			)
			continue
		}
		endpoints = append(endpoints, Endpoint{
			Scheme: "http",
			Host:   addr,
			Port:   srv.Port,
		})
	}

	if len(endpoints) == 0 {
		return nil, &ResolutionError{Service: service, Reason: "no SRV records found"}
	}

	return endpoints, nil
}

// interfaceIPv4 returns the first IPv4 address bound to the named
// network interface.
func interfaceIPv4(name string) (string, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return "", &ConfigurationError{
			Reason: fmt.Sprintf("unknown network interface %q", name),
			Err:    err,
		}
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return "", &ConfigurationError{
			Reason: fmt.Sprintf("failed to read addresses of interface %q", name),
			Err:    err,
		}
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}

	return "", &ConfigurationError{
		Reason: fmt.Sprintf("interface %q has no IPv4 address", name),
	}
}
