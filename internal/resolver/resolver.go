// Package resolver resolves upstream host names through an explicit DNS
// server instead of the system resolver, so local hosts-file overrides
// pointing the intercepted host at the proxy itself are bypassed.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/rsclarke/swapgate/internal/logging"
)

// ErrNoAddress is returned when a name resolves to no usable address.
var ErrNoAddress = errors.New("no address for host")

// Resolver queries a single DNS server for A and AAAA records.
type Resolver struct {
	Server string
	Client *dns.Client
	Dialer *net.Dialer
	Logger *zap.Logger
}

// New returns a Resolver for server. A missing port defaults to 53.
func New(server string, logger *zap.Logger) *Resolver {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(strings.Trim(server, "[]"), "53")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		Server: server,
		Client: &dns.Client{Timeout: 5 * time.Second},
		Dialer: &net.Dialer{Timeout: 10 * time.Second},
		Logger: logger,
	}
}

// LookupHost returns the IPv4 addresses of host followed by its IPv6
// addresses. IP literals are returned unchanged.
func (r *Resolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []string{host}, nil
	}

	var addrs []string
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		found, err := r.query(ctx, host, qtype)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, found...)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAddress, host)
	}
	r.Logger.Debug("resolved upstream", logging.Host(host), zap.Strings("addrs", addrs))
	return addrs, nil
}

func (r *Resolver) query(ctx context.Context, host string, qtype uint16) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	resp, _, err := r.Client.ExchangeContext(ctx, m, r.Server)
	if err == nil && resp.Truncated {
		tcp := &dns.Client{Net: "tcp", Timeout: r.Client.Timeout}
		resp, _, err = tcp.ExchangeContext(ctx, m, r.Server)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s %s: %w", dns.TypeToString[qtype], host, err)
	}
	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, fmt.Errorf("%w: %s (NXDOMAIN)", ErrNoAddress, host)
	default:
		return nil, fmt.Errorf("query %s %s: %s", dns.TypeToString[qtype], host, dns.RcodeToString[resp.Rcode])
	}

	var addrs []string
	for _, rr := range resp.Answer {
		switch v := rr.(type) {
		case *dns.A:
			addrs = append(addrs, v.A.String())
		case *dns.AAAA:
			addrs = append(addrs, v.AAAA.String())
		}
	}
	return addrs, nil
}

// DialContext resolves the host in addr and dials each address in turn
// until one connects.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	addrs, err := r.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, a := range addrs {
		conn, err := r.Dialer.DialContext(ctx, network, net.JoinHostPort(a, port))
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("dial %s: %w", addr, errors.Join(errs...))
}
