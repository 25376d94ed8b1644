package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	xproxy "golang.org/x/net/proxy"

	"github.com/rsclarke/swapgate/internal/resolver"
)

// DialFunc opens a raw connection to addr.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// DialerConfig selects how upstream connections are made.
type DialerConfig struct {
	// Resolver, when set, resolves upstream host names instead of the
	// system resolver.
	Resolver *resolver.Resolver
	// ProxyURL, when set, routes upstream connections through a SOCKS5
	// proxy, e.g. socks5://127.0.0.1:1080.
	ProxyURL string
	Timeout  time.Duration
}

// NewDialer builds the DialFunc used for tunnels and upstream requests.
func NewDialer(cfg DialerConfig) (DialFunc, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	direct := &net.Dialer{Timeout: cfg.Timeout, KeepAlive: 30 * time.Second}

	var forward xproxy.ContextDialer = direct
	if cfg.ProxyURL != "" {
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse upstream proxy: %w", err)
		}
		d, err := xproxy.FromURL(u, direct)
		if err != nil {
			return nil, fmt.Errorf("upstream proxy: %w", err)
		}
		cd, ok := d.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("upstream proxy %s does not support contexts", u.Scheme)
		}
		forward = cd
	}

	if cfg.Resolver == nil {
		return forward.DialContext, nil
	}
	if cfg.ProxyURL == "" {
		return cfg.Resolver.DialContext, nil
	}
	r := cfg.Resolver
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		addrs, err := r.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		conn, err := dialEach(ctx, forward, network, addrs, port)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", host, err)
		}
		return conn, nil
	}, nil
}

// dialEach dials the resolved addresses in order and returns the first
// connection that succeeds.
func dialEach(ctx context.Context, d xproxy.ContextDialer, network string, addrs []string, port string) (net.Conn, error) {
	if len(addrs) == 0 {
		return nil, errors.New("no addresses")
	}
	var errs []error
	for _, a := range addrs {
		conn, err := d.DialContext(ctx, network, net.JoinHostPort(a, port))
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}
