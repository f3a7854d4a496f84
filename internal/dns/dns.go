// Package dns resolves the signaling server's host, falling back to public
// resolvers when the system resolver is broken. Captive or misconfigured
// networks at party venues are common enough to warrant it.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// PublicServers are queried in parallel when the system lookup fails.
var PublicServers = []string{
	"1.1.1.1",                // Cloudflare
	"1.0.0.1",                // Cloudflare
	"[2606:4700:4700::1111]", // Cloudflare
	"8.8.8.8",                // Google
	"8.8.4.4",                // Google
	"[2001:4860:4860::8888]", // Google
	"9.9.9.9",                // Quad9
	"149.112.112.112",        // Quad9
	"208.67.222.222",         // Cisco OpenDNS
}

var ErrNoAddress = errors.New("no addresses found")

// LookupFunc resolves host through one resolver.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

type Resolver struct {
	// System is tried first. Nil means net.DefaultResolver.
	System LookupFunc
	// Remote builds a lookup bound to one public server. Nil means plain DNS
	// over port 53.
	Remote func(server string) LookupFunc

	Servers       []string
	SystemTimeout time.Duration
	RemoteTimeout time.Duration
}

// Default is the resolver used by Lookup and DialContext.
var Default = &Resolver{}

func Lookup(ctx context.Context, host string) (string, error) {
	return Default.Lookup(ctx, host)
}

func DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return Default.DialContext(ctx, network, addr)
}

// Lookup resolves host to a single address, preferring IPv4. IP literals are
// returned unchanged.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	sctx, cancel := context.WithTimeout(ctx, r.systemTimeout())
	ips, err := r.system()(sctx, host)
	cancel()
	if err == nil {
		if ip, perr := pick(ips); perr == nil {
			return ip, nil
		}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return r.race(ctx, host)
}

// DialContext resolves the host part of addr with Lookup and dials the result.
// It fits websocket.Dialer.NetDialContext.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ip, err := r.Lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

// race asks every public server at once and takes the first answer.
func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	servers := r.Servers
	if servers == nil {
		servers = PublicServers
	}
	if len(servers) == 0 {
		return "", fmt.Errorf("resolve %s: %w", host, ErrNoAddress)
	}

	type result struct {
		ip  string
		err error
	}
	ctx, cancel := context.WithTimeout(ctx, r.remoteTimeout())
	defer cancel()

	results := make(chan result, len(servers))
	for _, server := range servers {
		go func() {
			ips, err := r.remote(server)(ctx, host)
			if err != nil {
				results <- result{err: err}
				return
			}
			ip, err := pick(ips)
			results <- result{ip: ip, err: err}
		}()
	}

	var failed int
	for range servers {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
			failed++
		case <-ctx.Done():
			return "", fmt.Errorf("resolve %s: public DNS race: %w", host, ctx.Err())
		}
	}
	return "", fmt.Errorf("resolve %s: all %d public DNS servers failed", host, failed)
}

func (r *Resolver) system() LookupFunc {
	if r.System != nil {
		return r.System
	}
	return net.DefaultResolver.LookupHost
}

func (r *Resolver) remote(server string) LookupFunc {
	if r.Remote != nil {
		return r.Remote(server)
	}
	res := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(trimBrackets(server), "53"))
		},
	}
	return res.LookupHost
}

func (r *Resolver) systemTimeout() time.Duration {
	if r.SystemTimeout > 0 {
		return r.SystemTimeout
	}
	return time.Second
}

func (r *Resolver) remoteTimeout() time.Duration {
	if r.RemoteTimeout > 0 {
		return r.RemoteTimeout
	}
	return 2 * time.Second
}

// pick prefers an IPv4 address.
func pick(ips []string) (string, error) {
	if len(ips) == 0 {
		return "", ErrNoAddress
	}
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}

func trimBrackets(s string) string {
	if len(s) > 1 && s[0] == '[' && s[len(s)-1] == ']' {
		return s[1 : len(s)-1]
	}
	return s
}
