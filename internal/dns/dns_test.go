package dns

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func static(ips ...string) LookupFunc {
	return func(context.Context, string) ([]string, error) { return ips, nil }
}

func failing(err error) LookupFunc {
	return func(context.Context, string) ([]string, error) { return nil, err }
}

func TestLookupPrefersSystem(t *testing.T) {
	r := &Resolver{
		System: static("2001:db8::1", "192.0.2.10"),
		Remote: func(string) LookupFunc {
			t.Fatal("public servers queried although the system resolver answered")
			return nil
		},
	}
	ip, err := r.Lookup(context.Background(), "party.example")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10", ip)
}

func TestLookupIPLiteral(t *testing.T) {
	r := &Resolver{System: failing(errors.New("unused"))}
	ip, err := r.Lookup(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ip)
}

func TestLookupFallsBackToPublic(t *testing.T) {
	r := &Resolver{
		System:  failing(errors.New("no such host")),
		Servers: []string{"a", "b", "c"},
		Remote: func(server string) LookupFunc {
			if server == "b" {
				return static("2001:db8::7")
			}
			return failing(errors.New("refused"))
		},
	}
	ip, err := r.Lookup(context.Background(), "party.example")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::7", ip)
}

func TestLookupAllPublicFail(t *testing.T) {
	r := &Resolver{
		System:  static(),
		Servers: []string{"a", "b"},
		Remote:  func(string) LookupFunc { return failing(errors.New("refused")) },
	}
	_, err := r.Lookup(context.Background(), "party.example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 public DNS servers failed")
}

func TestLookupPublicTimeout(t *testing.T) {
	r := &Resolver{
		System:        failing(errors.New("no such host")),
		Servers:       []string{"slow"},
		RemoteTimeout: 20 * time.Millisecond,
		Remote: func(string) LookupFunc {
			return func(ctx context.Context, _ string) ([]string, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}
		},
	}
	_, err := r.Lookup(context.Background(), "party.example")
	assert.Error(t, err)
}

func TestDialContextUsesLookup(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		if c, err := ln.Accept(); err == nil {
			c.Close()
		}
	}()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	r := &Resolver{System: static("127.0.0.1")}
	conn, err := r.DialContext(context.Background(), "tcp", net.JoinHostPort("party.example", port))
	require.NoError(t, err)
	conn.Close()
}

func TestTrimBrackets(t *testing.T) {
	assert.Equal(t, "2606:4700:4700::1111", trimBrackets("[2606:4700:4700::1111]"))
	assert.Equal(t, "1.1.1.1", trimBrackets("1.1.1.1"))
}
