package resolver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/config"
)

// startDNS serves a fixed zone on a random local UDP port.
func startDNS(t *testing.T) string {
	t.Helper()

	zone := map[string][]dns.RR{}
	add := func(rr string) {
		r, err := dns.NewRR(rr)
		require.NoError(t, err)
		name := r.Header().Name
		zone[name] = append(zone[name], r)
	}
	add("example.test. 60 IN A 192.0.2.10")
	add("example.test. 60 IN AAAA 2001:db8::10")
	add("v6only.test. 60 IN AAAA 2001:db8::20")

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	server := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(req)
			q := req.Question[0]
			records, ok := zone[q.Name]
			if !ok {
				m.Rcode = dns.RcodeNameError
			}
			for _, rr := range records {
				if rr.Header().Rrtype == q.Qtype {
					m.Answer = append(m.Answer, rr)
				}
			}
			_ = w.WriteMsg(m)
		}),
	}
	go func() { _ = server.ActivateAndServe() }()
	t.Cleanup(func() { _ = server.Shutdown() })

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("dns server did not start")
	}
	return pc.LocalAddr().String()
}

func TestLookup(t *testing.T) {
	r := New(config.ResolverConfig{Nameserver: startDNS(t), Timeout: 2 * time.Second}, nil)

	tests := []struct {
		name   string
		target string
		wantIP string
		wantN  int
	}{
		{name: "bare host", target: "example.test", wantIP: "192.0.2.10", wantN: 2},
		{name: "url with path and port", target: "https://example.test:8443/login?next=/", wantIP: "192.0.2.10", wantN: 2},
		{name: "ipv6 only", target: "v6only.test", wantIP: "2001:db8::20", wantN: 1},
		{name: "ip literal", target: "http://203.0.113.5/", wantIP: "203.0.113.5", wantN: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Lookup(context.Background(), tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.wantIP, res.IP)
			assert.Len(t, res.IPs, tt.wantN)
		})
	}
}

func TestLookupNoRecords(t *testing.T) {
	r := New(config.ResolverConfig{Nameserver: startDNS(t), Timeout: 2 * time.Second}, nil)

	_, err := r.Lookup(context.Background(), "missing.test")
	assert.True(t, errors.Is(err, ErrNoRecords))
}

func TestLookupEmptyHost(t *testing.T) {
	r := New(config.ResolverConfig{Nameserver: "127.0.0.1:53"}, nil)

	_, err := r.Lookup(context.Background(), "https:///path")
	assert.Error(t, err)
}

func TestNewAddsDefaultPort(t *testing.T) {
	r := New(config.ResolverConfig{Nameserver: "9.9.9.9"}, nil)
	assert.Equal(t, "9.9.9.9:53", r.nameserver)
}

func TestCleanHost(t *testing.T) {
	tests := map[string]string{
		"example.com":                     "example.com",
		"  example.com  ":                 "example.com",
		"https://example.com/path":        "example.com",
		"HTTP://Example.com:8080/a?b=c":   "Example.com",
		"example.com:443":                 "example.com",
		"http://[2001:db8::1]:8080/index": "2001:db8::1",
		"example.com.":                    "example.com",
		"sub.example.com#frag":            "sub.example.com",
	}

	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, CleanHost(in))
		})
	}
}
