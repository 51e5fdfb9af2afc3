// Package resolver looks up the address of a scan target. It runs beside a scan,
// never inside the phase loop.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"

	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/config"
	"github.com/CodeMonkeyCybersecurity/scanrelay/internal/logger"
)

const fallbackNameserver = "1.1.1.1:53"

var ErrNoRecords = errors.New("could not resolve domain")

// Result holds every address found for Domain. IP is the preferred address,
// IPv4 when one exists.
type Result struct {
	Domain string   `json:"domain"`
	IP     string   `json:"ip"`
	IPs    []string `json:"ips"`
}

type Resolver struct {
	client     *dns.Client
	nameserver string
	logger     *logger.Logger
}

func New(cfg config.ResolverConfig, log *logger.Logger) *Resolver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}

	ns := cfg.Nameserver
	if ns == "" {
		ns = systemNameserver()
	}
	if _, _, err := net.SplitHostPort(ns); err != nil {
		ns = net.JoinHostPort(ns, "53")
	}

	return &Resolver{
		client:     &dns.Client{Timeout: timeout},
		nameserver: ns,
		logger:     log.WithComponent("resolver"),
	}
}

func systemNameserver() string {
	cc, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cc.Servers) == 0 {
		return fallbackNameserver
	}
	return net.JoinHostPort(cc.Servers[0], cc.Port)
}

// CleanHost reduces a URL or host:port to the bare host name.
func CleanHost(input string) string {
	h := strings.TrimSpace(input)
	lower := strings.ToLower(h)
	for _, scheme := range []string{"https://", "http://"} {
		if strings.HasPrefix(lower, scheme) {
			h = h[len(scheme):]
			break
		}
	}
	if i := strings.IndexAny(h, "/?#"); i >= 0 {
		h = h[:i]
	}
	if strings.HasPrefix(h, "[") {
		if end := strings.Index(h, "]"); end > 0 {
			return h[1:end]
		}
	}
	if host, _, err := net.SplitHostPort(h); err == nil {
		return host
	}
	if strings.Count(h, ":") == 1 {
		h = h[:strings.Index(h, ":")]
	}
	return strings.TrimSuffix(h, ".")
}

// Lookup resolves the host part of target, querying A and AAAA in parallel.
func (r *Resolver) Lookup(ctx context.Context, target string) (*Result, error) {
	host := CleanHost(target)
	if host == "" {
		return nil, fmt.Errorf("empty host in %q", target)
	}

	if ip := net.ParseIP(host); ip != nil {
		return &Result{Domain: host, IP: ip.String(), IPs: []string{ip.String()}}, nil
	}

	start := time.Now()

	var (
		mu   sync.Mutex
		ipv4 []string
		ipv6 []string
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		qtype := qtype
		g.Go(func() error {
			addrs, err := r.query(gctx, host, qtype)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if qtype == dns.TypeA {
				ipv4 = addrs
			} else {
				ipv6 = addrs
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		r.logger.LogError(ctx, err, "resolver.Lookup", "host", host)
		return nil, fmt.Errorf("dns lookup for %s: %w", host, err)
	}

	ips := append(ipv4, ipv6...)
	r.logger.LogDuration(ctx, "resolver.Lookup", start,
		"host", host,
		"addresses", len(ips),
	)
	if len(ips) == 0 {
		return nil, ErrNoRecords
	}

	return &Result{Domain: host, IP: ips[0], IPs: ips}, nil
}

func (r *Resolver) query(ctx context.Context, host string, qtype uint16) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, m, r.nameserver)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", dns.TypeToString[qtype], err)
	}
	if resp.Rcode == dns.RcodeNameError {
		return nil, nil
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%s query: %s", dns.TypeToString[qtype], dns.RcodeToString[resp.Rcode])
	}

	var addrs []string
	for _, ans := range resp.Answer {
		switch v := ans.(type) {
		case *dns.A:
			addrs = append(addrs, v.A.String())
		case *dns.AAAA:
			addrs = append(addrs, v.AAAA.String())
		}
	}
	return addrs, nil
}
