package checker

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Exchanger is the subset of *dns.Client used by the dns checker.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

type dnsChecker struct {
	endpoint string
	resolver string
	query    string
	client   Exchanger
}

// dns://resolver[:port]/name queries resolver for the A record of name.
// Without a path the resolver is asked for the root NS set.
func newDNSChecker(endpoint string, u *url.URL, timeout time.Duration) (*dnsChecker, error) {
	return newDNSCheckerWithClient(endpoint, u, &dns.Client{Timeout: timeout})
}

// NewDNSCheckerWithClient creates a dns checker with a custom exchanger (for testing).
func NewDNSCheckerWithClient(endpoint string, client Exchanger) (Checker, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint %q: %w", endpoint, err)
	}
	return newDNSCheckerWithClient(endpoint, u, client)
}

func newDNSCheckerWithClient(endpoint string, u *url.URL, client Exchanger) (*dnsChecker, error) {
	resolver := u.Host
	if u.Port() == "" {
		resolver = net.JoinHostPort(u.Hostname(), "53")
	}
	query := strings.Trim(u.Path, "/")
	if query == "" {
		query = "."
	}
	return &dnsChecker{
		endpoint: endpoint,
		resolver: resolver,
		query:    dns.Fqdn(query),
		client:   client,
	}, nil
}

func (c *dnsChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Endpoint:  c.endpoint,
		CheckedAt: start,
	}

	qtype := dns.TypeA
	if c.query == "." {
		qtype = dns.TypeNS
	}
	msg := new(dns.Msg)
	msg.SetQuestion(c.query, qtype)

	resp, rtt, err := c.client.ExchangeContext(ctx, msg, c.resolver)
	if err != nil {
		return down(result, start, "dns query %s via %s: %v", c.query, c.resolver, err)
	}
	if resp.Rcode == dns.RcodeServerFailure || resp.Rcode == dns.RcodeRefused {
		return down(result, start, "dns query %s via %s: %s", c.query, c.resolver, dns.RcodeToString[resp.Rcode])
	}

	// Any answer, including NXDOMAIN, proves the resolver is reachable.
	result.ResponseTime = rtt
	result.Status = StatusUp
	return result
}
