package checker

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Checker performs a single reachability check against one endpoint.
type Checker interface {
	Check(ctx context.Context) CheckResult
}

// New returns the appropriate Checker for endpoint, chosen by URL scheme.
// timeout bounds each call to Check.
func New(endpoint string, timeout time.Duration) (Checker, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("endpoint %q: host is required", endpoint)
	}
	switch u.Scheme {
	case "http", "https":
		return newHTTPChecker(endpoint, timeout), nil
	case "tcp":
		return newTCPChecker(endpoint, u, timeout)
	case "icmp":
		return newPingChecker(endpoint, u.Hostname(), timeout), nil
	case "dns":
		return newDNSChecker(endpoint, u, timeout)
	default:
		return nil, fmt.Errorf("unknown endpoint scheme %q", u.Scheme)
	}
}

func down(r CheckResult, start time.Time, format string, args ...any) CheckResult {
	r.Status = StatusDown
	r.Error = fmt.Sprintf(format, args...)
	r.ResponseTime = time.Since(start)
	return r
}
