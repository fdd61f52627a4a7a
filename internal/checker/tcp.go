package checker

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"
)

type tcpChecker struct {
	endpoint string
	address  string
	timeout  time.Duration
}

func newTCPChecker(endpoint string, u *url.URL, timeout time.Duration) (*tcpChecker, error) {
	if u.Port() == "" {
		return nil, fmt.Errorf("endpoint %q: tcp endpoints need a port", endpoint)
	}
	return &tcpChecker{endpoint: endpoint, address: u.Host, timeout: timeout}, nil
}

func (c *tcpChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Endpoint:  c.endpoint,
		CheckedAt: start,
	}

	dialer := &net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	result.ResponseTime = time.Since(start)
	if err != nil {
		result.Status = StatusDown
		result.Error = fmt.Sprintf("dial tcp %s: %v", c.address, err)
		return result
	}
	conn.Close()
	result.Status = StatusUp
	return result
}
