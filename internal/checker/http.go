package checker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

type httpChecker struct {
	endpoint string
	client   *http.Client
}

func newHTTPChecker(endpoint string, timeout time.Duration) *httpChecker {
	return &httpChecker{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Check issues a GET. Connection errors and non-2xx statuses both count as down.
func (c *httpChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Endpoint:  c.endpoint,
		CheckedAt: start,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return down(result, start, "creating request: %v", err)
	}
	req.Header.Set("User-Agent", "reachprobe")

	resp, err := c.client.Do(req)
	result.ResponseTime = time.Since(start)
	if err != nil {
		result.Status = StatusDown
		result.Error = err.Error()
		return result
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Status = StatusDown
		result.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return result
	}

	result.Status = StatusUp
	return result
}
