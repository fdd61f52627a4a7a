package checker

import (
	"context"
	"math"
	"regexp"
	"runtime"
	"strconv"
	"time"
)

// CommandExecutor abstracts os/exec for testability.
type CommandExecutor interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type pingChecker struct {
	endpoint string
	host     string
	timeout  time.Duration
	executor CommandExecutor
}

func newPingChecker(endpoint, host string, timeout time.Duration) *pingChecker {
	return &pingChecker{endpoint: endpoint, host: host, timeout: timeout, executor: &osExecutor{}}
}

// NewPingCheckerWithExecutor creates an icmp checker with a custom executor (for testing).
func NewPingCheckerWithExecutor(endpoint, host string, timeout time.Duration, exec CommandExecutor) Checker {
	return &pingChecker{endpoint: endpoint, host: host, timeout: timeout, executor: exec}
}

var rttRegex = regexp.MustCompile(`time[=<](\d+\.?\d*)\s*ms`)

func (c *pingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Endpoint:  c.endpoint,
		CheckedAt: start,
	}

	// ping only takes whole seconds.
	timeoutSec := max(int(math.Ceil(c.timeout.Seconds())), 1)

	var args []string
	if runtime.GOOS == "darwin" {
		args = []string{"-c", "1", "-t", strconv.Itoa(timeoutSec), c.host}
	} else {
		args = []string{"-c", "1", "-W", strconv.Itoa(timeoutSec), c.host}
	}

	stdout, _, err := c.executor.Run(ctx, "ping", args...)
	if err != nil {
		return down(result, start, "ping %s: %v", c.host, err)
	}

	matches := rttRegex.FindSubmatch(stdout)
	if matches == nil {
		return down(result, start, "could not parse RTT from ping output")
	}

	ms, _ := strconv.ParseFloat(string(matches[1]), 64)
	result.ResponseTime = time.Duration(ms * float64(time.Millisecond))
	result.Status = StatusUp
	return result
}
