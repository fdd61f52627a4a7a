package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/hazz-dev/reachprobe/internal/checker"
	"github.com/hazz-dev/reachprobe/internal/config"
	"github.com/hazz-dev/reachprobe/internal/prober"
)

var errUnreachable = errors.New("network unreachable")

// runChecks prints one row per endpoint, then runs a full probe for the verdict.
func runChecks(ctx context.Context, out io.Writer, cfg config.ProbeConfig, logger *slog.Logger) error {
	results := make([]checker.CheckResult, len(cfg.URLs))
	var wg sync.WaitGroup

	for i, endpoint := range cfg.URLs {
		wg.Add(1)
		go func(i int, endpoint string) {
			defer wg.Done()
			results[i] = checkOne(ctx, endpoint, cfg.RequestTimeout.Duration)
		}(i, endpoint)
	}
	wg.Wait()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tURL\tSTATUS\tRESPONSE\tERROR")
	for i, r := range results {
		resp := "-"
		if r.ResponseTime > 0 {
			resp = r.ResponseTime.Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, r.Endpoint, r.Status, resp, r.Error)
	}
	w.Flush()

	p := prober.New(cfg, prober.Options{Logger: logger})
	reachable := p.ProbeOnce(ctx)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("probe interrupted: %w", err)
	}
	if !reachable {
		fmt.Fprintf(out, "\nnetwork unreachable after %d round(s)\n", cfg.RetryCount)
		return errUnreachable
	}
	fmt.Fprintln(out, "\nnetwork reachable")
	return nil
}

func checkOne(ctx context.Context, endpoint string, timeout time.Duration) checker.CheckResult {
	c, err := checker.New(endpoint, timeout)
	if err != nil {
		return checker.CheckResult{
			Endpoint:  endpoint,
			Status:    checker.StatusDown,
			Error:     fmt.Sprintf("creating checker: %v", err),
			CheckedAt: time.Now(),
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	r := c.Check(ctx)
	if r.Endpoint == "" {
		r.Endpoint = endpoint
	}
	return r
}
