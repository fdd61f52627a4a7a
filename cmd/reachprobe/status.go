package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"

	"github.com/hazz-dev/reachprobe/internal/storage"
)

type statusStore interface {
	LatestTransition(ctx context.Context) (*storage.Transition, error)
	AllLatest(ctx context.Context) ([]storage.Check, error)
	UptimePercent(ctx context.Context, last int) (float64, error)
}

type statusReport struct {
	Reachable        bool            `json:"reachable"`
	LastChange       *time.Time      `json:"last_change"`
	LastConnected    *time.Time      `json:"last_connected"`
	LastDisconnected *time.Time      `json:"last_disconnected"`
	UptimePct        float64         `json:"uptime_percent"`
	Endpoints        []storage.Check `json:"endpoints"`
}

func executeStatus(cmd *cobra.Command, db statusStore, asJSON bool) error {
	out := cmd.OutOrStdout()
	ctx := context.Background()

	last, err := db.LatestTransition(ctx)
	if err != nil {
		return fmt.Errorf("querying state: %w", err)
	}
	checks, err := db.AllLatest(ctx)
	if err != nil {
		return fmt.Errorf("querying status: %w", err)
	}

	if last == nil && len(checks) == 0 && !asJSON {
		fmt.Fprintln(out, "No probe history. Run 'reachprobe serve' first.")
		return nil
	}

	uptime, err := db.UptimePercent(ctx, 100)
	if err != nil {
		return fmt.Errorf("querying uptime: %w", err)
	}

	if asJSON {
		return writeStatusJSON(out, last, checks, uptime)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if last == nil {
		fmt.Fprintln(w, "STATE\tconnected\t(no transitions recorded)")
	} else {
		st := last.State()
		state := "disconnected"
		if st.Reachable {
			state = "connected"
		}
		fmt.Fprintf(w, "STATE\t%s\tsince %s\n", state, humanize.Time(last.At))
		fmt.Fprintf(w, "LAST CONNECTED\t%s\t\n", when(st.LastConnected))
		fmt.Fprintf(w, "LAST DISCONNECTED\t%s\t\n", when(st.LastDisconnected))
	}
	fmt.Fprintf(w, "UPTIME\t%s%%\tlast 100 probes\n", humanize.FtoaWithDigits(uptime, 1))
	w.Flush()

	if len(checks) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "URL\tSTATUS\tRESPONSE\tLAST CHECKED\tERROR")
	for _, c := range checks {
		resp := "-"
		if c.ResponseMs > 0 {
			resp = (time.Duration(c.ResponseMs) * time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			c.Endpoint,
			c.Status,
			resp,
			humanize.Time(c.CheckedAt),
			c.Error,
		)
	}
	w.Flush()
	return nil
}

func writeStatusJSON(out io.Writer, last *storage.Transition, checks []storage.Check, uptime float64) error {
	report := statusReport{Reachable: true, UptimePct: uptime, Endpoints: checks}
	if report.Endpoints == nil {
		report.Endpoints = []storage.Check{}
	}
	if last != nil {
		st := last.State()
		report.Reachable = st.Reachable
		report.LastChange = optionalTime(last.At)
		report.LastConnected = optionalTime(st.LastConnected)
		report.LastDisconnected = optionalTime(st.LastDisconnected)
	}

	b, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	b = pretty.Pretty(b)
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		b = pretty.Color(b, nil)
	}
	_, err = out.Write(b)
	return err
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func when(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05") + " (" + humanize.Time(t) + ")"
}
