package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/reachprobe/internal/prober"
)

func urlsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "urls",
		Short: "List or edit the probed endpoints",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print endpoints in probe order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := cliProber(cmd)
			if err != nil {
				return err
			}
			listURLs(cmd.OutOrStdout(), p)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add URL",
		Short: "Append an endpoint and persist the change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := cliProber(cmd)
			if err != nil {
				return err
			}
			return addURL(cmd.OutOrStdout(), p, args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove URL",
		Short: "Remove an endpoint and persist the change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := cliProber(cmd)
			if err != nil {
				return err
			}
			return removeURL(cmd.OutOrStdout(), p, args[0])
		},
	})
	return cmd
}

// cliProber builds a prober whose setters write to the configured settings file.
func cliProber(cmd *cobra.Command) (*prober.Prober, error) {
	logger := cliLogger(cmd.ErrOrStderr())
	cfg, settings, err := loadConfig(logger)
	if err != nil {
		return nil, err
	}
	return prober.New(cfg.Probe, prober.Options{Settings: settings, Logger: logger}), nil
}

func listURLs(out io.Writer, p *prober.Prober) {
	for i, u := range p.Config().URLs {
		fmt.Fprintf(out, "%d\t%s\n", i+1, u)
	}
}

func addURL(out io.Writer, p *prober.Prober, endpoint string) error {
	if err := p.AddURL(endpoint); err != nil {
		return fmt.Errorf("adding %s: %w", endpoint, err)
	}
	listURLs(out, p)
	return nil
}

func removeURL(out io.Writer, p *prober.Prober, endpoint string) error {
	if !p.RemoveURL(endpoint) {
		return fmt.Errorf("%s is not configured", endpoint)
	}
	listURLs(out, p)
	return nil
}
