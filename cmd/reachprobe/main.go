package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/reachprobe/internal/alert"
	"github.com/hazz-dev/reachprobe/internal/config"
	"github.com/hazz-dev/reachprobe/internal/dashboard"
	"github.com/hazz-dev/reachprobe/internal/logging"
	"github.com/hazz-dev/reachprobe/internal/prober"
	"github.com/hazz-dev/reachprobe/internal/scheduler"
	"github.com/hazz-dev/reachprobe/internal/server"
	"github.com/hazz-dev/reachprobe/internal/storage"
	"github.com/hazz-dev/reachprobe/internal/version"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "reachprobe",
		Short:        "Network reachability prober",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "config.yml", "config file path (.yml or .toml)")

	root.AddCommand(versionCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(urlsCmd())

	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "reachprobe %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

// loadConfig reads the config file and overlays the persisted runtime settings.
func loadConfig(logger *slog.Logger) (*config.Config, *config.SettingsFile, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	settings := config.NewSettingsFile(cfg.Settings.Path)
	applied, err := settings.Overlay(cfg)
	if err != nil {
		// A broken settings file must not keep the prober from starting.
		logger.Warn("ignoring settings file", "path", settings.Path(), "error", err)
	} else if applied {
		logger.Info("settings restored", "path", settings.Path())
	}
	return cfg, settings, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the prober, API, and dashboard",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// 1. Load config
	cfg, settings, err := loadConfig(slog.Default())
	if err != nil {
		return err
	}

	// 2. Logging
	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)
	logger.Info("config loaded", "urls", len(cfg.Probe.URLs), "interval", cfg.Probe.CheckInterval)

	// 3. Open SQLite
	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	// 4. Build prober, restoring the last known state
	opts := prober.Options{Settings: settings, Logger: logger}
	last, err := db.LatestTransition(context.Background())
	if err != nil {
		logger.Warn("restoring state", "error", err)
	} else if last != nil {
		st := last.State()
		opts.Initial = &st
	}
	p := prober.New(cfg.Probe, opts)

	recorder := storage.NewRecorder(db, logger)
	detach := recorder.Attach(p)
	defer detach()

	// 5. Alerts (if configured)
	alerter := buildAlerter(cfg.Alerts, logger)
	if alerter != nil {
		unsubscribe := p.Subscribe(alerter.Notify)
		defer unsubscribe()
	}

	// 6. Scheduler and API server
	sched := scheduler.New(p, logger)
	apiServer := server.New(db, p, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer.Router())
	mux.Handle("/", dashboard.Handler())

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 7. Signal context for graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	sched.Start(ctx)
	logger.Info("scheduler started", "interval", p.CheckInterval())

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.Server.Address)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		stop()
		sched.Wait()
		return fmt.Errorf("HTTP server: %w", err)
	}

	// 8. Graceful shutdown
	sched.Wait()
	apiServer.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", "error", err)
	}
	if alerter != nil {
		alerter.Stop()
		alerter.Wait()
	}

	logger.Info("shutdown complete")
	return nil
}

// buildAlerter returns nil when no alert sink is configured. A Telegram bot
// that fails to authorize is logged and skipped.
func buildAlerter(cfg config.AlertsConfig, logger *slog.Logger) *alert.Alerter {
	var senders []alert.Sender
	if cfg.Webhook.URL != "" {
		senders = append(senders, alert.NewWebhook(cfg.Webhook.URL))
	}
	if cfg.Telegram.Enabled() {
		tg, err := alert.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			logger.Error("telegram alerts disabled", "error", err)
		} else {
			senders = append(senders, tg)
		}
	}
	if len(senders) == 0 {
		return nil
	}
	return alert.NewWithSenders(cfg.Webhook.Cooldown.Duration, logger, senders...)
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check every endpoint once and report overall reachability",
		RunE:  runCheck,
	}
}

func runCheck(cmd *cobra.Command, _ []string) error {
	logger := slog.New(logging.NewHandler(cmd.ErrOrStderr(), "text", slog.LevelError))
	cfg, _, err := loadConfig(logger)
	if err != nil {
		return err
	}
	return runChecks(cmd.Context(), cmd.OutOrStdout(), cfg.Probe, logger)
}

var statusJSON bool

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the last recorded reachability from the database",
		RunE:  runStatus,
	}
	cmd.Flags().BoolVar(&statusJSON, "json", false, "print the status as JSON")
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	return executeStatus(cmd, db, statusJSON)
}

// cliLogger reports setter persistence failures on stderr.
func cliLogger(w io.Writer) *slog.Logger {
	return slog.New(logging.NewHandler(w, "text", slog.LevelWarn))
}
