package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazz-dev/reachprobe/internal/checker"
	"github.com/hazz-dev/reachprobe/internal/prober"
)

// Writer is the subset of DB the Recorder writes through.
type Writer interface {
	InsertCheck(ctx context.Context, r checker.CheckResult) error
	InsertProbe(ctx context.Context, run prober.Run) error
	InsertTransition(ctx context.Context, ev prober.Event) error
}

const writeTimeout = 5 * time.Second

// Recorder adapts prober hooks to database writes. Write failures are logged
// and never reach the prober.
type Recorder struct {
	w      Writer
	logger *slog.Logger
}

// NewRecorder creates a Recorder. Pass nil logger to use the default logger.
func NewRecorder(w Writer, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{w: w, logger: logger}
}

// Attach registers the recorder on every prober hook.
func (r *Recorder) Attach(p *prober.Prober) (detach func()) {
	p.SetOnCheck(r.OnCheck)
	p.SetOnProbe(r.OnProbe)
	return p.Subscribe(r.OnTransition)
}

func (r *Recorder) OnCheck(res checker.CheckResult) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.w.InsertCheck(ctx, res); err != nil {
		r.logger.Error("storing check result", "url", res.Endpoint, "error", err)
	}
}

func (r *Recorder) OnProbe(run prober.Run) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.w.InsertProbe(ctx, run); err != nil {
		r.logger.Error("storing probe run", "probe_id", run.ID, "error", err)
	}
}

func (r *Recorder) OnTransition(ev prober.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.w.InsertTransition(ctx, ev); err != nil {
		r.logger.Error("storing transition", "kind", ev.Kind, "error", err)
	}
}
