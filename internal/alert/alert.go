package alert

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hazz-dev/reachprobe/internal/prober"
)

// Sender delivers one transition to an external channel.
type Sender interface {
	Name() string
	Send(ev prober.Event) error
}

// Alerter fans connectivity transitions out to its senders, at most once per cooldown.
// A transition suppressed by the cooldown is held and sent once the cooldown
// expires, unless the state has returned to the last alerted kind by then.
type Alerter struct {
	senders   []Sender
	cooldown  time.Duration
	lastAlert time.Time
	lastKind  prober.EventKind
	pending   *prober.Event
	timer     *time.Timer
	mu        sync.Mutex
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// New creates an Alerter that posts to a webhook. Pass nil logger to use the default logger.
func New(webhookURL string, cooldown time.Duration, logger *slog.Logger) *Alerter {
	return NewWithSenders(cooldown, logger, NewWebhook(webhookURL))
}

// NewWithSenders creates an Alerter for an arbitrary set of senders.
func NewWithSenders(cooldown time.Duration, logger *slog.Logger, senders ...Sender) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Alerter{
		senders:  senders,
		cooldown: cooldown,
		logger:   logger,
	}
}

// Notify sends ev unless the cooldown since the last alert has not elapsed,
// in which case ev is deferred to the end of the cooldown.
// It has the signature of a prober subscriber.
func (a *Alerter) Notify(ev prober.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if remaining := a.cooldownLeft(); remaining > 0 {
		a.pending = &ev
		if a.timer == nil {
			a.timer = time.AfterFunc(remaining, a.flush)
		}
		a.logger.Info("alert deferred by cooldown", "event", ev.Kind, "remaining", remaining)
		return
	}
	a.dispatchLocked(ev)
}

func (a *Alerter) cooldownLeft() time.Duration {
	if a.lastAlert.IsZero() {
		return 0
	}
	return a.cooldown - time.Since(a.lastAlert)
}

func (a *Alerter) flush() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.timer = nil
	ev := a.pending
	a.pending = nil
	if ev == nil {
		return
	}
	if ev.Kind == a.lastKind {
		a.logger.Info("deferred alert dropped, state matches last alert", "event", ev.Kind)
		return
	}
	a.dispatchLocked(*ev)
}

// dispatchLocked must be called with a.mu held so wg.Add happens before Wait.
func (a *Alerter) dispatchLocked(ev prober.Event) {
	a.lastAlert = time.Now()
	a.lastKind = ev.Kind
	a.pending = nil

	// Send asynchronously so Notify doesn't block the probe.
	for _, s := range a.senders {
		a.wg.Add(1)
		go func(s Sender) {
			defer a.wg.Done()
			if err := s.Send(ev); err != nil {
				a.logger.Error("sending alert", "sender", s.Name(), "event", ev.Kind, "error", err)
			}
		}(s)
	}
}

// Wait blocks until in-flight alerts have finished. A deferred alert still
// waiting on its cooldown is not sent; call Stop to discard it.
func (a *Alerter) Wait() {
	a.wg.Wait()
}

// Stop discards any deferred alert.
func (a *Alerter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.pending = nil
}

func previous(kind prober.EventKind) prober.EventKind {
	if kind == prober.EventConnected {
		return prober.EventDisconnected
	}
	return prober.EventConnected
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
