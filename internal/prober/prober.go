// Package prober decides whether the network is reachable by probing an
// ordered list of endpoints, and notifies subscribers on every transition.
package prober

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hazz-dev/reachprobe/internal/checker"
	"github.com/hazz-dev/reachprobe/internal/config"
)

// EventKind names the direction of a transition.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
)

// State is the connectivity state owned by a Prober.
type State struct {
	Reachable        bool      `json:"reachable"`
	LastConnected    time.Time `json:"last_connected"`
	LastDisconnected time.Time `json:"last_disconnected"`
}

// Event is delivered to subscribers once per transition.
type Event struct {
	Kind  EventKind `json:"kind"`
	At    time.Time `json:"at"`
	State State     `json:"state"`
}

// Run summarises one ProbeOnce call.
type Run struct {
	ID        uuid.UUID
	Reachable bool
	Rounds    int
	StartedAt time.Time
	Duration  time.Duration
}

// SettingsStore persists probe configuration after each runtime change.
type SettingsStore interface {
	Save(cfg config.ProbeConfig) error
}

// CheckerFactory creates a Checker for one endpoint.
type CheckerFactory func(endpoint string, timeout time.Duration) (checker.Checker, error)

// Options tune a Prober. The zero value is usable.
type Options struct {
	Factory  CheckerFactory
	Settings SettingsStore
	Logger   *slog.Logger
	// Sleep waits between rounds. It must return early with ctx.Err() when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
	// Initial seeds the state; nil means reachable with no transitions yet.
	Initial *State
}

// Prober periodically determines network reachability.
type Prober struct {
	factory  CheckerFactory
	settings SettingsStore
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time

	probing atomic.Bool

	mu    sync.RWMutex
	cfg   config.ProbeConfig
	state State

	// saveMu keeps persisted snapshots in mutation order.
	saveMu sync.Mutex

	subMu  sync.Mutex
	subs   []subscriber
	nextID int

	onCheck func(checker.CheckResult)
	onProbe func(Run)
}

type subscriber struct {
	id int
	fn func(Event)
}

// New creates a Prober for cfg. cfg must already be valid.
func New(cfg config.ProbeConfig, opts Options) *Prober {
	p := &Prober{
		factory:  opts.Factory,
		settings: opts.Settings,
		logger:   opts.Logger,
		sleep:    opts.Sleep,
		now:      opts.Now,
		cfg:      cfg.Clone(),
		state:    State{Reachable: true},
	}
	if p.factory == nil {
		p.factory = checker.New
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	if p.now == nil {
		p.now = time.Now
	}
	if opts.Initial != nil {
		p.state = *opts.Initial
	}
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff returns the wait after failed round r (0-indexed): 2^r seconds.
func Backoff(round int) time.Duration {
	return time.Duration(1<<uint(round)) * time.Second
}

// SetOnCheck sets the callback invoked after every endpoint attempt.
// It must be called before the prober is started.
func (p *Prober) SetOnCheck(fn func(checker.CheckResult)) {
	p.onCheck = fn
}

// SetOnProbe sets the callback invoked after every completed ProbeOnce.
// Runs ended by a cancelled context are not reported.
// It must be called before the prober is started.
func (p *Prober) SetOnProbe(fn func(Run)) {
	p.onProbe = fn
}

// Subscribe registers fn to receive every transition. Events are delivered
// synchronously from the probing goroutine in registration order.
func (p *Prober) Subscribe(fn func(Event)) (unsubscribe func()) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.nextID++
	id := p.nextID
	p.subs = append(p.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			p.subMu.Lock()
			defer p.subMu.Unlock()
			p.subs = slices.DeleteFunc(p.subs, func(s subscriber) bool { return s.id == id })
		})
	}
}

// IsReachable returns the last computed reachability. It never starts a probe.
func (p *Prober) IsReachable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Reachable
}

// State returns a copy of the current state.
func (p *Prober) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Config returns a copy of the current probe configuration.
func (p *Prober) Config() config.ProbeConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Clone()
}

// CheckInterval returns the configured period between ticks.
func (p *Prober) CheckInterval() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.CheckInterval.Duration
}

// InFlight reports whether a probe is currently running.
func (p *Prober) InFlight() bool {
	return p.probing.Load()
}

// Tick runs one probe unless another is already in flight, in which case it
// returns false without touching state. Endpoint failures and panics resolve
// to an unreachable result; nothing is returned to the caller.
func (p *Prober) Tick(ctx context.Context) bool {
	if !p.probing.CompareAndSwap(false, true) {
		p.logger.Debug("probe already in flight, skipping tick")
		return false
	}
	defer p.probing.Store(false)

	reachable := p.safeProbe(ctx)
	if ctx.Err() != nil {
		// A cancelled probe says nothing about the network.
		return true
	}
	p.apply(reachable)
	return true
}

func (p *Prober) safeProbe(ctx context.Context) (reachable bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("probe panicked", "panic", r)
			reachable = false
		}
	}()
	return p.ProbeOnce(ctx)
}

func (p *Prober) apply(reachable bool) {
	p.mu.Lock()
	if reachable == p.state.Reachable {
		p.mu.Unlock()
		return
	}
	now := p.now()
	p.state.Reachable = reachable
	kind := EventDisconnected
	if reachable {
		kind = EventConnected
		p.state.LastConnected = now
	} else {
		p.state.LastDisconnected = now
	}
	ev := Event{Kind: kind, At: now, State: p.state}
	p.mu.Unlock()

	if reachable {
		p.logger.Info("network reachable again")
	} else {
		p.logger.Warn("network unreachable")
	}
	p.emit(ev)
}

func (p *Prober) emit(ev Event) {
	p.subMu.Lock()
	subs := slices.Clone(p.subs)
	p.subMu.Unlock()

	for _, s := range subs {
		p.deliver(s, ev)
	}
}

func (p *Prober) deliver(s subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("subscriber panicked", "event", ev.Kind, "panic", r)
		}
	}()
	s.fn(ev)
}

// ProbeOnce tries every endpoint in order for up to RetryCount rounds and
// returns true at the first success. After each failed round r it waits
// Backoff(r). A cancelled ctx ends the probe early with false.
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	cfg := p.Config()
	run := Run{ID: uuid.New(), StartedAt: p.now()}
	defer func() {
		run.Duration = p.now().Sub(run.StartedAt)
		// A cancelled run says nothing about the network; don't record it.
		if p.onProbe != nil && ctx.Err() == nil {
			p.onProbe(run)
		}
	}()

	for round := 0; round < cfg.RetryCount; round++ {
		run.Rounds = round + 1
		for _, endpoint := range cfg.URLs {
			if p.checkEndpoint(ctx, endpoint, cfg.RequestTimeout.Duration) {
				run.Reachable = true
				return true
			}
			if ctx.Err() != nil {
				return false
			}
		}
		wait := Backoff(round)
		p.logger.Debug("probe round failed", "round", round, "backoff", wait)
		if err := p.sleep(ctx, wait); err != nil {
			return false
		}
	}
	return false
}

func (p *Prober) checkEndpoint(ctx context.Context, endpoint string, timeout time.Duration) bool {
	c, err := p.factory(endpoint, timeout)
	if err != nil {
		p.logger.Warn("building checker", "url", endpoint, "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := c.Check(ctx)
	if result.Endpoint == "" {
		result.Endpoint = endpoint
	}
	if p.onCheck != nil {
		p.onCheck(result)
	}
	if !result.OK() {
		p.logger.Warn("failed to reach endpoint", "url", endpoint, "error", result.Error)
		return false
	}
	p.logger.Debug("endpoint reachable", "url", endpoint, "response_time", result.ResponseTime)
	return true
}

// SetCheckInterval changes the tick period. The scheduler picks it up on its next period.
func (p *Prober) SetCheckInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("check interval must be > 0, got %s", d)
	}
	p.update(func(cfg *config.ProbeConfig) bool {
		cfg.CheckInterval = config.Duration{Duration: d}
		return true
	})
	return nil
}

// SetRequestTimeout changes the per-endpoint deadline.
func (p *Prober) SetRequestTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("request timeout must be > 0, got %s", d)
	}
	p.update(func(cfg *config.ProbeConfig) bool {
		cfg.RequestTimeout = config.Duration{Duration: d}
		return true
	})
	return nil
}

// SetRetryCount changes the number of rounds per probe.
func (p *Prober) SetRetryCount(n int) error {
	if n < 0 || n > config.MaxRetryCount {
		return fmt.Errorf("retry count must be between 0 and %d, got %d", config.MaxRetryCount, n)
	}
	p.update(func(cfg *config.ProbeConfig) bool {
		cfg.RetryCount = n
		return true
	})
	return nil
}

// AddURL appends endpoint to the list. Adding a URL already present is a no-op.
func (p *Prober) AddURL(endpoint string) error {
	if err := config.ValidateEndpoint(endpoint); err != nil {
		return err
	}
	if _, err := p.factory(endpoint, time.Second); err != nil {
		return err
	}
	p.update(func(cfg *config.ProbeConfig) bool {
		if slices.Contains(cfg.URLs, endpoint) {
			return false
		}
		cfg.URLs = append(cfg.URLs, endpoint)
		return true
	})
	return nil
}

// RemoveURL drops endpoint from the list and reports whether it was present.
func (p *Prober) RemoveURL(endpoint string) bool {
	var removed bool
	p.update(func(cfg *config.ProbeConfig) bool {
		i := slices.Index(cfg.URLs, endpoint)
		if i < 0 {
			return false
		}
		cfg.URLs = slices.Delete(cfg.URLs, i, i+1)
		removed = true
		return true
	})
	return removed
}

// update applies fn under the lock and persists the result when fn reports a change.
// Persistence errors are logged; the in-memory change stands.
func (p *Prober) update(fn func(cfg *config.ProbeConfig) bool) {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	p.mu.Lock()
	changed := fn(&p.cfg)
	snapshot := p.cfg.Clone()
	p.mu.Unlock()

	if !changed || p.settings == nil {
		return
	}
	if err := p.settings.Save(snapshot); err != nil {
		p.logger.Error("saving settings", "error", err)
	}
}
