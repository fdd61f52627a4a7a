package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazz-dev/reachprobe/internal/checker"
	"github.com/hazz-dev/reachprobe/internal/config"
	"github.com/hazz-dev/reachprobe/internal/prober"
	"github.com/hazz-dev/reachprobe/internal/storage"
)

type failingWriter struct{ calls int }

func (f *failingWriter) InsertCheck(context.Context, checker.CheckResult) error {
	f.calls++
	return errors.New("db locked")
}

func (f *failingWriter) InsertProbe(context.Context, prober.Run) error {
	f.calls++
	return errors.New("db locked")
}

func (f *failingWriter) InsertTransition(context.Context, prober.Event) error {
	f.calls++
	return errors.New("db locked")
}

type downChecker struct{}

func (downChecker) Check(context.Context) checker.CheckResult {
	return checker.CheckResult{Status: checker.StatusDown, Error: "unreachable", CheckedAt: time.Now()}
}

func newDownProber() *prober.Prober {
	cfg := config.ProbeConfig{
		CheckInterval:  config.Duration{Duration: time.Second},
		RequestTimeout: config.Duration{Duration: time.Second},
		RetryCount:     1,
		URLs:           []string{endpointA},
	}
	return prober.New(cfg, prober.Options{
		Factory: func(string, time.Duration) (checker.Checker, error) { return downChecker{}, nil },
		Sleep:   func(context.Context, time.Duration) error { return nil },
	})
}

func TestRecorder_PersistsProberActivity(t *testing.T) {
	db := openTestDB(t)
	p := newDownProber()
	storage.NewRecorder(db, nil).Attach(p)

	p.Tick(context.Background())

	ctx := context.Background()
	c, err := db.LatestCheck(ctx, endpointA)
	if err != nil || c == nil {
		t.Fatalf("expected stored check, got %+v err=%v", c, err)
	}
	if c.Status != "down" || c.Error != "unreachable" {
		t.Errorf("unexpected stored check: %+v", c)
	}
	probes, err := db.RecentProbes(ctx, 10)
	if err != nil || len(probes) != 1 || probes[0].Reachable {
		t.Errorf("expected one unreachable probe, got %+v err=%v", probes, err)
	}
	tr, err := db.LatestTransition(ctx)
	if err != nil || tr == nil || tr.Kind != "disconnected" {
		t.Errorf("expected disconnected transition, got %+v err=%v", tr, err)
	}
}

func TestRecorder_WriteErrorsDoNotStopProbing(t *testing.T) {
	w := &failingWriter{}
	p := newDownProber()
	detach := storage.NewRecorder(w, nil).Attach(p)
	defer detach()

	if !p.Tick(context.Background()) {
		t.Fatal("expected tick to run")
	}
	if p.IsReachable() {
		t.Error("expected state to flip despite storage errors")
	}
	if w.calls != 3 {
		t.Errorf("expected check, probe and transition writes, got %d", w.calls)
	}
}
