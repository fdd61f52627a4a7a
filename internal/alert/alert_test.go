package alert_test

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazz-dev/reachprobe/internal/alert"
	"github.com/hazz-dev/reachprobe/internal/prober"
)

func makeEvent(kind prober.EventKind) prober.Event {
	now := time.Now().UTC()
	ev := prober.Event{Kind: kind, At: now}
	if kind == prober.EventConnected {
		ev.State = prober.State{Reachable: true, LastConnected: now}
	} else {
		ev.State = prober.State{Reachable: false, LastDisconnected: now}
	}
	return ev
}

func countingServer(t *testing.T, status int) (*httptest.Server, *int32) {
	t.Helper()
	var callCount int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&callCount, 1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &callCount
}

func TestAlerter_Disconnected(t *testing.T) {
	srv, calls := countingServer(t, http.StatusOK)

	a := alert.New(srv.URL, time.Hour, nil)
	a.Notify(makeEvent(prober.EventDisconnected))
	a.Wait()

	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("expected 1 webhook call, got %d", atomic.LoadInt32(calls))
	}
}

func TestAlerter_Cooldown_SuppressesAlerts(t *testing.T) {
	srv, calls := countingServer(t, http.StatusOK)

	a := alert.New(srv.URL, time.Hour, nil)

	// First transition: should send
	a.Notify(makeEvent(prober.EventDisconnected))
	a.Wait()

	// Second transition: within cooldown, deferred past the end of the test
	a.Notify(makeEvent(prober.EventConnected))
	a.Wait()

	if atomic.LoadInt32(calls) != 1 {
		t.Errorf("expected 1 webhook call (cooldown suppressed second), got %d", atomic.LoadInt32(calls))
	}
}

func TestAlerter_ZeroCooldown_SendsEveryTransition(t *testing.T) {
	srv, calls := countingServer(t, http.StatusOK)

	a := alert.New(srv.URL, 0, nil)
	a.Notify(makeEvent(prober.EventDisconnected))
	a.Notify(makeEvent(prober.EventConnected))
	a.Wait()

	if atomic.LoadInt32(calls) != 2 {
		t.Errorf("expected 2 webhook calls, got %d", atomic.LoadInt32(calls))
	}
}

func TestAlerter_WebhookPayload(t *testing.T) {
	var mu sync.Mutex
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		json.Unmarshal(body, &payload)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := alert.New(srv.URL, time.Hour, nil)
	a.Notify(makeEvent(prober.EventDisconnected))
	a.Wait()

	mu.Lock()
	defer mu.Unlock()
	if payload["status"] != "disconnected" {
		t.Errorf("expected status 'disconnected', got %v", payload["status"])
	}
	if payload["previous_status"] != "connected" {
		t.Errorf("expected previous_status 'connected', got %v", payload["previous_status"])
	}
	if payload["source"] != "reachprobe" {
		t.Errorf("expected source 'reachprobe', got %v", payload["source"])
	}
	if payload["last_disconnected"] == nil {
		t.Error("expected last_disconnected in payload")
	}
	if _, ok := payload["last_connected"]; ok {
		t.Errorf("expected zero last_connected to be omitted, got %v", payload["last_connected"])
	}
}

func TestAlerter_HTTPError_DoesNotCrash(t *testing.T) {
	srv, _ := countingServer(t, http.StatusInternalServerError)

	a := alert.New(srv.URL, time.Hour, nil)
	// Should not panic even on HTTP error
	a.Notify(makeEvent(prober.EventDisconnected))
	a.Wait()
}

func TestAlerter_UnreachableWebhook_DoesNotCrash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	a := alert.New(url, time.Hour, nil)
	a.Notify(makeEvent(prober.EventConnected))
	a.Wait()
}

func (r *recordingSender) kinds() []prober.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]prober.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestAlerter_FlapInsideCooldown_SendsFinalState(t *testing.T) {
	rec := &recordingSender{}
	a := alert.NewWithSenders(50*time.Millisecond, nil, rec)

	a.Notify(makeEvent(prober.EventDisconnected))
	a.Notify(makeEvent(prober.EventConnected))
	a.Wait()

	if got := rec.kinds(); len(got) != 1 || got[0] != prober.EventDisconnected {
		t.Fatalf("expected only the disconnected alert before the cooldown expires, got %v", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.kinds()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	a.Wait()

	got := rec.kinds()
	if len(got) != 2 {
		t.Fatalf("expected the deferred alert after the cooldown, got %v", got)
	}
	if got[1] != prober.EventConnected {
		t.Errorf("expected last alert to match the final state connected, got %v", got[1])
	}
}

func TestAlerter_FlapBackInsideCooldown_DropsDeferred(t *testing.T) {
	rec := &recordingSender{}
	a := alert.NewWithSenders(50*time.Millisecond, nil, rec)

	a.Notify(makeEvent(prober.EventDisconnected))
	a.Notify(makeEvent(prober.EventConnected))
	a.Notify(makeEvent(prober.EventDisconnected))

	time.Sleep(200 * time.Millisecond)
	a.Wait()

	if got := rec.kinds(); len(got) != 1 || got[0] != prober.EventDisconnected {
		t.Errorf("expected a single disconnected alert, got %v", got)
	}
}

func TestAlerter_Stop_DiscardsDeferred(t *testing.T) {
	rec := &recordingSender{}
	a := alert.NewWithSenders(50*time.Millisecond, nil, rec)

	a.Notify(makeEvent(prober.EventDisconnected))
	a.Notify(makeEvent(prober.EventConnected))
	a.Stop()

	time.Sleep(150 * time.Millisecond)
	a.Wait()

	if got := rec.kinds(); len(got) != 1 {
		t.Errorf("expected the deferred alert to be discarded, got %v", got)
	}
}

func TestWebhook_ReusesConnection(t *testing.T) {
	var mu sync.Mutex
	conns := 0
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(strings.Repeat("ok", 512)))
	}))
	srv.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			mu.Lock()
			conns++
			mu.Unlock()
		}
	}
	srv.Start()
	defer srv.Close()

	w := alert.NewWebhook(srv.URL)
	for i := 0; i < 3; i++ {
		if err := w.Send(makeEvent(prober.EventDisconnected)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if conns != 1 {
		t.Errorf("expected 1 connection across sends, got %d", conns)
	}
}
