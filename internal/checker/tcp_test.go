package checker_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/hazz-dev/reachprobe/internal/checker"
)

func TestTCPChecker_Success(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	// Accept connections in background
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	c, err := checker.New("tcp://"+ln.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	result := c.Check(context.Background())
	if result.Status != checker.StatusUp {
		t.Errorf("expected StatusUp, got %q: %s", result.Status, result.Error)
	}
	if result.ResponseTime <= 0 {
		t.Errorf("expected positive response time, got %v", result.ResponseTime)
	}
}

func TestTCPChecker_ConnectionRefused(t *testing.T) {
	// Bind and immediately close to get a port that's not listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c, err := checker.New("tcp://"+addr, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	result := c.Check(context.Background())
	if result.Status != checker.StatusDown {
		t.Errorf("expected StatusDown for refused connection, got %q", result.Status)
	}
	if result.Error == "" {
		t.Error("expected error message for refused connection")
	}
}

func TestTCPChecker_CancelledContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	c, err := checker.New("tcp://"+ln.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := c.Check(ctx)
	if result.Status != checker.StatusDown {
		t.Errorf("expected StatusDown for cancelled context, got %q", result.Status)
	}
}
