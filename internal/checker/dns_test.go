package checker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/hazz-dev/reachprobe/internal/checker"
)

// mockExchanger records the last query and returns a canned reply.
type mockExchanger struct {
	rcode   int
	err     error
	gotName string
	gotType uint16
	gotAddr string
}

func (m *mockExchanger) ExchangeContext(_ context.Context, msg *dns.Msg, address string) (*dns.Msg, time.Duration, error) {
	m.gotName = msg.Question[0].Name
	m.gotType = msg.Question[0].Qtype
	m.gotAddr = address
	if m.err != nil {
		return nil, 0, m.err
	}
	resp := new(dns.Msg)
	resp.SetRcode(msg, m.rcode)
	return resp, 7 * time.Millisecond, nil
}

func TestDNSChecker_Success(t *testing.T) {
	ex := &mockExchanger{rcode: dns.RcodeSuccess}
	c, err := checker.NewDNSCheckerWithClient("dns://9.9.9.9/example.com", ex)
	if err != nil {
		t.Fatal(err)
	}

	result := c.Check(context.Background())
	if result.Status != checker.StatusUp {
		t.Errorf("expected StatusUp, got %q: %s", result.Status, result.Error)
	}
	if result.ResponseTime != 7*time.Millisecond {
		t.Errorf("expected rtt 7ms, got %v", result.ResponseTime)
	}
	if ex.gotName != "example.com." {
		t.Errorf("expected fqdn query example.com., got %q", ex.gotName)
	}
	if ex.gotType != dns.TypeA {
		t.Errorf("expected A query, got %d", ex.gotType)
	}
	if ex.gotAddr != "9.9.9.9:53" {
		t.Errorf("expected default port 53, got %q", ex.gotAddr)
	}
}

func TestDNSChecker_RootQueryWithoutPath(t *testing.T) {
	ex := &mockExchanger{rcode: dns.RcodeSuccess}
	c, err := checker.NewDNSCheckerWithClient("dns://1.1.1.1:5353", ex)
	if err != nil {
		t.Fatal(err)
	}

	c.Check(context.Background())
	if ex.gotName != "." || ex.gotType != dns.TypeNS {
		t.Errorf("expected root NS query, got %q type %d", ex.gotName, ex.gotType)
	}
	if ex.gotAddr != "1.1.1.1:5353" {
		t.Errorf("expected explicit port to be kept, got %q", ex.gotAddr)
	}
}

func TestDNSChecker_NXDomainIsUp(t *testing.T) {
	c, err := checker.NewDNSCheckerWithClient("dns://9.9.9.9/nope.invalid", &mockExchanger{rcode: dns.RcodeNameError})
	if err != nil {
		t.Fatal(err)
	}
	if result := c.Check(context.Background()); result.Status != checker.StatusUp {
		t.Errorf("expected StatusUp for NXDOMAIN, got %q: %s", result.Status, result.Error)
	}
}

func TestDNSChecker_ServerFailureIsDown(t *testing.T) {
	c, err := checker.NewDNSCheckerWithClient("dns://9.9.9.9/example.com", &mockExchanger{rcode: dns.RcodeServerFailure})
	if err != nil {
		t.Fatal(err)
	}
	result := c.Check(context.Background())
	if result.Status != checker.StatusDown {
		t.Errorf("expected StatusDown for SERVFAIL, got %q", result.Status)
	}
	if result.Error == "" {
		t.Error("expected error message for SERVFAIL")
	}
}

func TestDNSChecker_ExchangeError(t *testing.T) {
	c, err := checker.NewDNSCheckerWithClient("dns://9.9.9.9/example.com", &mockExchanger{err: errors.New("i/o timeout")})
	if err != nil {
		t.Fatal(err)
	}
	result := c.Check(context.Background())
	if result.Status != checker.StatusDown {
		t.Errorf("expected StatusDown, got %q", result.Status)
	}
}
