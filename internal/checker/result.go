package checker

import "time"

// Status represents the outcome of reaching one endpoint.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// CheckResult is the outcome of a single endpoint attempt.
type CheckResult struct {
	Endpoint     string
	Status       Status
	ResponseTime time.Duration
	Error        string
	CheckedAt    time.Time
}

// OK reports whether the endpoint was reached.
func (r CheckResult) OK() bool {
	return r.Status == StatusUp
}
