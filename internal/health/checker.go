// Package health probes the NordVPN endpoints nordcfg depends on so the
// readiness route can report whether requests are likely to succeed.
package health

import (
	"context"
	"time"
)

// DefaultTimeout bounds a single probe when none is configured.
const DefaultTimeout = 5 * time.Second

// Checker is the interface for health checkers.
type Checker interface {
	// Check performs a health check and returns the result.
	Check(ctx context.Context) Result

	// Type returns the health check type.
	Type() string
}

// Result represents the result of a health check.
type Result struct {
	Healthy   bool          `json:"healthy"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// Checked reports whether the result comes from a completed probe.
func (r Result) Checked() bool {
	return !r.Timestamp.IsZero()
}

func failed(start time.Time, msg string, err error) Result {
	return Result{
		Message:   msg,
		Error:     err.Error(),
		Latency:   time.Since(start),
		Timestamp: time.Now(),
	}
}
