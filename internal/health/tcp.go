package health

import (
	"context"
	"net"
	"time"
)

// TCPChecker probes an address by opening a TCP connection.
type TCPChecker struct {
	address string
	timeout time.Duration
}

// NewTCPChecker creates a checker for address ("host:port").
func NewTCPChecker(address string, timeout time.Duration) *TCPChecker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TCPChecker{address: address, timeout: timeout}
}

// Check performs a TCP health check.
func (c *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return failed(start, "TCP connection failed", err)
	}
	conn.Close()

	return Result{
		Healthy:   true,
		Message:   "TCP connection successful",
		Latency:   time.Since(start),
		Timestamp: time.Now(),
	}
}

// Type returns the checker type.
func (c *TCPChecker) Type() string {
	return "tcp"
}
