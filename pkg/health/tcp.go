package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker probes a worker's readiness with a raw TCP dial, for workers
// that don't expose an HTTP healthz endpoint.
type TCPChecker struct {
	// Address is the host:port to dial (e.g. "127.0.0.1:9100").
	Address string

	// Timeout bounds the dial (default 5 seconds).
	Timeout time.Duration
}

// NewTCPChecker builds a checker against address with sensible defaults.
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{
		Address: address,
		Timeout: 5 * time.Second,
	}
}

// Check dials Address once.
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("connection failed: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}
	defer conn.Close()

	return Result{Healthy: true, Message: fmt.Sprintf("TCP connection to %s successful", t.Address), CheckedAt: start, Duration: time.Since(start)}
}

// Type identifies this checker as TCP-based.
func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// WithTimeout overrides the dial timeout.
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}
