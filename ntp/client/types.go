package client

import (
	"context"
	"time"

	"github.com/tnicklin/cubeclock/ntp"
)

// Client performs a single request/response exchange with one NTP server.
type Client interface {
	// Receive sends a request and blocks until one reply arrives, the
	// receive timeout elapses or ctx is done. It never retries.
	Receive(ctx context.Context) (*ntp.Packet, error)
	// Address returns the server as host:port.
	Address() string
	Timeout() time.Duration
	SetTimeout(d time.Duration)
}
