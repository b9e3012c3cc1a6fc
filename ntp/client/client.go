package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/tnicklin/cubeclock/clock"
	"github.com/tnicklin/cubeclock/ntp"
	"go.uber.org/atomic"
)

var _ Client = (*DefaultClient)(nil)

// Replies carrying extension fields are read whole so that they fail
// decoding instead of being silently truncated to a valid header.
const readBufferSize = 512

// DefaultClient queries an NTP server over UDP.
type DefaultClient struct {
	addr    string
	version uint8
	timeout *atomic.Duration
	clock   clock.Clock
}

// Params holds configuration for creating a new DefaultClient.
type Params struct {
	Config Config
	// Clock stamps the transmit and destination times. Defaults to
	// clock.System().
	Clock clock.Clock
}

// New creates a new DefaultClient from the given parameters.
func New(p Params) *DefaultClient {
	p.Config.Defaults()

	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}

	return &DefaultClient{
		addr:    net.JoinHostPort(p.Config.Host, strconv.Itoa(p.Config.Port)),
		version: uint8(p.Config.Version),
		timeout: atomic.NewDuration(p.Config.Timeout),
		clock:   clk,
	}
}

func (c *DefaultClient) Address() string { return c.addr }

func (c *DefaultClient) Timeout() time.Duration { return c.timeout.Load() }

// SetTimeout changes the receive timeout. Exchanges already in flight
// keep the timeout they started with.
func (c *DefaultClient) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	c.timeout.Store(d)
}

// Receive performs one request/response exchange. Failures wrap
// ntp.ErrTimeout, ntp.ErrNetwork, ntp.ErrMalformedPacket,
// ntp.ErrOriginMismatch or, for a reply not in server mode,
// ntp.ErrInvalidServerResponse; cancellation of ctx returns ctx.Err().
// Stratum and transmit checks are left to ntp.Packet.Validate.
func (c *DefaultClient) Receive(ctx context.Context) (*ntp.Packet, error) {
	timeout := c.timeout.Load()
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(rctx, "udp", c.addr)
	if err != nil {
		return nil, c.wrapErr(ctx, timeout, err)
	}
	defer conn.Close()

	if deadline, ok := rctx.Deadline(); ok {
		if err = conn.SetDeadline(deadline); err != nil {
			return nil, c.wrapErr(ctx, timeout, err)
		}
	}
	// Unblock the read as soon as the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	req := ntp.Packet{
		Leap:     ntp.LeapNotSynchronized,
		Version:  c.version,
		Mode:     ntp.ModeClient,
		Transmit: ntp.TimestampFromTime(c.clock.Now()),
	}
	out, err := req.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if _, err = conn.Write(out); err != nil {
		return nil, c.wrapErr(ctx, timeout, err)
	}

	buf := make([]byte, readBufferSize)
	n, err := conn.Read(buf)
	dst := c.clock.Now()
	if err != nil {
		return nil, c.wrapErr(ctx, timeout, err)
	}

	reply, err := ntp.DecodePacket(buf[:n], dst)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.addr, err)
	}
	if reply.Originate != req.Transmit {
		return nil, fmt.Errorf("%s: %w", c.addr, ntp.ErrOriginMismatch)
	}
	if reply.Mode != ntp.ModeServer {
		return nil, fmt.Errorf("%s: %w: mode %s", c.addr, ntp.ErrInvalidServerResponse, reply.Mode)
	}
	return reply, nil
}

func (c *DefaultClient) wrapErr(parent context.Context, timeout time.Duration, err error) error {
	if perr := parent.Err(); perr != nil {
		return perr
	}

	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		(errors.As(err, &nerr) && nerr.Timeout()) {
		return fmt.Errorf("%w: %s after %s", ntp.ErrTimeout, c.addr, timeout)
	}
	return fmt.Errorf("%w: %s: %w", ntp.ErrNetwork, c.addr, err)
}
