package observer

import (
	"context"
	"errors"
	"time"

	"github.com/tnicklin/cubeclock/ntp"
)

var (
	// ErrClosed is returned by operations on a closed Observer.
	ErrClosed = errors.New("observer: closed")
	// ErrNoClient is returned when no client is configured.
	ErrNoClient = errors.New("observer: no client")
	// ErrNoAdjuster is returned by Synchronize without a clock adjuster.
	ErrNoAdjuster = errors.New("observer: no clock adjuster")
	// ErrDiscarded means a result was measured before a Reset or
	// Synchronize and was dropped instead of being cached.
	ErrDiscarded = errors.New("observer: result discarded")
)

// Recorder receives observer events, e.g. to keep a history. Errors are
// logged and otherwise ignored.
type Recorder interface {
	RecordSample(ctx context.Context, server string, p *ntp.Packet) error
	RecordFailure(ctx context.Context, server string, cause error) error
	RecordAdjustment(ctx context.Context, server string, offset time.Duration, cause error) error
}
