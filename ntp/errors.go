package ntp

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout means no reply arrived within the receive timeout.
	ErrTimeout = errors.New("ntp: no reply within timeout")
	// ErrNetwork wraps transport level failures.
	ErrNetwork = errors.New("ntp: network error")
	// ErrMalformedPacket means a reply could not be decoded.
	ErrMalformedPacket = errors.New("ntp: malformed packet")
	// ErrInvalidServerResponse means a reply decoded but is unusable.
	ErrInvalidServerResponse = errors.New("ntp: invalid server response")

	ErrOriginMismatch = fmt.Errorf("%w: originate timestamp does not match request", ErrInvalidServerResponse)
	ErrKissOfDeath    = fmt.Errorf("%w: kiss of death", ErrInvalidServerResponse)
)

// IsRetryable reports whether err belongs to the retryable failure set.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrMalformedPacket) ||
		errors.Is(err, ErrInvalidServerResponse)
}
