package clock

import (
	"errors"
	"time"
)

// ErrUnsupported is returned by the system adjuster on platforms where
// the host clock cannot be stepped.
var ErrUnsupported = errors.New("clock: adjusting the system clock is not supported on this platform")

// Adjuster steps the host clock by an offset.
type Adjuster interface {
	Adjust(offset time.Duration) error
}

// AdjusterFunc adapts a plain function to Adjuster.
type AdjusterFunc func(offset time.Duration) error

func (f AdjusterFunc) Adjust(offset time.Duration) error { return f(offset) }

// NewSystemAdjuster returns an Adjuster that steps the operating system
// clock. It usually needs elevated privileges (CAP_SYS_TIME on Linux).
func NewSystemAdjuster() Adjuster { return systemAdjuster{} }

type systemAdjuster struct{}

func (systemAdjuster) Adjust(offset time.Duration) error {
	if offset == 0 {
		return nil
	}
	return setTime(time.Now().Add(offset))
}
