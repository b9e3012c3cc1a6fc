package clock

import "time"

// OffsetSource reports how far the local clock is from a reference.
// observer.Observer satisfies it.
type OffsetSource interface {
	LocalClockOffset() time.Duration
}

// Corrected provides drift-corrected wall-clock time by adding the
// current offset of a source to a base clock.
type Corrected struct {
	base   Clock
	source OffsetSource
}

// Option configures a Corrected clock.
type Option func(*Corrected)

// WithBase sets the uncorrected clock. Defaults to System().
func WithBase(c Clock) Option {
	return func(cc *Corrected) { cc.base = c }
}

// NewCorrected creates a Corrected clock reading offsets from source.
func NewCorrected(source OffsetSource, opts ...Option) *Corrected {
	c := &Corrected{
		base:   System(),
		source: source,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Now returns the base time adjusted by the source offset.
func (c *Corrected) Now() time.Time {
	return c.base.Now().Add(c.Offset())
}

// Offset returns the source's current offset, zero without a source.
func (c *Corrected) Offset() time.Duration {
	if c.source == nil {
		return 0
	}
	return c.source.LocalClockOffset()
}
