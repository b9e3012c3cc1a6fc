package ntp

import "time"

// Timestamp is the 64-bit NTP timestamp: the high 32 bits count seconds
// since an era origin, the low 32 bits are a binary fraction of a second.
//
// Two era origins are recognised (RFC 4330 section 3): if the most
// significant bit of the seconds field is set the value counts from
// 1900-01-01T00:00:00Z, otherwise it counts from 2036-02-07T06:28:16Z.
// This makes every instant between 1968-01-20T03:14:08Z and
// 2104-02-26T09:42:24Z representable.
type Timestamp uint64

// Short is the 32-bit NTP short format (16.16 fixed point seconds) used
// for root delay and root dispersion.
type Short uint32

var (
	baseEra    = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)
	reverseEra = time.Date(2036, time.February, 7, 6, 28, 16, 0, time.UTC)
)

const (
	eraBit    = 0x80000000
	fracScale = 1 << 32
)

// BaseEra returns the 1900 era origin.
func BaseEra() time.Time { return baseEra }

// ReverseEra returns the 2036 era origin.
func ReverseEra() time.Time { return reverseEra }

// Seconds returns the seconds field.
func (ts Timestamp) Seconds() uint32 { return uint32(ts >> 32) }

// Fraction returns the fractional field in 1/2^32 second units.
func (ts Timestamp) Fraction() uint32 { return uint32(ts) }

// IsZero reports whether the raw value is zero. A zero transmit
// timestamp marks an unusable reply, independent of the era rule.
func (ts Timestamp) IsZero() bool { return ts == 0 }

// Time decodes the timestamp into an absolute UTC instant.
func (ts Timestamp) Time() time.Time {
	sec := ts.Seconds()
	origin := baseEra
	if sec&eraBit == 0 {
		origin = reverseEra
	}
	nsec := (uint64(ts.Fraction())*uint64(time.Second) + fracScale/2) >> 32
	return origin.Add(time.Duration(sec)*time.Second + time.Duration(nsec))
}

// TimestampFromTime encodes t, choosing the reverse era for instants at or
// after its origin. Instants outside the representable window wrap
// silently.
func TimestampFromTime(t time.Time) Timestamp {
	origin := baseEra
	if !t.Before(reverseEra) {
		origin = reverseEra
	}

	d := t.Sub(origin)
	sec := d / time.Second
	rem := d % time.Second
	if rem < 0 {
		sec--
		rem += time.Second
	}

	frac := (uint64(rem)<<32 + uint64(time.Second)/2) / uint64(time.Second)
	if frac == fracScale {
		sec++
		frac = 0
	}
	return Timestamp(uint64(uint32(sec))<<32 | frac)
}

// Duration converts the short format value into a duration.
func (s Short) Duration() time.Duration {
	sec := uint64(s>>16) * uint64(time.Second)
	frac := (uint64(s&0xffff)*uint64(time.Second) + 1<<15) >> 16
	return time.Duration(sec + frac)
}

// ShortFromDuration encodes a non-negative duration in short format.
// Negative durations encode as zero.
func ShortFromDuration(d time.Duration) Short {
	if d <= 0 {
		return 0
	}
	sec := uint64(d / time.Second)
	frac := (uint64(d%time.Second)<<16 + uint64(time.Second)/2) / uint64(time.Second)
	return Short(sec<<16 + frac)
}
