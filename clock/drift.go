package clock

import "time"

// Drift classifies a clock offset against a tolerance.
type Drift int

const (
	InSync Drift = iota
	// Fast means the local clock is ahead of the server.
	Fast
	// Behind means the local clock lags the server.
	Behind
)

func (d Drift) String() string {
	switch d {
	case Fast:
		return "fast"
	case Behind:
		return "behind"
	default:
		return "in-sync"
	}
}

// Classify reports InSync while |offset| <= threshold. A negative offset
// means the server is behind local time, so the local clock runs fast.
func Classify(offset, threshold time.Duration) Drift {
	if offset.Abs() <= threshold {
		return InSync
	}
	if offset <= 0 {
		return Fast
	}
	return Behind
}
