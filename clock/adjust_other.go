//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package clock

import "time"

func setTime(time.Time) error { return ErrUnsupported }
