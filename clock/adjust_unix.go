//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package clock

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

func setTime(t time.Time) error {
	tv := unix.NsecToTimeval(t.UnixNano())
	if err := unix.Settimeofday(&tv); err != nil {
		return fmt.Errorf("settimeofday: %w", err)
	}
	return nil
}
