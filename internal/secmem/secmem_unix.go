//go:build unix

package secmem

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

func lock(b []byte) func() {
	if len(b) == 0 {
		return func() {}
	}
	if err := unix.Mlock(b); err != nil {
		slog.Debug("mlock failed", "component", "secmem", "error", err)
		return func() {}
	}
	return func() {
		if err := unix.Munlock(b); err != nil {
			slog.Debug("munlock failed", "component", "secmem", "error", err)
		}
	}
}
