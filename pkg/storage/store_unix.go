//go:build !windows

package storage

import (
	"errors"

	"golang.org/x/sys/unix"
)

func DefaultStorePath() string {
	return "/var/lib/harnscabinet"
}

func isEphemeralError(err error) bool {
	var errno unix.Errno
	if errors.As(err, &errno) {
		switch errno {
		case unix.EBUSY, unix.EAGAIN:
			return true
		}
	}
	return false
}
