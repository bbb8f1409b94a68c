//go:build solaris

package fileutil

import (
	"os"

	"golang.org/x/sys/unix"
)

type solarisLock struct {
	f *os.File
}

var _ Releaser = (*solarisLock)(nil)

func (l *solarisLock) Release() error {
	return l.set(false)
}

func (l *solarisLock) set(lock bool) error {
	flock := unix.Flock_t{
		Type:   unix.F_UNLCK,
		Whence: 1,
	}
	if lock {
		flock.Type = unix.F_WRLCK
	}
	return unix.FcntlFlock(l.f.Fd(), unix.F_SETLK, &flock)
}

func NewLock(f *os.File) (Releaser, error) {
	l := &solarisLock{f}
	return l, l.set(true)
}
