package fileutil

import "os"

// Releaser releases a lock taken by NewLock.
type Releaser interface {
	Release() error
}

// LockFile opens path and takes an exclusive non-blocking lock on it.
// The file is closed when the returned Releaser is released.
func LockFile(path string) (Releaser, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	l, err := NewLock(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileReleaser{f: f, l: l}, nil
}

type fileReleaser struct {
	f *os.File
	l Releaser
}

func (r *fileReleaser) Release() error {
	err := r.l.Release()
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}
