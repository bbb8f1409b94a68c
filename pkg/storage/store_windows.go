package storage

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/windows"
	"k8s.io/klog/v2"
)

// DefaultStorePath is under ProgramData so the service account and an
// operator session see the same records.
func DefaultStorePath() string {
	if dir, err := windows.KnownFolderPath(windows.FOLDERID_ProgramData, 0); err == nil {
		return filepath.Join(dir, "harnscabinet")
	} else {
		klog.ErrorS(err, "Failed to locate ProgramData, using the home directory")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "harnscabinet")
	}
	return filepath.Join(".", "harnscabinet")
}

func isEphemeralError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case windows.ERROR_SHARING_VIOLATION, windows.ERROR_LOCK_VIOLATION:
			return true
		}
	}
	return false
}
