//go:build linux || darwin

package fileutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockFileIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "LOCK")

	first, err := LockFile(path)
	require.NoError(t, err)

	_, err = LockFile(path)
	assert.Error(t, err)

	require.NoError(t, first.Release())

	again, err := LockFile(path)
	require.NoError(t, err)
	assert.NoError(t, again.Release())
}
