package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWritesPID(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "sentinel.lock")
	l, err := Acquire(lockPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	b, err := os.ReadFile(lockPath)
	require.NoError(t, err)

	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquireRejectsSecondHolder(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "sentinel.lock")
	l, err := Acquire(lockPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	_, err = Acquire(lockPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another instance is running")
}

func TestReleaseAllowsReacquire(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "sentinel.lock")
	l, err := Acquire(lockPath)
	require.NoError(t, err)
	require.NoError(t, l.Release())

	l2, err := Acquire(lockPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l2.Release() })
}

func TestReleaseNil(t *testing.T) {
	t.Parallel()

	var l *PIDLock
	assert.NoError(t, l.Release())
}
