package lockfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireCreatesFileAndCanBeReleased(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.lock")

	lock, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestAcquireFailsWhileAlreadyHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.lock")

	first, err := Acquire(path)
	require.NoError(t, err)
	defer first.Release()

	_, err = Acquire(path)
	require.Error(t, err, "a second Acquire on the same path must fail while the first lock is held")
}

func TestReleaseLeavesLockfileOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.lock")

	lock, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, lock.Release())

	// The lockfile path also backs the stage-2 descriptor directory
	// layout, so Release must never remove it, only unlock+close.
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}

func TestReacquireAfterReleaseSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.lock")

	first, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, first.Release())

	second, err := Acquire(path)
	require.NoError(t, err)
	assert.NoError(t, second.Release())
}

func TestReleaseOnNilLockIsNoOp(t *testing.T) {
	var l *Lock
	assert.NoError(t, l.Release())
}
