// Package lockfile provides the exclusive lock guaranteeing that no
// two migrations run on the same host concurrently (spec.md §4.4
// Concurrency). It generalizes the teacher's package-global
// SnappyLock/createLock/removeLock (helpers/helpers.go) into an
// explicit handle instead of a package-level singleton, per the
// REDESIGN FLAGS in spec.md §9.
package lockfile

import (
	"os"
	"syscall"

	"github.com/lxc-migrate/appliance-migrate/errs"
)

// Lock is an acquired exclusive lock on a path. The zero value is not
// usable; construct with Acquire.
type Lock struct {
	filename string
	file     *os.File
}

// Acquire takes an exclusive flock(2) on filename, creating it if
// necessary. Contention is reported with an IoError-kind message
// naming the conflict, matching the wording of the teacher's
// createLock "already in progress" error.
func Acquire(filename string) (*Lock, error) {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, err, "open lockfile")
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.IoError, err, "another migration is already in progress")
	}

	return &Lock{filename: filename, file: f}, nil
}

// Release unlocks and closes the lock. It deliberately does not
// remove the lockfile: unlike the teacher's one-shot privileged
// operations, the descriptor path the lock guards must continue to
// exist after stage 1 commits, since stage 2 reads it after reboot.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		l.file.Close()
		return errs.Wrap(errs.IoError, err, "unlock")
	}
	return l.file.Close()
}
