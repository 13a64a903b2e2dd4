// Package backup holds the shared BackupPair type threaded between
// MigrateInfo, the Stage-2 Descriptor, and every Boot Manager
// implementation's setup()/restore() pair (spec.md §3, §4.3, §7).
//
// Pairs are stored relative to the boot partition's mountpoint rather
// than as absolute paths, because spec.md §3's core correctness
// contract requires "every path referenced in the descriptor [to be]
// reachable from the initramfs's own view of the disk" — and stage 1
// and stage 2 mount the same boot partition at different, unrelated
// prefixes (e.g. "/boot" on the live system vs. a scratch mountpoint
// under the stage-2 initramfs).
package backup

import (
	"os"
	"path/filepath"

	"github.com/lxc-migrate/appliance-migrate/errs"
	"github.com/lxc-migrate/appliance-migrate/internal/sysutils"
)

// Pair records that Original (relative to the boot partition root)
// was backed up to Backup before a mutation, so it can be restored
// later from either stage.
type Pair struct {
	Original string `toml:"original"`
	Backup   string `toml:"backup"`
}

// Make backs up the file at filepath.Join(root, rel) to a
// deterministically-named sibling ".bak" file (spec.md §6: "each
// touched pre-existing file has a sibling .bak copy named
// deterministically") and returns the recorded Pair, with paths
// stored relative to root. If the file does not yet exist, Make
// still returns a Pair whose Backup is "" so Restore knows to remove
// rather than restore it.
func Make(root, rel string) (Pair, error) {
	abs := filepath.Join(root, rel)
	if !sysutils.FileExists(abs) {
		return Pair{Original: rel, Backup: ""}, nil
	}

	backupRel := rel + ".bak"
	if err := sysutils.CopyFile(abs, filepath.Join(root, backupRel)); err != nil {
		return Pair{}, errs.Wrap(errs.BackupFailed, err, "backup "+rel)
	}
	return Pair{Original: rel, Backup: backupRel}, nil
}

// RestoreAt copies Backup back over Original under root, or removes
// Original if it did not exist pre-migration (Backup == "").
// Best-effort: the caller (Failure Controller / Boot Manager.Restore)
// is expected to continue attempting the remaining pairs regardless
// of one pair's error.
func (p Pair) RestoreAt(root string) error {
	abs := filepath.Join(root, p.Original)
	if p.Backup == "" {
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return errs.Wrap(errs.IoError, err, "remove "+p.Original)
		}
		return nil
	}
	return sysutils.CopyFile(filepath.Join(root, p.Backup), abs)
}

// RestoreAllAt restores every pair (resolved against root) in order,
// collecting (not stopping on) the first error so every pair gets a
// restore attempt.
func RestoreAllAt(root string, pairs []Pair) error {
	var firstErr error
	for _, p := range pairs {
		if err := p.RestoreAt(root); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
