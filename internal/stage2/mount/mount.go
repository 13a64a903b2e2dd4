// Package mount implements the Stage-2 Mount Manager (C6). After
// pivot, it mounts the partitions named in the Stage-2 Descriptor
// read-only or read-write as needed, and guarantees ordered unmount
// on every exit path. Grounded on
// wolfbox-snappy/partition/partition.go's mount/unmount/bindmount/
// undoMounts (the package-global mount stack, reverse-order teardown)
// and bindmountRequiredFilesystems/unmountRequiredFilesystems,
// generalized from "mount the other snappy rootfs" to "mount whatever
// the descriptor names."
package mount

import (
	"path/filepath"

	"github.com/lxc-migrate/appliance-migrate/errs"
	"github.com/lxc-migrate/appliance-migrate/internal/descriptor"
	"github.com/lxc-migrate/appliance-migrate/internal/sysutils"
)

// entry is one mount this Mounts has performed, recorded so Close can
// unwind them in reverse order.
type entry struct {
	target string
}

// Mounts tracks every mount performed during stage 2 so it can
// guarantee ordered unmount (reverse of mount order, syncing before
// each unmount) on any exit path: success, failure, or a recovered
// panic (spec.md §4.6).
type Mounts struct {
	boot    string
	entries []entry
}

// New returns an empty Mounts, not yet holding any mount.
func New() *Mounts {
	return &Mounts{}
}

// MountBootPartition mounts device read-only at prefix, the boot
// partition stage 2's own initramfs was staged onto.
func (m *Mounts) MountBootPartition(device, prefix string) error {
	if err := sysutils.RunCommand("mount", "-o", "ro", device, prefix); err != nil {
		return errs.Wrap(errs.IoError, err, "mount boot partition")
	}
	m.boot = prefix
	m.entries = append(m.entries, entry{target: prefix})
	return nil
}

// MountLayoutEntries mounts every additional partition the descriptor
// names (spec.md §4.6: "for reading network profiles not placed on
// boot"), in the order given.
func (m *Mounts) MountLayoutEntries(entries []descriptor.LayoutEntry) error {
	for _, e := range entries {
		opt := "ro"
		if e.ReadWrite {
			opt = "rw"
		}
		if err := sysutils.RunCommand("mount", "-o", opt, e.Device, e.MountPath); err != nil {
			return errs.Wrap(errs.IoError, err, "mount "+e.Device)
		}
		m.entries = append(m.entries, entry{target: e.MountPath})
	}
	return nil
}

// BootPath joins the given relative path onto wherever the boot
// partition is currently mounted, the handle by which the flasher and
// the Boot Managers' Restore read boot-partition files (spec.md §4.6).
func (m *Mounts) BootPath(rel string) string {
	return filepath.Join(m.boot, rel)
}

// Close unmounts every tracked mount in reverse order, syncing before
// each unmount, and continues on error so one stuck mount does not
// prevent unwinding the rest. It returns the first error encountered,
// if any.
func (m *Mounts) Close() error {
	var firstErr error
	for i := len(m.entries) - 1; i >= 0; i-- {
		sysutils.Sync()
		if err := sysutils.RunCommand("umount", m.entries[i].target); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
	}
	m.entries = nil
	return firstErr
}
