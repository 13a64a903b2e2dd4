package bootmgr

import (
	"github.com/lxc-migrate/appliance-migrate/internal/config"
	"github.com/lxc-migrate/appliance-migrate/internal/descriptor"
	"github.com/lxc-migrate/appliance-migrate/internal/migrateinfo"
	stage2mount "github.com/lxc-migrate/appliance-migrate/internal/stage2/mount"
	"github.com/lxc-migrate/appliance-migrate/internal/topology"
)

// Manager is the single polymorphic contract every concrete boot
// mechanism implements (spec.md §4.3).
type Manager interface {
	// BootType reports the closed tagged variant this Manager
	// implements.
	BootType() BootType

	// BootmgrPath resolves where this Manager's active bootloader
	// files live.
	BootmgrPath(insp *topology.Inspector) (*topology.PathInfo, error)

	// CanMigrate returns true only if every feasibility condition in
	// spec.md §4.3 holds, including that requiredKernelArch (the
	// target device profile's required_kernel_arch, empty if the
	// profile does not constrain it) matches info.Arch. On true, it
	// populates boot-related fields of builder; on false, it must
	// leave builder untouched.
	CanMigrate(info *migrateinfo.MigrateInfo, cfg *config.Config, builder *descriptor.Builder, requiredKernelArch string) (bool, error)

	// Setup performs the destructive bootloader change: the point of
	// no return (spec.md §4.4). Every touched file must be backed up
	// via builder.AddBackup before mutation. If Setup fails partway,
	// it must use its own recorded backups to restore before
	// returning the error: callers may assume either full success or
	// full rollback.
	Setup(info *migrateinfo.MigrateInfo, builder *descriptor.Builder, kernelCmdline string) error

	// Restore is invoked from stage 2 on failure: it rolls the boot
	// configuration back to its pre-migration state using the
	// backups recorded in the descriptor. Best-effort: it reports
	// success only if every backup pair was restored.
	Restore(mounts *stage2mount.Mounts, desc *descriptor.Descriptor) bool
}

// kernelArchCompatible reports whether the kernel being staged is
// compatible with the target device, per spec.md §4.3's "the kernel
// we would install is compatible" feasibility condition. An empty
// requiredArch means the device profile does not constrain it.
func kernelArchCompatible(requiredArch, infoArch string) bool {
	return requiredArch == "" || requiredArch == infoArch
}
