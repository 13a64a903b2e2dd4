package bootmgr

import (
	"github.com/lxc-migrate/appliance-migrate/errs"
	"github.com/lxc-migrate/appliance-migrate/internal/config"
	"github.com/lxc-migrate/appliance-migrate/internal/descriptor"
	"github.com/lxc-migrate/appliance-migrate/internal/migrateinfo"
	stage2mount "github.com/lxc-migrate/appliance-migrate/internal/stage2/mount"
	"github.com/lxc-migrate/appliance-migrate/internal/topology"
)

// unimplemented is a shared stub for boot types the core recognizes
// but does not drive itself: the Windows boot manager variants are
// genuinely out of scope (spec.md §1: "platform-specific WMI/shell
// command invocation details" are an external collaborator's
// concern), not merely unfinished like Efi.
type unimplemented struct {
	bt BootType
}

func (u unimplemented) BootType() BootType { return u.bt }
func (u unimplemented) BootmgrPath(*topology.Inspector) (*topology.PathInfo, error) {
	return nil, errs.New(errs.NotImplemented, u.bt.Tag.String()+" boot manager is not implemented in this core")
}
func (u unimplemented) CanMigrate(*migrateinfo.MigrateInfo, *config.Config, *descriptor.Builder, string) (bool, error) {
	return false, errs.New(errs.NotImplemented, u.bt.Tag.String()+" boot manager is not implemented in this core")
}
func (u unimplemented) Setup(*migrateinfo.MigrateInfo, *descriptor.Builder, string) error {
	return errs.New(errs.NotImplemented, u.bt.Tag.String()+" boot manager is not implemented in this core")
}
func (u unimplemented) Restore(*stage2mount.Mounts, *descriptor.Descriptor) bool { return false }

// New constructs the concrete Manager for a BootType, dispatching by
// its Tag. This is the "match by tag" exhaustiveness spec.md §9 asks
// for in place of the teacher's open interface-per-struct dispatch
// (GetBootloader's linear scan over []bootLoader in
// wolfbox-snappy/partition/partition.go).
func New(bt BootType, bootRoot string) (Manager, error) {
	switch bt.Tag {
	case TagUBoot:
		return NewUBoot(bt, bootRoot, "uboot"), nil
	case TagGrub:
		return NewGrub(bootRoot, "grub", "/etc/grub.d"), nil
	case TagRaspi:
		return NewRaspi(bootRoot, false), nil
	case TagRaspi64:
		return NewRaspi(bootRoot, true), nil
	case TagEfi:
		return NewEfi(bootRoot), nil
	case TagMSWEfi, TagMSWBootMgr:
		return unimplemented{bt: bt}, nil
	default:
		return nil, errs.Newf(errs.Unsupported, "unrecognised boot type tag %v", bt.Tag)
	}
}
