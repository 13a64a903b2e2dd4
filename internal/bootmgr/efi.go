package bootmgr

import (
	"github.com/lxc-migrate/appliance-migrate/errs"
	"github.com/lxc-migrate/appliance-migrate/internal/config"
	"github.com/lxc-migrate/appliance-migrate/internal/descriptor"
	"github.com/lxc-migrate/appliance-migrate/internal/migrateinfo"
	stage2mount "github.com/lxc-migrate/appliance-migrate/internal/stage2/mount"
	"github.com/lxc-migrate/appliance-migrate/internal/topology"
)

// Efi is scaffolding, not an implementation (spec.md §4.3, §9): its
// CanMigrate always fails with errs.NotImplemented. The open question
// of whether EFI feasibility should instead fall back to GRUB is
// decided in SPEC_FULL.md §11 as "no" — a Device Profile names
// exactly one boot type (spec.md §4.2), and silently substituting a
// different one here would violate that contract. A real EFI
// implementation belongs here as a fifth concrete case, not an alias.
type Efi struct {
	bootRoot string
}

// NewEfi constructs the EFI stub.
func NewEfi(bootRoot string) *Efi {
	return &Efi{bootRoot: bootRoot}
}

func (e *Efi) BootType() BootType { return BootType{Tag: TagEfi} }

func (e *Efi) BootmgrPath(insp *topology.Inspector) (*topology.PathInfo, error) {
	return insp.ResolvePath(e.bootRoot)
}

func (e *Efi) CanMigrate(*migrateinfo.MigrateInfo, *config.Config, *descriptor.Builder, string) (bool, error) {
	return false, errs.New(errs.NotImplemented, "EFI boot manager is not implemented")
}

func (e *Efi) Setup(*migrateinfo.MigrateInfo, *descriptor.Builder, string) error {
	return errs.New(errs.NotImplemented, "EFI boot manager is not implemented")
}

func (e *Efi) Restore(*stage2mount.Mounts, *descriptor.Descriptor) bool {
	return false
}
