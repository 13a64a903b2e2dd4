package bootmgr

import (
	"fmt"
	"path/filepath"

	"github.com/lxc-migrate/appliance-migrate/errs"
	"github.com/lxc-migrate/appliance-migrate/internal/backup"
	"github.com/lxc-migrate/appliance-migrate/internal/config"
	"github.com/lxc-migrate/appliance-migrate/internal/descriptor"
	"github.com/lxc-migrate/appliance-migrate/internal/migrateinfo"
	stage2mount "github.com/lxc-migrate/appliance-migrate/internal/stage2/mount"
	"github.com/lxc-migrate/appliance-migrate/internal/sysutils"
	"github.com/lxc-migrate/appliance-migrate/internal/topology"
)

// Grub is the GRUB Boot Manager implementation (spec.md §4.3).
// Staging emits a one-shot next-boot entry via grub-reboot rather than
// a permanent default, so a failure to reach stage 2 naturally
// reverts on the next boot without any explicit restore — the same
// "try, then fall back automatically" property the teacher's
// uboot.MarkCurrentBootSuccessful/bootloaderBootmodeTry achieves
// through its own uEnv.txt state machine
// (bootloader_uboot.go/bootloader_grub.go), here obtained for free
// from grub-reboot's own semantics.
type Grub struct {
	bootType BootType

	bootRoot string // live "/boot" mountpoint during stage 1
	relDir   string // "grub"
	etcGrubD string // "/etc/grub.d"

	entryName string
}

const grubStageScriptName = "40_migrate_stage2"

// NewGrub constructs a GRUB manager.
func NewGrub(bootRoot, relDir, etcGrubD string) *Grub {
	return &Grub{
		bootType:  BootType{Tag: TagGrub},
		bootRoot:  bootRoot,
		relDir:    relDir,
		etcGrubD:  etcGrubD,
		entryName: "appliance-migrate-stage2",
	}
}

func (g *Grub) BootType() BootType { return g.bootType }

func (g *Grub) configAbs() string    { return filepath.Join(g.bootRoot, g.relDir, "grub.cfg") }
func (g *Grub) scriptAbs() string    { return filepath.Join(g.etcGrubD, grubStageScriptName) }
func (g *Grub) scriptRel(root string) string {
	rel, err := filepath.Rel(root, g.scriptAbs())
	if err != nil {
		return g.scriptAbs()
	}
	return rel
}

func (g *Grub) BootmgrPath(insp *topology.Inspector) (*topology.PathInfo, error) {
	return insp.ResolvePath(filepath.Join(g.bootRoot, g.relDir))
}

func (g *Grub) CanMigrate(info *migrateinfo.MigrateInfo, cfg *config.Config, builder *descriptor.Builder, requiredKernelArch string) (bool, error) {
	if !sysutils.FileExists(g.configAbs()) {
		return false, nil
	}
	if !kernelArchCompatible(requiredKernelArch, info.Arch) {
		return false, nil
	}
	if err := sysutils.RequireTools([]string{"update-grub", "grub-reboot"}); err != nil {
		return false, err
	}

	required := fileSize(info.StagedKernel.Path) + fileSize(info.StagedInitramfs.Path) +
		fileSize(info.ApplianceImage.Path) + cfg.StagingSlackBytes
	free, err := sysutils.FreeBytes(g.bootRoot)
	if err != nil {
		return false, errs.Wrap(errs.IoError, err, "statfs boot partition")
	}
	if free < required {
		return false, errs.Newf(errs.InsufficientSpace,
			"boot partition has %d bytes free, need %d", free, required)
	}

	if builder.KernelCmdline() == "" {
		builder.SetKernelCmdline(defaultKernelCmdline(info))
	}
	return true, nil
}

func (g *Grub) Setup(info *migrateinfo.MigrateInfo, builder *descriptor.Builder, kernelCmdline string) error {
	// etcGrubD is not itself on the boot partition, so its backup
	// pair is recorded relative to it directly rather than to
	// bootRoot: the Stage-2 Descriptor only needs to restore files
	// the Boot Manager itself touched, and this one never needs to
	// be read back by stage 2, only removed on rollback.
	pair, err := backup.Make(g.etcGrubD, grubStageScriptName)
	if err != nil {
		return err
	}
	builder.AddBackup(pair)

	script := g.renderScript(info, kernelCmdline)
	if err := sysutils.AtomicWriteFile(g.scriptAbs(), []byte(script), 0755); err != nil {
		return g.rollback(builder, err)
	}

	if err := sysutils.RunCommand("update-grub"); err != nil {
		return g.rollback(builder, errs.Wrap(errs.CommitFailed, err, "update-grub"))
	}

	if err := sysutils.RunCommand("grub-reboot", g.entryName); err != nil {
		return g.rollback(builder, errs.Wrap(errs.CommitFailed, err, "grub-reboot"))
	}

	builder.SetKernelCmdline(kernelCmdline)
	return nil
}

func (g *Grub) renderScript(info *migrateinfo.MigrateInfo, kernelCmdline string) string {
	return fmt.Sprintf(`#!/bin/sh
exec cat <<EOF
menuentry '%s' {
	linux %s %s
	initrd %s
}
EOF
`, g.entryName, info.StagedKernel.Path, kernelCmdline, info.StagedInitramfs.Path)
}

func (g *Grub) rollback(builder *descriptor.Builder, cause error) error {
	_ = backup.RestoreAllAt(g.etcGrubD, builder.Backups())
	_ = sysutils.RunCommand("update-grub")
	if e, ok := cause.(*errs.Error); ok {
		return e
	}
	return errs.Wrap(errs.CommitFailed, cause, "grub setup failed, rolled back")
}

func (g *Grub) Restore(mounts *stage2mount.Mounts, desc *descriptor.Descriptor) bool {
	// grub-reboot's one-shot pointer already reverts to the permanent
	// default on the very next boot with no action required; this
	// only needs to clean up the custom menu entry, generalizing the
	// teacher's GRUB MarkCurrentBootSuccessful (which simply resets
	// the bootmode variable back to its success value).
	root := mounts.BootPath("/etc/grub.d")
	ok := backup.RestoreAllAt(root, desc.BootBackups) == nil
	_ = sysutils.RunCommand("update-grub")
	return ok
}
