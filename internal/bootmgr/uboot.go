package bootmgr

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mvo5/goconfigparser"

	"github.com/lxc-migrate/appliance-migrate/errs"
	"github.com/lxc-migrate/appliance-migrate/internal/backup"
	"github.com/lxc-migrate/appliance-migrate/internal/config"
	"github.com/lxc-migrate/appliance-migrate/internal/descriptor"
	"github.com/lxc-migrate/appliance-migrate/internal/migrateinfo"
	stage2mount "github.com/lxc-migrate/appliance-migrate/internal/stage2/mount"
	"github.com/lxc-migrate/appliance-migrate/internal/sysutils"
	"github.com/lxc-migrate/appliance-migrate/internal/topology"
)

// UBoot is the U-Boot Boot Manager implementation (spec.md §4.3).
// Staging writes a new uEnv.txt (strategy-dependent: name-pinned to a
// specific kernel uname, or manually composed) and copies kernel +
// initramfs under an MMC-indexed path, exactly as the teacher's
// uboot.ToggleRootFS/HandleAssets do for snappy's own A/B rootfs
// switch (bootloader_uboot.go), redirected here to arm the staged
// stage-2 initramfs instead of the other rootfs partition.
type UBoot struct {
	bootType BootType

	// bootRoot is the live boot partition mountpoint during stage 1
	// (e.g. "/boot"). relDir is the subdirectory within it holding
	// u-boot's files (e.g. "uboot").
	bootRoot string
	relDir   string
}

// NewUBoot constructs a U-Boot manager for the given payload and boot
// partition location.
func NewUBoot(bt BootType, bootRoot, relDir string) *UBoot {
	return &UBoot{bootType: bt, bootRoot: bootRoot, relDir: relDir}
}

func (u *UBoot) BootType() BootType { return u.bootType }

func (u *UBoot) configRel() string    { return filepath.Join(u.relDir, "uEnv.txt") }
func (u *UBoot) configAbs() string    { return filepath.Join(u.bootRoot, u.configRel()) }
func (u *UBoot) stageRelDir() string  { return filepath.Join(u.relDir, fmt.Sprintf("mmc%d", u.bootType.MMCIndex)) }
func (u *UBoot) stageAbsDir() string  { return filepath.Join(u.bootRoot, u.stageRelDir()) }

func (u *UBoot) BootmgrPath(insp *topology.Inspector) (*topology.PathInfo, error) {
	return insp.ResolvePath(filepath.Join(u.bootRoot, u.relDir))
}

// currentCmdline reads the presently-configured kernel cmdline out of
// uEnv.txt via goconfigparser, in the same idiom as the teacher's
// uboot.GetBootVar.
func (u *UBoot) currentCmdline() (string, error) {
	cfg := goconfigparser.New()
	cfg.AllowNoSectionHeader = true
	if err := cfg.ReadFile(u.configAbs()); err != nil {
		return "", nil
	}
	return cfg.Get("", "migrate_cmdline")
}

func (u *UBoot) CanMigrate(info *migrateinfo.MigrateInfo, cfg *config.Config, builder *descriptor.Builder, requiredKernelArch string) (bool, error) {
	if !sysutils.FileExists(u.configAbs()) {
		return false, nil
	}

	if u.bootType.UenvStrategy == StrategyUName && u.bootType.KernelUname == "" {
		return false, nil
	}

	if !kernelArchCompatible(requiredKernelArch, info.Arch) {
		return false, nil
	}

	required := fileSize(info.StagedKernel.Path) + fileSize(info.StagedInitramfs.Path) +
		fileSize(info.ApplianceImage.Path) + cfg.StagingSlackBytes

	free, err := sysutils.FreeBytes(u.bootRoot)
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

func (u *UBoot) Setup(info *migrateinfo.MigrateInfo, builder *descriptor.Builder, kernelCmdline string) error {
	pair, err := backup.Make(u.bootRoot, u.configRel())
	if err != nil {
		return err
	}
	builder.AddBackup(pair)

	if err := os.MkdirAll(u.stageAbsDir(), 0750); err != nil {
		return u.rollback(builder, errs.Wrap(errs.IoError, err, "create mmc stage directory"))
	}

	kernelDst := filepath.Join(u.stageAbsDir(), filepath.Base(info.StagedKernel.Path))
	if err := sysutils.CopyFile(info.StagedKernel.Path, kernelDst); err != nil {
		return u.rollback(builder, err)
	}

	initrdDst := filepath.Join(u.stageAbsDir(), filepath.Base(info.StagedInitramfs.Path))
	if err := sysutils.CopyFile(info.StagedInitramfs.Path, initrdDst); err != nil {
		return u.rollback(builder, err)
	}

	changes := []nameValueChange{
		{Name: "kernel_file", Value: mustRel(u.bootRoot, kernelDst)},
		{Name: "initrd_file", Value: mustRel(u.bootRoot, initrdDst)},
		{Name: "migrate_stage", Value: "armed"},
		{Name: "migrate_cmdline", Value: kernelCmdline},
	}
	if u.bootType.UenvStrategy == StrategyUName {
		changes = append(changes, nameValueChange{Name: "migrate_kernel_uname", Value: u.bootType.KernelUname})
	}

	if err := modifyNameValueFile(u.configAbs(), changes); err != nil {
		return u.rollback(builder, errs.Wrap(errs.CommitFailed, err, "rewrite uEnv.txt"))
	}

	builder.SetKernelCmdline(kernelCmdline)
	return nil
}

func (u *UBoot) rollback(builder *descriptor.Builder, cause error) error {
	_ = backup.RestoreAllAt(u.bootRoot, builder.Backups())
	if e, ok := cause.(*errs.Error); ok {
		return e
	}
	return errs.Wrap(errs.CommitFailed, cause, "u-boot setup failed, rolled back")
}

func (u *UBoot) Restore(mounts *stage2mount.Mounts, desc *descriptor.Descriptor) bool {
	root := mounts.BootPath("")
	return backup.RestoreAllAt(root, desc.BootBackups) == nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func mustRel(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}

func defaultKernelCmdline(info *migrateinfo.MigrateInfo) string {
	return "init=/lib/systemd/systemd ro panic=-1 fixrtc"
}
