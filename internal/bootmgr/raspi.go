package bootmgr

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lxc-migrate/appliance-migrate/errs"
	"github.com/lxc-migrate/appliance-migrate/internal/backup"
	"github.com/lxc-migrate/appliance-migrate/internal/config"
	"github.com/lxc-migrate/appliance-migrate/internal/descriptor"
	"github.com/lxc-migrate/appliance-migrate/internal/migrateinfo"
	stage2mount "github.com/lxc-migrate/appliance-migrate/internal/stage2/mount"
	"github.com/lxc-migrate/appliance-migrate/internal/sysutils"
	"github.com/lxc-migrate/appliance-migrate/internal/topology"
)

// Raspi is the Raspberry Pi firmware Boot Manager implementation
// (spec.md §4.3): it edits config.txt/cmdline.txt on the firmware FAT
// partition, backing up originals, following the same atomic
// name=value rewrite discipline the teacher applies to uEnv.txt
// (bootloader_uboot.go's modifyNameValueFile/atomicFileUpdate), since
// config.txt is the same shape of file. The Tag distinguishes 32-bit
// (Raspi) from 64-bit (Raspi64) kernels; both share this
// implementation since the firmware config format is identical.
type Raspi struct {
	bootType BootType
	bootRoot string // live firmware partition mountpoint, e.g. "/boot/firmware"
}

// NewRaspi constructs a Raspberry Pi manager. is64 selects the
// Raspi64 tag over Raspi.
func NewRaspi(bootRoot string, is64 bool) *Raspi {
	tag := TagRaspi
	if is64 {
		tag = TagRaspi64
	}
	return &Raspi{bootType: BootType{Tag: tag}, bootRoot: bootRoot}
}

func (r *Raspi) BootType() BootType { return r.bootType }

func (r *Raspi) configRel() string   { return "config.txt" }
func (r *Raspi) cmdlineRel() string  { return "cmdline.txt" }
func (r *Raspi) configAbs() string   { return filepath.Join(r.bootRoot, r.configRel()) }
func (r *Raspi) cmdlineAbs() string  { return filepath.Join(r.bootRoot, r.cmdlineRel()) }

func (r *Raspi) BootmgrPath(insp *topology.Inspector) (*topology.PathInfo, error) {
	return insp.ResolvePath(r.bootRoot)
}

func (r *Raspi) CanMigrate(info *migrateinfo.MigrateInfo, cfg *config.Config, builder *descriptor.Builder, requiredKernelArch string) (bool, error) {
	if !sysutils.FileExists(r.configAbs()) || !sysutils.FileExists(r.cmdlineAbs()) {
		return false, nil
	}
	if !kernelArchCompatible(requiredKernelArch, info.Arch) {
		return false, nil
	}

	required := fileSize(info.StagedKernel.Path) + fileSize(info.StagedInitramfs.Path) +
		fileSize(info.ApplianceImage.Path) + cfg.StagingSlackBytes
	free, err := sysutils.FreeBytes(r.bootRoot)
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

func (r *Raspi) Setup(info *migrateinfo.MigrateInfo, builder *descriptor.Builder, kernelCmdline string) error {
	configPair, err := backup.Make(r.bootRoot, r.configRel())
	if err != nil {
		return err
	}
	builder.AddBackup(configPair)

	cmdlinePair, err := backup.Make(r.bootRoot, r.cmdlineRel())
	if err != nil {
		return r.rollback(builder, err)
	}
	builder.AddBackup(cmdlinePair)

	kernelName := filepath.Base(info.StagedKernel.Path)
	initrdName := filepath.Base(info.StagedInitramfs.Path)

	if err := sysutils.CopyFile(info.StagedKernel.Path, filepath.Join(r.bootRoot, kernelName)); err != nil {
		return r.rollback(builder, err)
	}
	if err := sysutils.CopyFile(info.StagedInitramfs.Path, filepath.Join(r.bootRoot, initrdName)); err != nil {
		return r.rollback(builder, err)
	}

	changes := []nameValueChange{
		{Name: "kernel", Value: kernelName},
		{Name: "initramfs", Value: initrdName + " followkernel"},
	}
	if err := modifyNameValueFile(r.configAbs(), changes); err != nil {
		return r.rollback(builder, errs.Wrap(errs.CommitFailed, err, "rewrite config.txt"))
	}

	if err := rewriteCmdlineTokens(r.cmdlineAbs(), map[string]string{}, kernelCmdline); err != nil {
		return r.rollback(builder, errs.Wrap(errs.CommitFailed, err, "rewrite cmdline.txt"))
	}

	builder.SetKernelCmdline(kernelCmdline)
	return nil
}

func (r *Raspi) rollback(builder *descriptor.Builder, cause error) error {
	_ = backup.RestoreAllAt(r.bootRoot, builder.Backups())
	if e, ok := cause.(*errs.Error); ok {
		return e
	}
	return errs.Wrap(errs.CommitFailed, cause, "raspberry pi setup failed, rolled back")
}

func (r *Raspi) Restore(mounts *stage2mount.Mounts, desc *descriptor.Descriptor) bool {
	root := mounts.BootPath("")
	return backup.RestoreAllAt(root, desc.BootBackups) == nil
}

// rewriteCmdlineTokens replaces cmdline.txt's single space-separated
// line wholesale with newLine, keeping the file a single line as the
// firmware requires. extra is reserved for future token-level
// surgery; the whole-line replacement is sufficient for staging a
// cmdline this core fully controls.
func rewriteCmdlineTokens(path string, extra map[string]string, newLine string) error {
	var tokens []string
	tokens = append(tokens, strings.Fields(newLine)...)
	for k, v := range extra {
		tokens = append(tokens, fmt.Sprintf("%s=%s", k, v))
	}
	return sysutils.AtomicWriteFile(path, []byte(strings.Join(tokens, " ")+"\n"), 0644)
}
