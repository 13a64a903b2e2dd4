// Package stage1 implements the Stage-1 Orchestrator (C4): the
// feasibility pipeline that probes the running system, stages the
// stage-2 payload onto the boot partition, writes the Stage-2
// Descriptor, and commits the boot change. Grounded on the overall
// shape of wolfbox-snappy/cmd/snappy-go's "Update" flow (probe, pick a
// part, act, reboot) and partition.go's RunWithOther (stage, then
// commit, rolling back on any failure before the point of no return).
package stage1

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/lxc-migrate/appliance-migrate/errs"
	"github.com/lxc-migrate/appliance-migrate/internal/backup"
	"github.com/lxc-migrate/appliance-migrate/internal/bootmgr"
	"github.com/lxc-migrate/appliance-migrate/internal/config"
	"github.com/lxc-migrate/appliance-migrate/internal/descriptor"
	"github.com/lxc-migrate/appliance-migrate/internal/devprofile"
	"github.com/lxc-migrate/appliance-migrate/internal/lockfile"
	"github.com/lxc-migrate/appliance-migrate/internal/logging"
	"github.com/lxc-migrate/appliance-migrate/internal/migrateinfo"
	"github.com/lxc-migrate/appliance-migrate/internal/sysutils"
	"github.com/lxc-migrate/appliance-migrate/internal/topology"
)

// stagingSubdir is where the orchestrator copies the appliance image
// on the boot partition, alongside whatever per-bootmanager location
// the BootManager stages the kernel/initramfs under.
const stagingSubdir = "migrate-staging"

// descriptorFilename is the well-known name of the Stage-2 Descriptor
// on the boot partition (spec.md §6), hardcoded into the staged
// initramfs's stage-2 entry point.
const descriptorFilename = "stage2-descriptor.toml"

// lockFilename guards the single-instance invariant (spec.md §4.4
// Concurrency): an exclusive lock on the descriptor path.
const lockFilename = descriptorFilename

// Request carries everything the caller (the migrate CLI command)
// supplies; everything else the orchestrator derives itself.
type Request struct {
	// SourceKernelPath and SourceInitramfsPath locate the stage-2
	// vehicle's kernel and initramfs before staging (built by the
	// extract collaborator, spec.md §1 Out of scope).
	SourceKernelPath    string
	SourceInitramfsPath string

	// ApplianceImagePath locates the target appliance disk image
	// before staging onto the boot partition.
	ApplianceImagePath string

	// ApplianceConfigPath, NetworkProfilePaths and WifiProfilePaths
	// are left in place; only referenced, never copied (spec.md §4.4
	// step 5 stages kernel + initramfs + image only).
	ApplianceConfigPath string
	NetworkProfilePaths []string
	WifiProfilePaths    []string

	// FlashDevice is the whole-disk device stage 2 will overwrite.
	FlashDevice string

	// ApplianceConfigPartitionIndex is the 1-based partition number the
	// appliance image presents for config deposit after flashing.
	// Defaults to 1 when zero.
	ApplianceConfigPartitionIndex int

	// FailureMode overrides Config.DefaultFailureMode when non-empty.
	FailureMode descriptor.FailureMode

	// DryRun runs every feasibility check (steps 1-4) without staging
	// any file or calling setup (SPEC_FULL.md §6, supplemented
	// feature: "migrate --dry-run").
	DryRun bool
}

// Orchestrator runs the feasibility pipeline once per Run call. It
// owns no long-lived state beyond the Inspector handle threaded in
// at construction (spec.md §9 REDESIGN FLAGS: explicit handle, not a
// package singleton).
type Orchestrator struct {
	Config    *config.Config
	Inspector *topology.Inspector
	Registry  *devprofile.Registry
}

// New constructs an Orchestrator from its three collaborators.
func New(cfg *config.Config, insp *topology.Inspector, reg *devprofile.Registry) *Orchestrator {
	return &Orchestrator{Config: cfg, Inspector: insp, Registry: reg}
}

// Run executes the full stage-1 algorithm (spec.md §4.4). On success
// in non-dry-run mode, the boot change has been committed: callers
// must reboot immediately, since the orchestrator itself never does
// (spec.md §6: exit codes are reserved for pre-commit failure; a
// successful run is handed back to the caller to issue the reboot).
func (o *Orchestrator) Run(req Request) (*descriptor.Descriptor, error) {
	if err := sysutils.RequireTools(o.Config.RequiredTools); err != nil {
		return nil, err
	}

	// Step 1: probe identity.
	info := migrateinfo.NewBuilder()
	log := logging.WithRunID(info.RunID().String())
	log.Info("stage1: probing system identity")

	osName := probeOSName()
	arch := probeArch()
	efiBoot := probeEFIBoot()
	secureBoot := probeSecureBoot()
	hints := probeBoardHints()

	info.SetOSName(osName).SetArch(arch).SetEFIBoot(efiBoot).SetSecureBoot(secureBoot)

	// Step 2: snapshot topology, resolve every required path.
	applianceImagePI, err := o.Inspector.ResolvePath(req.ApplianceImagePath)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, err, "resolve appliance image path")
	}
	applianceConfigPI, err := o.Inspector.ResolvePath(req.ApplianceConfigPath)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, err, "resolve appliance config path")
	}
	kernelPI, err := o.Inspector.ResolvePath(req.SourceKernelPath)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, err, "resolve staged kernel path")
	}
	initramfsPI, err := o.Inspector.ResolvePath(req.SourceInitramfsPath)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, err, "resolve staged initramfs path")
	}

	flashDrive, _, err := o.Inspector.ResolvePartition(req.FlashDevice)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, err, "resolve flash device")
	}
	if sameDrive(applianceImagePI, flashDrive) || sameDrive(kernelPI, flashDrive) {
		return nil, errs.New(errs.InvalidParameter, "a required file lives on the flash target itself")
	}

	networkPIs, err := resolveAll(o.Inspector, req.NetworkProfilePaths)
	if err != nil {
		return nil, err
	}
	wifiPIs, err := resolveAll(o.Inspector, req.WifiProfilePaths)
	if err != nil {
		return nil, err
	}

	info.SetApplianceImage(applianceImagePI).
		SetApplianceConfig(applianceConfigPI).
		SetStagedKernel(kernelPI).
		SetStagedInitramfs(initramfsPI).
		SetNetworkProfiles(networkPIs).
		SetWifiProfiles(wifiPIs)

	// Step 3: device profile lookup.
	profile, err := o.Registry.Lookup(arch, hints)
	if err != nil {
		return nil, err
	}
	info.SetDeviceSlug(profile.Slug)

	if flashDrive.SizeBytes < profile.MinDriveSizeBytes {
		return nil, errs.Newf(errs.InsufficientSpace,
			"flash target %s is smaller than the %s profile's minimum of %d bytes",
			req.FlashDevice, profile.Slug, profile.MinDriveSizeBytes)
	}

	// WorkDir, for this run, is the appliance image's own containing
	// mount: every staged-only-by-reference file must come from
	// somewhere the orchestrator can already see.
	info.SetWorkDir(applianceImagePI)

	bt, err := buildBootType(profile, o.Config)
	if err != nil {
		return nil, err
	}

	bootRoot := bootRootFor(bt.Tag, profile)
	manager, err := bootmgr.New(bt, bootRoot)
	if err != nil {
		return nil, err
	}

	descBuilder := descriptor.NewBuilder()
	descBuilder.SetRunID(info.RunID())
	descBuilder.SetBootType(bt.Tag.String(), bootRoot, bt.MMCIndex)

	failureMode := req.FailureMode
	if failureMode == "" {
		failureMode = descriptor.FailureMode(o.Config.DefaultFailureMode)
	}
	descBuilder.SetFailureMode(failureMode)
	descBuilder.SetLog(o.Config.LogDevice, o.Config.LogLevel)
	descBuilder.SetFlashDevice(req.FlashDevice)
	descBuilder.SetExpectedFlashDeviceSizeBytes(flashDrive.SizeBytes)
	configPartitionIndex := req.ApplianceConfigPartitionIndex
	if configPartitionIndex == 0 {
		configPartitionIndex = 1
	}
	descBuilder.SetApplianceConfigPartitionIndex(configPartitionIndex)

	// Step 4: feasibility.
	migrateInfo, err := info.Build()
	if err != nil {
		return nil, err
	}

	ok, err := manager.CanMigrate(migrateInfo, o.Config, descBuilder, profile.RequiredKernelArch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.Unsupported, "boot manager reports migration is not feasible on this host")
	}

	if req.DryRun {
		log.Info("stage1: dry run, feasibility confirmed, no files staged")
		return nil, nil
	}

	bootmgrPI, err := manager.BootmgrPath(o.Inspector)
	if err != nil {
		return nil, err
	}

	lock, err := lockfile.Acquire(filepath.Join(bootmgrPI.Mountpoint, lockFilename))
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	// Step 5: stage the appliance image onto the boot partition.
	// CanMigrate already checked free space, but that ran before the
	// lock was held; recheck now that no concurrent run can interfere.
	required := fileSizeOf(req.ApplianceImagePath) + fileSizeOf(req.SourceKernelPath) +
		fileSizeOf(req.SourceInitramfsPath) + o.Config.StagingSlackBytes
	free, err := sysutils.FreeBytes(bootmgrPI.Mountpoint)
	if err != nil {
		return nil, err
	}
	if free < required {
		return nil, errs.Newf(errs.InsufficientSpace,
			"boot partition has %d bytes free, need %d", free, required)
	}

	stagingDir := filepath.Join(bootmgrPI.Mountpoint, stagingSubdir)
	if err := os.MkdirAll(stagingDir, 0750); err != nil {
		return nil, errs.Wrap(errs.IoError, err, "create staging directory")
	}
	stagedImagePath := filepath.Join(stagingDir, filepath.Base(req.ApplianceImagePath))
	if err := sysutils.CopyFile(req.ApplianceImagePath, stagedImagePath); err != nil {
		cleanupStaging(stagingDir)
		return nil, err
	}
	descBuilder.SetImagePath(relOrAbs(stagedImagePath, bootmgrPI.Mountpoint))

	// Reference (not copy) the appliance config, network, and WiFi
	// profiles. Each one not already on the boot partition gets an
	// expected-layout entry so the Stage-2 Mount Manager can reach it.
	seenLayout := map[string]bool{}
	descBuilder.SetApplianceConfigPath(referencePath(descBuilder, applianceConfigPI, bootmgrPI, seenLayout))
	descBuilder.SetNetworkProfiles(referenceAll(descBuilder, networkPIs, bootmgrPI, seenLayout))
	descBuilder.SetWifiProfiles(referenceAll(descBuilder, wifiPIs, bootmgrPI, seenLayout))

	if bootmgrPI.Partition.UUID != uuid.Nil {
		descBuilder.SetExpectedBootPartitionUUID(bootmgrPI.Partition.UUID)
	}

	// Step 6 happens inside Setup below: the manager populates the
	// kernel cmdline and backup list on descBuilder as it stages.
	// Step 7: commit. Point of no return.
	log.Info("stage1: committing boot configuration change")
	if err := manager.Setup(migrateInfo, descBuilder, descBuilder.KernelCmdline()); err != nil {
		cleanupStaging(stagingDir)
		return nil, errs.Wrap(errs.CommitFailed, err, "boot manager setup failed")
	}

	desc := descBuilder.Finish()
	descPath := filepath.Join(bootmgrPI.Mountpoint, descriptorFilename)
	if err := descriptor.Save(desc, descPath); err != nil {
		// The boot change is already committed, but with no descriptor
		// on disk stage 2 can never reconstruct a manager to restore
		// it: it would hit default_exit and reboot unconditionally,
		// leaving a non-one-shot bootloader (UBoot, Raspi) permanently
		// armed with nothing to complete it. Restore here, the same
		// way each Boot Manager's own rollback already does, before
		// surfacing the error.
		if restoreErr := backup.RestoreAllAt(bootmgrPI.Mountpoint, descBuilder.Backups()); restoreErr != nil {
			log.WithField("error", restoreErr).Warn("stage1: boot configuration restore after descriptor save failure was not fully successful")
		}
		return nil, errs.Wrap(errs.CommitFailed, err, "persist stage-2 descriptor after commit")
	}

	log.Info("stage1: migration armed, ready to reboot into stage 2")
	return desc, nil
}

func sameDrive(pi *topology.PathInfo, drive *topology.Drive) bool {
	return pi.Drive.Device() == drive.Device()
}

func resolveAll(insp *topology.Inspector, paths []string) ([]*topology.PathInfo, error) {
	var out []*topology.PathInfo
	for _, p := range paths {
		pi, err := insp.ResolvePath(p)
		if err != nil {
			return nil, errs.Wrap(errs.NotFound, err, "resolve "+p)
		}
		out = append(out, pi)
	}
	return out, nil
}

// referencePath returns the descriptor-facing path for a file. Files
// already on the boot partition are recorded relative to its
// mountpoint (the descriptor's only portable frame of reference,
// spec.md §3); files on any other partition are recorded at their
// original absolute path, and that partition is added to the
// descriptor's expected layout so the Stage-2 Mount Manager recreates
// the same mountpoint.
func referencePath(b *descriptor.Builder, pi, bootmgrPI *topology.PathInfo, seen map[string]bool) string {
	if pi.Partition.Device() == bootmgrPI.Partition.Device() {
		return relOrAbs(pi.Path, bootmgrPI.Mountpoint)
	}
	addLayoutEntry(b, pi, seen)
	return pi.Path
}

func referenceAll(b *descriptor.Builder, pis []*topology.PathInfo, bootmgrPI *topology.PathInfo, seen map[string]bool) []string {
	var out []string
	for _, pi := range pis {
		out = append(out, referencePath(b, pi, bootmgrPI, seen))
	}
	return out
}

// addLayoutEntry avoids adding the same non-boot partition to the
// expected layout twice within one Run call.
func addLayoutEntry(b *descriptor.Builder, pi *topology.PathInfo, seen map[string]bool) {
	dev := pi.Partition.Device()
	if seen[dev] {
		return
	}
	seen[dev] = true
	b.AddLayoutEntry(descriptor.LayoutEntry{
		Device:    dev,
		MountPath: pi.Mountpoint,
		FSType:    pi.FSType,
		ReadWrite: false,
	})
}

func relOrAbs(path, mountpoint string) string {
	rel, err := filepath.Rel(mountpoint, path)
	if err != nil || rel == "." {
		return path
	}
	return rel
}

func fileSizeOf(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func cleanupStaging(dir string) {
	os.RemoveAll(dir)
}

// bootRootFor picks the mountpoint a Boot Manager interprets its own
// paths relative to: the Raspberry Pi manager treats it as the
// firmware FAT partition directly, while U-Boot and GRUB treat it as
// the parent boot mountpoint (spec.md §4.3).
func bootRootFor(tag bootmgr.Tag, profile *devprofile.DeviceProfile) string {
	switch tag {
	case bootmgr.TagRaspi, bootmgr.TagRaspi64:
		return filepath.Join("/boot", profile.BootLayoutHints["boot_dir"])
	default:
		return "/boot"
	}
}

// buildBootType assembles the closed BootType variant appropriate to
// the profile's (single) supported boot type (spec.md §4.4 step 4),
// applying the MMC index override from Config when present.
func buildBootType(profile *devprofile.DeviceProfile, cfg *config.Config) (bootmgr.BootType, error) {
	if len(profile.SupportedBootTypes) == 0 {
		return bootmgr.BootType{}, errs.Newf(errs.Unsupported, "device profile %s names no supported boot type", profile.Slug)
	}
	tag := profile.SupportedBootTypes[0]

	bt := bootmgr.BootType{Tag: tag}
	switch tag {
	case bootmgr.TagUBoot:
		mmc := 0
		if idx, ok := profile.BootLayoutHints["mmc_index"]; ok {
			if parsed, err := parseIntDefault(idx, 0); err == nil {
				mmc = parsed
			}
		}
		if cfg.MMCIndexOverride != nil {
			mmc = *cfg.MMCIndexOverride
		}
		bt.MMCIndex = mmc
		if uname, ok := profile.BootLayoutHints["kernel_uname"]; ok && uname != "" {
			bt.UenvStrategy = bootmgr.StrategyUName
			bt.KernelUname = uname
		} else {
			bt.UenvStrategy = bootmgr.StrategyManual
		}
	}
	return bt, nil
}

func parseIntDefault(s string, def int) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def, err
	}
	return n, nil
}
