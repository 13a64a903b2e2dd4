// Package flash implements the Stage-2 Flasher (C7): the destructive
// whole-disk write, post-flash config deposit, and reboot trigger.
// Grounded on wolfbox-snappy/partition/partition.go's
// handleBootloader/runInstallUpdateHook write-then-sync-then-reboot
// shape, generalized from "write the new rootfs to an existing
// partition" to "overwrite the entire block device with a self-
// bootable image."
package flash

import (
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/lxc-migrate/appliance-migrate/errs"
	"github.com/lxc-migrate/appliance-migrate/internal/descriptor"
	"github.com/lxc-migrate/appliance-migrate/internal/logging"
	stage2mount "github.com/lxc-migrate/appliance-migrate/internal/stage2/mount"
	"github.com/lxc-migrate/appliance-migrate/internal/sysutils"
)

// syncEvery is how many bytes the flasher writes between periodic
// syncs (spec.md §4.7 step 3: "periodically sync").
const syncEvery = 32 * 1024 * 1024

// sizeTolerance bounds how much the flash target's live size may
// differ from the size the descriptor recorded during stage 1 before
// stage 2 refuses to write to it (spec.md §4.7 step 1). A few MiB of
// slack absorbs alignment/rounding differences between the size
// lsblk reported in stage 1 and BLKGETSIZE64 in stage 2, while still
// catching a device name reused by a materially
// different physical disk.
const sizeTolerance = 8 * 1024 * 1024

// Flasher performs the write. It holds no state across calls; the
// Descriptor is the only input that matters.
type Flasher struct{}

// New returns a ready-to-use Flasher.
func New() *Flasher { return &Flasher{} }

// PreStageConfig copies the appliance config, network-profile and
// WiFi-profile files out of their currently-mounted source partitions
// into stageDir (expected to be tmpfs), before Flash overwrites the
// disk those partitions live on. The Stage-2 Mount Manager's mounts
// are only valid up to this point: once Flash starts writing, any
// source partition sharing the flash target's physical drive is
// destroyed mid-read.
func (f *Flasher) PreStageConfig(desc *descriptor.Descriptor, mounts *stage2mount.Mounts, stageDir string) error {
	if err := os.MkdirAll(stageDir, 0700); err != nil {
		return errs.Wrap(errs.IoError, err, "create config staging directory")
	}

	if err := stageOne(desc.ApplianceConfigPath, mounts, stageDir); err != nil {
		return errs.Wrap(errs.IoError, err, "stage appliance config")
	}
	for _, p := range desc.NetworkProfilePaths {
		if err := stageOne(p, mounts, stageDir); err != nil {
			return errs.Wrap(errs.IoError, err, "stage network profile "+p)
		}
	}
	for _, p := range desc.WifiProfilePaths {
		if err := stageOne(p, mounts, stageDir); err != nil {
			return errs.Wrap(errs.IoError, err, "stage wifi profile "+p)
		}
	}
	return nil
}

func stageOne(path string, mounts *stage2mount.Mounts, stageDir string) error {
	return sysutils.CopyFile(resolveSource(path, mounts), filepath.Join(stageDir, filepath.Base(path)))
}

// resolveSource maps a descriptor path back to where it currently
// lives: paths on the boot partition are recorded relative to it
// (backup.Pair's convention, see internal/backup), everything else is
// recorded as the original absolute path, reachable because the
// Stage-2 Mount Manager recreated that same mountpoint from the
// descriptor's expected layout.
func resolveSource(path string, mounts *stage2mount.Mounts) string {
	if filepath.IsAbs(path) {
		return path
	}
	return mounts.BootPath(path)
}

// Flash performs the destructive write of spec.md §4.7: validate the
// target, copy the image verbatim, reread the partition table, then
// deposit the files PreStageConfig staged onto the freshly-flashed
// appliance's config partition. It never writes to any device other
// than desc.FlashDevice (spec.md §8 testable property).
func (f *Flasher) Flash(desc *descriptor.Descriptor, mounts *stage2mount.Mounts, stageDir string) error {
	log := logging.WithRunID(desc.RunID)

	log.Infof("stage2: validating flash target %s", desc.FlashDevice)
	if err := f.validateTarget(desc); err != nil {
		return err
	}

	imagePath := resolveSource(desc.ImagePath, mounts)
	image, err := os.Open(imagePath)
	if err != nil {
		return errs.Wrap(errs.IoError, err, "open appliance image")
	}
	defer image.Close()

	target, err := os.OpenFile(desc.FlashDevice, os.O_WRONLY, 0)
	if err != nil {
		return errs.Wrap(errs.IoError, err, "open flash target")
	}
	defer target.Close()

	log.Info("stage2: writing appliance image")
	if err := f.writeSequential(target, image); err != nil {
		return errs.Wrap(errs.IoError, err, "write appliance image")
	}

	sysutils.Sync()

	if err := sysutils.RunCommand("partprobe", desc.FlashDevice); err != nil {
		return errs.Wrap(errs.IoError, err, "reread partition table")
	}

	if err := f.depositConfig(desc, stageDir); err != nil {
		return err
	}

	log.Info("stage2: flash complete, triggering reboot")
	return nil
}

// validateTarget refuses to write to anything that is not a whole
// block device, or that the descriptor itself lists as a mount source
// (which would mean flashing over a partition stage 2 still needs).
func (f *Flasher) validateTarget(desc *descriptor.Descriptor) error {
	fi, err := os.Stat(desc.FlashDevice)
	if err != nil {
		return errs.Wrap(errs.NotFound, err, "stat flash target")
	}
	if fi.Mode()&os.ModeDevice == 0 || fi.Mode()&os.ModeCharDevice != 0 {
		return errs.Newf(errs.InvalidParameter, "%s is not a block device", desc.FlashDevice)
	}
	if resolved, err := filepath.EvalSymlinks(desc.FlashDevice); err == nil &&
		sysutils.FileExists(filepath.Join("/sys/class/block", filepath.Base(resolved), "partition")) {
		return errs.Newf(errs.InvalidParameter, "%s is a partition, not a whole-disk device", desc.FlashDevice)
	}

	actual, err := sysutils.BlockDeviceSize(desc.FlashDevice)
	if err != nil {
		return err
	}

	if desc.ExpectedFlashDeviceSizeBytes > 0 && !sizeWithinTolerance(actual, desc.ExpectedFlashDeviceSizeBytes) {
		return errs.Newf(errs.InvalidParameter,
			"flash target %s is %d bytes, descriptor expected %d (outside %d byte tolerance); device identity may have changed across reboot",
			desc.FlashDevice, actual, desc.ExpectedFlashDeviceSizeBytes, sizeTolerance)
	}

	for _, entry := range desc.ExpectedLayout {
		if entry.Device == desc.FlashDevice {
			return errs.Newf(errs.InvalidParameter,
				"flash target %s also appears in the expected layout; refusing to flash a mounted device", desc.FlashDevice)
		}
	}
	return nil
}

// sizeWithinTolerance reports whether actual is within sizeTolerance
// bytes of expected.
func sizeWithinTolerance(actual, expected int64) bool {
	diff := actual - expected
	if diff < 0 {
		diff = -diff
	}
	return diff <= sizeTolerance
}

// writeSequential copies src to dst verbatim, syncing every syncEvery
// bytes, with no retry on a write error (spec.md §4.7 step 3: "no
// partial retries mid-stream are attempted").
func (f *Flasher) writeSequential(dst *os.File, src io.Reader) error {
	buf := make([]byte, 1024*1024)
	var sinceSync int64

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			sinceSync += int64(n)
			if sinceSync >= syncEvery {
				sysutils.Sync()
				sinceSync = 0
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// depositConfig mounts the freshly-flashed appliance's config
// partition, copies every file PreStageConfig staged into it, syncs,
// and unmounts (spec.md §4.7 step 4).
func (f *Flasher) depositConfig(desc *descriptor.Descriptor, stageDir string) error {
	partDevice := partitionDevice(desc.FlashDevice, desc.ApplianceConfigPartitionIndex)
	mountPoint := filepath.Join(stageDir, ".appliance-config-mount")
	if err := os.MkdirAll(mountPoint, 0700); err != nil {
		return errs.Wrap(errs.IoError, err, "create appliance config mountpoint")
	}

	if err := sysutils.RunCommand("mount", "-o", "rw", partDevice, mountPoint); err != nil {
		return errs.Wrap(errs.IoError, err, "mount appliance config partition")
	}
	defer func() {
		sysutils.Sync()
		sysutils.RunCommand("umount", mountPoint)
	}()

	entries, err := os.ReadDir(stageDir)
	if err != nil {
		return errs.Wrap(errs.IoError, err, "read config staging directory")
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		src := filepath.Join(stageDir, e.Name())
		dst := filepath.Join(mountPoint, e.Name())
		if err := sysutils.CopyFile(src, dst); err != nil {
			return errs.Wrap(errs.IoError, err, "deposit "+e.Name())
		}
	}

	sysutils.Sync()
	return nil
}

// partitionDevice composes the kernel device path for partition index
// on device, following the same "pN suffix for devices ending in a
// digit" convention internal/topology's expectedKernelName uses for
// predicting post-reboot device names (mmcblkN, nvmeXnY vs plain
// sdX/vdX).
func partitionDevice(device string, index int) string {
	if len(device) > 0 {
		last := device[len(device)-1]
		if last >= '0' && last <= '9' {
			return device + "p" + strconv.Itoa(index)
		}
	}
	return device + strconv.Itoa(index)
}
