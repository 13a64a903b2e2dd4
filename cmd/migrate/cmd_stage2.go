package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/lxc-migrate/appliance-migrate/internal/bootmgr"
	"github.com/lxc-migrate/appliance-migrate/internal/descriptor"
	"github.com/lxc-migrate/appliance-migrate/internal/logging"
	"github.com/lxc-migrate/appliance-migrate/internal/stage2/failctl"
	"github.com/lxc-migrate/appliance-migrate/internal/stage2/flash"
	stage2mount "github.com/lxc-migrate/appliance-migrate/internal/stage2/mount"
	"github.com/lxc-migrate/appliance-migrate/internal/sysutils"
)

const longStage2Help = `Runs stage 2 from within the staged initramfs: mounts the boot
partition, loads the stage-2 descriptor, performs the destructive
flash, deposits post-flash configuration, and reboots. Every exit path
ends in a reboot, except when a loaded descriptor's failure mode is
RescueShell (the command returns without rebooting) or Poweroff (the
host is powered off).`

type cmdStage2 struct {
	BootDevice     string `long:"boot-device" description:"device to mount as the boot partition" value-name:"DEVICE" required:"true"`
	DescriptorName string `long:"descriptor" description:"descriptor filename within the boot partition" default:"stage2-descriptor.toml"`
	BootPrefix     string `long:"boot-prefix" description:"mountpoint to mount the boot partition at" default:"/mnt/migrate-boot"`
	StageDir       string `long:"stage-dir" description:"tmpfs directory to stage config deposits in" default:"/run/migrate-stage"`
}

func init() {
	var data cmdStage2
	parser.AddCommand("stage2",
		"Run stage 2: destructive flash and post-flash config deposit",
		longStage2Help,
		&data)
}

func (x *cmdStage2) Execute(args []string) error {
	mounts := stage2mount.New()
	ctl := failctl.New(mounts)
	defer ctl.Recover()

	if err := os.MkdirAll(x.BootPrefix, 0750); err != nil {
		logging.Log().Errorf("stage2: failed to create boot mountpoint: %v", err)
		ctl.DefaultExit()
		return nil
	}

	if err := mounts.MountBootPartition(x.BootDevice, x.BootPrefix); err != nil {
		logging.Log().Errorf("stage2: failed to mount boot partition: %v", err)
		ctl.DefaultExit()
		return nil
	}

	descPath := filepath.Join(x.BootPrefix, x.DescriptorName)
	desc, err := descriptor.Load(descPath)
	if err != nil {
		// A missing or schema-mismatched descriptor is exactly the
		// "not even the descriptor could be loaded" case (spec.md §7
		// scenario 6): default_exit, without touching the flash
		// device.
		logging.Log().Errorf("stage2: failed to load descriptor: %v", err)
		ctl.DefaultExit()
		return nil
	}

	logging.Activate(desc.LogDevice, desc.LogLevel)
	log := logging.WithRunID(desc.RunID)

	manager, err := reconstructBootManager(desc)
	if err != nil {
		log.Errorf("stage2: failed to reconstruct boot manager: %v", err)
		ctl.ErrorExit(desc, nil, err)
		return nil
	}

	if err := mounts.MountLayoutEntries(desc.ExpectedLayout); err != nil {
		log.Errorf("stage2: failed to mount expected layout: %v", err)
		ctl.ErrorExit(desc, manager, err)
		return nil
	}

	flasher := flash.New()
	if err := flasher.PreStageConfig(desc, mounts, x.StageDir); err != nil {
		log.Errorf("stage2: failed to pre-stage config: %v", err)
		ctl.ErrorExit(desc, manager, err)
		return nil
	}

	// The image is read from the still-mounted boot partition during
	// Flash; only after it returns is it safe to unmount, since the
	// flash target may be the same physical drive the boot partition
	// lives on.
	if err := flasher.Flash(desc, mounts, x.StageDir); err != nil {
		log.Errorf("stage2: flash failed: %v", err)
		ctl.ErrorExit(desc, manager, err)
		return nil
	}

	if err := mounts.Close(); err != nil {
		log.Warnf("stage2: unmount after flash reported an error: %v", err)
	}

	log.Info("stage2: flash succeeded, rebooting into the appliance image")
	sysutils.Sync()
	time.Sleep(2 * time.Second)
	return sysutils.RunCommand("reboot", "-f")
}

// reconstructBootManager rebuilds the same Boot Manager stage 1 used,
// from the fields the descriptor carries for exactly this purpose
// (SPEC_FULL.md §6).
func reconstructBootManager(desc *descriptor.Descriptor) (bootmgr.Manager, error) {
	tag, err := bootmgr.ParseTag(desc.BootTypeName)
	if err != nil {
		return nil, err
	}
	bt := bootmgr.BootType{Tag: tag, MMCIndex: desc.BootMMCIndex}
	return bootmgr.New(bt, desc.BootRoot)
}
