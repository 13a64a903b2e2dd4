package main

import (
	"fmt"
	"os"

	"github.com/lxc-migrate/appliance-migrate/errs"
	"github.com/lxc-migrate/appliance-migrate/internal/config"
	"github.com/lxc-migrate/appliance-migrate/internal/descriptor"
	"github.com/lxc-migrate/appliance-migrate/internal/devprofile"
	"github.com/lxc-migrate/appliance-migrate/internal/logging"
	"github.com/lxc-migrate/appliance-migrate/internal/stage1"
	"github.com/lxc-migrate/appliance-migrate/internal/sysutils"
	"github.com/lxc-migrate/appliance-migrate/internal/topology"
)

const longMigrateHelp = `Runs the stage-1 feasibility pipeline: probes the running system,
stages the stage-2 kernel/initramfs and appliance image onto the boot
partition, writes the stage-2 descriptor, and arms the bootloader for
next boot. Success never returns control to a shell: it reboots.`

type cmdMigrate struct {
	ConfigPath string `long:"config" description:"path to a TOML configuration file" value-name:"PATH"`

	Kernel    string `long:"kernel" description:"path to the stage-2 vehicle kernel" value-name:"PATH" required:"true"`
	Initramfs string `long:"initramfs" description:"path to the stage-2 vehicle initramfs" value-name:"PATH" required:"true"`

	ApplianceImage  string `long:"image" description:"path to the appliance disk image" value-name:"PATH" required:"true"`
	ApplianceConfig string `long:"appliance-config" description:"path to the appliance config file to deposit post-flash" value-name:"PATH" required:"true"`

	NetworkProfile []string `long:"network-profile" description:"network-manager profile file to carry across (repeatable)"`
	WifiProfile    []string `long:"wifi-profile" description:"WiFi profile file to carry across (repeatable)"`

	FlashDevice string `long:"flash-device" description:"whole-disk device stage 2 will overwrite" value-name:"DEVICE" required:"true"`

	FailureMode string `long:"failure-mode" description:"Reboot, RescueShell or Poweroff" default:"Reboot"`

	DryRun bool `long:"dry-run" description:"run feasibility checks only, stage nothing"`
}

func init() {
	var data cmdMigrate
	parser.AddCommand("migrate",
		"Run stage 1: feasibility, staging, and boot-handoff commit",
		longMigrateHelp,
		&data)
}

func (x *cmdMigrate) Execute(args []string) error {
	if !isRoot() {
		return errs.New(errs.InvalidParameter, "migrate must run as root")
	}

	cfg := config.Default()
	if x.ConfigPath != "" {
		loaded, err := config.Load(x.ConfigPath)
		if err != nil {
			return logging.LogError(err)
		}
		cfg = loaded
	}

	insp := topology.NewInspector()
	registry, err := devprofile.NewRegistry()
	if err != nil {
		return logging.LogError(err)
	}

	orch := stage1.New(cfg, insp, registry)
	req := stage1.Request{
		SourceKernelPath:    x.Kernel,
		SourceInitramfsPath: x.Initramfs,
		ApplianceImagePath:  x.ApplianceImage,
		ApplianceConfigPath: x.ApplianceConfig,
		NetworkProfilePaths: x.NetworkProfile,
		WifiProfilePaths:    x.WifiProfile,
		FlashDevice:         x.FlashDevice,
		FailureMode:         descriptor.FailureMode(x.FailureMode),
		DryRun:              x.DryRun,
	}

	desc, err := orch.Run(req)
	if err != nil {
		return logging.LogError(err)
	}

	if x.DryRun {
		fmt.Fprintln(os.Stdout, "dry run: migration is feasible")
		return nil
	}

	logging.Log().Infof("stage1: armed run %s, rebooting", desc.RunID)
	sysutils.Sync()
	return sysutils.RunCommand("reboot")
}
