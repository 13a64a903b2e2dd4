// Package failctl implements the Failure Controller (C8): the safety
// net spanning all of stage 2. Grounded on
// wolfbox-snappy/partition/partition.go's UndoMounts-on-panic pattern
// (deferred cleanup that runs regardless of how the caller exits) and
// cmd/snappy-go/main.go's top-level error-to-exit-code translation,
// generalized here into "every stage-2 exit path ends in a reboot,"
// except where the descriptor's failure mode is RescueShell (return
// without rebooting) or Poweroff (power off instead).
package failctl

import (
	"time"

	"github.com/lxc-migrate/appliance-migrate/internal/bootmgr"
	"github.com/lxc-migrate/appliance-migrate/internal/descriptor"
	"github.com/lxc-migrate/appliance-migrate/internal/logging"
	stage2mount "github.com/lxc-migrate/appliance-migrate/internal/stage2/mount"
	"github.com/lxc-migrate/appliance-migrate/internal/sysutils"
)

// rebootDelay gives logs time to flush to any non-tty log device
// before the kernel is asked to reboot.
const rebootDelay = 2 * time.Second

// Controller is the stage-2 safety net. It is constructed once at the
// top of stage 2's entry point and its Recover method deferred
// immediately, per spec.md §9's "top-level abort catcher" design note.
type Controller struct {
	Mounts *stage2mount.Mounts
}

// New returns a Controller wrapping the mounts stage 2 has active, so
// ErrorExit can unmount them before rebooting.
func New(mounts *stage2mount.Mounts) *Controller {
	return &Controller{Mounts: mounts}
}

// ErrorExit is invoked after an expected error with a loaded
// Descriptor (spec.md §4.8): sync, restore the boot configuration via
// the Boot Manager named by the descriptor's boot type, then act per
// the descriptor's failure-mode policy.
func (c *Controller) ErrorExit(desc *descriptor.Descriptor, manager bootmgr.Manager, cause error) {
	log := logging.WithRunID(desc.RunID)
	log.WithField("cause", cause).Error("stage2: entering error exit")

	sysutils.Sync()

	if manager != nil {
		if !manager.Restore(c.Mounts, desc) {
			log.Warn("stage2: boot configuration restore was not fully successful")
		}
	}

	if c.Mounts != nil {
		if err := c.Mounts.Close(); err != nil {
			log.WithField("error", err).Warn("stage2: unmount during error exit reported an error")
		}
	}

	switch desc.FailureMode {
	case descriptor.RescueShell:
		log.Warn("stage2: failure mode is RescueShell; stopping short of reboot")
		return
	case descriptor.Poweroff:
		log.Warn("stage2: failure mode is Poweroff")
		sysutils.Sync()
		time.Sleep(rebootDelay)
		sysutils.RunCommand("poweroff", "-f")
		return
	default: // descriptor.Reboot, and any unrecognised value
		c.reboot()
	}
}

// DefaultExit is invoked when not even the Descriptor could be
// loaded (spec.md §4.8, §7 scenario 6): sync and reboot unconditionally
// after a short delay, banking on the stage-1 boot-manager change
// having been arranged to be one-shot where possible (GRUB's
// grub-reboot, in particular, reverts itself on the very next boot
// with no help from stage 2 at all).
func (c *Controller) DefaultExit() {
	log := logging.Log()
	log.Error("stage2: default exit, descriptor unavailable or unusable")

	sysutils.Sync()
	if c.Mounts != nil {
		c.Mounts.Close()
	}
	c.reboot()
}

func (c *Controller) reboot() {
	sysutils.Sync()
	time.Sleep(rebootDelay)
	sysutils.RunCommand("reboot", "-f")
}

// Recover is deferred once at the very top of stage 2's entry point
// (spec.md §9: "a top-level trap that syncs and reboots"). It catches
// any panic anywhere in stage 2, logs it, and falls back to
// DefaultExit rather than letting the process exit and leave the
// host unbootable.
func (c *Controller) Recover() {
	if r := recover(); r != nil {
		logging.Log().Errorf("stage2: recovered from panic: %v", r)
		c.DefaultExit()
	}
}
