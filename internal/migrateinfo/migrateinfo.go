// Package migrateinfo implements MigrateInfo, the stage-1 working set
// accumulated across the feasibility pipeline (spec.md §3). It
// follows the two-phase-type redesign spec.md §9 calls for: a
// MigrateInfoBuilder accumulates optional fields one at a time, and
// the finalized MigrateInfo exposes all of them unconditionally once
// Build() succeeds, replacing the teacher's "populated by convention,
// panics if you read too early" pattern for its own MigrateInfo-like
// struct.
package migrateinfo

import (
	"github.com/google/uuid"

	"github.com/lxc-migrate/appliance-migrate/errs"
	"github.com/lxc-migrate/appliance-migrate/internal/backup"
	"github.com/lxc-migrate/appliance-migrate/internal/topology"
)

// MigrateInfo is the finalized, fully-populated stage-1 working set.
// Exclusively owned by the Stage-1 Orchestrator (spec.md §3
// Ownership); the Boot Manager only ever borrows it read-only.
type MigrateInfo struct {
	RunID      uuid.UUID
	OSName     string
	Arch       string
	EFIBoot    bool
	SecureBoot bool

	DeviceSlug string

	WorkDir          *topology.PathInfo
	ApplianceImage   *topology.PathInfo
	ApplianceConfig  *topology.PathInfo
	NetworkProfiles  []*topology.PathInfo
	WifiProfiles     []*topology.PathInfo

	StagedKernel    *topology.PathInfo
	StagedInitramfs *topology.PathInfo

	BootBackups []backup.Pair
}

// Builder accumulates MigrateInfo's fields across the orchestrator's
// probing steps. Construct with NewBuilder; the zero value is not
// usable.
type Builder struct {
	info MigrateInfo
	set  map[string]bool
}

// NewBuilder starts a Builder with a fresh run identifier already
// populated (every other field is optional until Build()).
func NewBuilder() *Builder {
	return &Builder{
		info: MigrateInfo{RunID: uuid.New()},
		set:  map[string]bool{},
	}
}

func (b *Builder) mark(field string) { b.set[field] = true }

func (b *Builder) SetOSName(v string) *Builder     { b.info.OSName = v; b.mark("OSName"); return b }
func (b *Builder) SetArch(v string) *Builder        { b.info.Arch = v; b.mark("Arch"); return b }
func (b *Builder) SetEFIBoot(v bool) *Builder       { b.info.EFIBoot = v; return b }
func (b *Builder) SetSecureBoot(v bool) *Builder    { b.info.SecureBoot = v; return b }
func (b *Builder) SetDeviceSlug(v string) *Builder  { b.info.DeviceSlug = v; b.mark("DeviceSlug"); return b }
func (b *Builder) SetWorkDir(v *topology.PathInfo) *Builder {
	b.info.WorkDir = v
	b.mark("WorkDir")
	return b
}
func (b *Builder) SetApplianceImage(v *topology.PathInfo) *Builder {
	b.info.ApplianceImage = v
	b.mark("ApplianceImage")
	return b
}
func (b *Builder) SetApplianceConfig(v *topology.PathInfo) *Builder {
	b.info.ApplianceConfig = v
	b.mark("ApplianceConfig")
	return b
}
func (b *Builder) SetNetworkProfiles(v []*topology.PathInfo) *Builder {
	b.info.NetworkProfiles = v
	return b
}
func (b *Builder) SetWifiProfiles(v []*topology.PathInfo) *Builder {
	b.info.WifiProfiles = v
	return b
}
func (b *Builder) SetStagedKernel(v *topology.PathInfo) *Builder {
	b.info.StagedKernel = v
	b.mark("StagedKernel")
	return b
}
func (b *Builder) SetStagedInitramfs(v *topology.PathInfo) *Builder {
	b.info.StagedInitramfs = v
	b.mark("StagedInitramfs")
	return b
}
func (b *Builder) AddBackup(p backup.Pair) *Builder {
	b.info.BootBackups = append(b.info.BootBackups, p)
	return b
}

// Backups reports the backups recorded so far, read-only.
func (b *Builder) Backups() []backup.Pair { return b.info.BootBackups }

// RunID reports the run identifier stamped at NewBuilder time.
func (b *Builder) RunID() uuid.UUID { return b.info.RunID }

// requiredFields lists the fields that must be set before the
// feasibility pipeline can hand a MigrateInfo to a Boot Manager.
var requiredFields = []string{
	"OSName", "Arch", "DeviceSlug", "WorkDir",
	"ApplianceImage", "ApplianceConfig",
	"StagedKernel", "StagedInitramfs",
}

// Build finalizes the MigrateInfo, failing with errs.InvalidParameter
// if a required field was never set. Only the finalized form is
// passed to Boot Managers and the descriptor serializer (spec.md §9).
func (b *Builder) Build() (*MigrateInfo, error) {
	for _, field := range requiredFields {
		if !b.set[field] {
			return nil, errs.Newf(errs.InvalidParameter, "MigrateInfo incomplete: %s was never set", field)
		}
	}
	info := b.info
	return &info, nil
}
