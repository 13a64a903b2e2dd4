// Package descriptor implements the Stage-2 Descriptor (C5): the
// serialized handoff record that is the only carrier of state across
// the reboot between stage 1 and stage 2 (spec.md §3, §4.5). No
// direct teacher analogue exists (the teacher's snappy mutates the
// bootloader in place and keeps running under the same kernel); the
// *shape* — flat, diffable, human-auditable text — follows the
// teacher's own config files. TOML is used instead of JSON
// specifically for the byte-stable, rescue-shell-readable round trip
// spec.md §4.5 and §8 require.
package descriptor

import (
	"bytes"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/lxc-migrate/appliance-migrate/errs"
	"github.com/lxc-migrate/appliance-migrate/internal/backup"
)

// CurrentSchemaVersion is embedded in every Descriptor. A stage-2
// binary encountering a different version must fail fast (spec.md
// §4.5, §7 scenario 6) rather than guess at an incompatible layout.
const CurrentSchemaVersion = 1

// FailureMode is the Stage-2 Descriptor's failure-mode policy
// (spec.md §3).
type FailureMode string

const (
	Reboot      FailureMode = "Reboot"
	RescueShell FailureMode = "RescueShell"
	Poweroff    FailureMode = "Poweroff"
)

// LayoutEntry names one partition stage 2 is expected to be able to
// mount, part of the "expected filesystem layout at stage-2 time"
// spec.md §3 requires every descriptor to carry.
type LayoutEntry struct {
	Device    string `toml:"device"`
	MountPath string `toml:"mount_path"`
	FSType    string `toml:"fs_type"`
	ReadWrite bool   `toml:"read_write"`
}

// Descriptor is the persisted handoff record.
type Descriptor struct {
	SchemaVersion int `toml:"schema_version"`

	// RunID correlates a stage-2 run's log output back to the
	// stage-1 run that produced it (SPEC_FULL.md §6, supplemented
	// field).
	RunID string `toml:"run_id"`

	FlashDevice          string   `toml:"flash_device"`
	ImagePath            string   `toml:"image_path"`
	ApplianceConfigPath  string   `toml:"appliance_config_path"`
	NetworkProfilePaths  []string `toml:"network_profile_paths"`
	WifiProfilePaths     []string `toml:"wifi_profile_paths"`

	FailureMode FailureMode `toml:"failure_mode"`
	LogDevice   string      `toml:"log_device"`
	LogLevel    string      `toml:"log_level"`

	BootBackups []backup.Pair `toml:"boot_backups"`

	ExpectedBootPartitionUUID string `toml:"expected_boot_partition_uuid"`
	KernelCmdline             string `toml:"kernel_cmdline"`

	// BootTypeName, BootRoot and BootMMCIndex let stage 2 reconstruct
	// the same Boot Manager stage 1 used, so Restore can be called on
	// it (SPEC_FULL.md §6, supplemented detail: the distilled spec's
	// BootManager.restore needs a concrete manager instance, and the
	// descriptor is the only thing stage 2 has to build one from).
	BootTypeName string `toml:"boot_type_name"`
	BootRoot     string `toml:"boot_root"`
	BootMMCIndex int    `toml:"boot_mmc_index"`

	// ApplianceConfigPartitionIndex is the 1-based partition number,
	// on the freshly-flashed disk, that the appliance image presents
	// for post-flash config deposit (SPEC_FULL.md §6, supplemented
	// detail the distilled spec left implicit in "mount the
	// newly-flashed appliance config partition").
	ApplianceConfigPartitionIndex int `toml:"appliance_config_partition_index"`

	// ExpectedFlashDeviceSizeBytes is the flash target's size as
	// observed during stage 1, so stage 2 can refuse to write if the
	// device name now refers to a different physical disk after the
	// reboot (spec.md §4.7 step 1: "matches the descriptor's expected
	// size to within a tolerance").
	ExpectedFlashDeviceSizeBytes int64 `toml:"expected_flash_device_size_bytes"`

	ExpectedLayout []LayoutEntry `toml:"expected_layout"`
}

// New returns an empty Descriptor stamped with the current schema
// version and a fresh run identifier.
func New() *Descriptor {
	return &Descriptor{
		SchemaVersion: CurrentSchemaVersion,
		RunID:         uuid.New().String(),
		FailureMode:   Reboot,
	}
}

// Serialize renders d as TOML. Deterministic for identical inputs:
// struct field order fixes key order, and BurntSushi/toml's encoder
// does not reorder or vary quoting run to run, satisfying spec.md
// §4.5/§8's round-trip requirement.
func Serialize(d *Descriptor) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(d); err != nil {
		return nil, errs.Wrap(errs.IoError, err, "encode descriptor")
	}
	return buf.Bytes(), nil
}

// Parse decodes a Descriptor previously produced by Serialize.
func Parse(data []byte) (*Descriptor, error) {
	var d Descriptor
	if _, err := toml.Decode(string(data), &d); err != nil {
		return nil, errs.Wrap(errs.IoError, err, "decode descriptor")
	}
	return &d, nil
}

// Save writes d to path.
func Save(d *Descriptor, path string) error {
	data, err := Serialize(d)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errs.Wrap(errs.IoError, err, "write descriptor file")
	}
	return nil
}

// Load reads and validates a Descriptor from path. A schema mismatch
// is reported as an error so callers (the stage-2 entry point) treat
// it exactly like a missing or corrupt descriptor: immediate
// default_exit, without touching the flash device (spec.md §7
// scenario 6).
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, err, "read descriptor file")
	}

	d, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if d.SchemaVersion != CurrentSchemaVersion {
		return nil, errs.Newf(errs.InvalidParameter,
			"descriptor schema version %d is not supported (want %d)",
			d.SchemaVersion, CurrentSchemaVersion)
	}

	return d, nil
}

// Builder accumulates a Descriptor-under-construction across Stage-1
// Orchestrator steps and Boot Manager calls (spec.md §3 Ownership:
// "the BootManager ... receives a mutable reference to the Stage-2
// Descriptor-under-construction when staging").
type Builder struct {
	d *Descriptor
}

// NewBuilder starts a fresh Builder.
func NewBuilder() *Builder {
	return &Builder{d: New()}
}

func (b *Builder) SetRunID(id uuid.UUID)                 { b.d.RunID = id.String() }
func (b *Builder) SetFlashDevice(device string)           { b.d.FlashDevice = device }
func (b *Builder) SetImagePath(path string)               { b.d.ImagePath = path }
func (b *Builder) SetApplianceConfigPath(path string)     { b.d.ApplianceConfigPath = path }
func (b *Builder) SetNetworkProfiles(paths []string)      { b.d.NetworkProfilePaths = paths }
func (b *Builder) SetWifiProfiles(paths []string)         { b.d.WifiProfilePaths = paths }
func (b *Builder) SetFailureMode(mode FailureMode)        { b.d.FailureMode = mode }
func (b *Builder) SetLog(device, level string)            { b.d.LogDevice = device; b.d.LogLevel = level }
func (b *Builder) SetKernelCmdline(cmdline string)         { b.d.KernelCmdline = cmdline }
func (b *Builder) SetApplianceConfigPartitionIndex(idx int) { b.d.ApplianceConfigPartitionIndex = idx }
func (b *Builder) SetExpectedFlashDeviceSizeBytes(size int64) { b.d.ExpectedFlashDeviceSizeBytes = size }

func (b *Builder) SetBootType(name, root string, mmcIndex int) {
	b.d.BootTypeName = name
	b.d.BootRoot = root
	b.d.BootMMCIndex = mmcIndex
}
func (b *Builder) AddBackup(p backup.Pair)                { b.d.BootBackups = append(b.d.BootBackups, p) }
func (b *Builder) AddLayoutEntry(e LayoutEntry)            { b.d.ExpectedLayout = append(b.d.ExpectedLayout, e) }

func (b *Builder) SetExpectedBootPartitionUUID(id uuid.UUID) {
	b.d.ExpectedBootPartitionUUID = id.String()
}

// KernelCmdline reports the cmdline staged so far, letting a Boot
// Manager's CanMigrate check what an earlier step already decided.
func (b *Builder) KernelCmdline() string { return b.d.KernelCmdline }

// Backups reports the backups recorded so far.
func (b *Builder) Backups() []backup.Pair { return b.d.BootBackups }

// Finish returns the completed Descriptor. Called once, at the end of
// the Stage-1 Orchestrator's algorithm (spec.md §4.4 step 6).
func (b *Builder) Finish() *Descriptor { return b.d }
