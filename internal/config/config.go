// Package config defines the typed Config the Boot Manager borrows
// read-only when proving feasibility (spec.md §3, Ownership). The
// grammar of the user-facing configuration file is explicitly out of
// scope (spec.md §1); this is only the struct the core consumes, not
// a parser for arbitrary configuration syntax.
package config

import (
	"github.com/BurntSushi/toml"

	"github.com/lxc-migrate/appliance-migrate/errs"
)

// Config carries the knobs the core itself needs: the external tools
// it should insist on, how much slack to leave free when staging, and
// defaults for fields the Stage-2 Descriptor otherwise requires.
type Config struct {
	// RequiredTools lists the external tools the Stage-1 Orchestrator
	// validates at the start of Run (spec.md §6).
	RequiredTools []string `toml:"required_tools"`

	// StagingSlackBytes is added on top of kernel+initramfs+image size
	// when checking free space on the boot partition (spec.md §4.4
	// step 5).
	StagingSlackBytes int64 `toml:"staging_slack_bytes"`

	// DefaultFailureMode seeds the Stage-2 Descriptor's failure-mode
	// policy when the caller does not override it.
	DefaultFailureMode string `toml:"default_failure_mode"`

	// LogDevice and LogLevel seed the Stage-2 Descriptor's log
	// settings.
	LogDevice string `toml:"log_device"`
	LogLevel  string `toml:"log_level"`

	// MMCIndexOverride forces the U-Boot manager's mmc_index instead
	// of taking it from the device profile's "mmc_index" boot layout
	// hint (0 when the hint is absent); nil means "use the profile."
	MMCIndexOverride *int `toml:"mmc_index_override"`
}

// Default returns the Config used when no configuration file is
// supplied.
func Default() *Config {
	return &Config{
		RequiredTools: []string{
			"df", "lsblk", "fdisk", "file", "uname", "mount",
			"mokutil", "update-grub", "grub-reboot", "reboot",
			"chmod", "dd", "partprobe", "gzip", "mktemp",
		},
		StagingSlackBytes:  64 * 1024 * 1024,
		DefaultFailureMode: "Reboot",
		LogDevice:          "-",
		LogLevel:           "info",
	}
}

// Load reads a Config from a TOML file, seeding unset fields from
// Default() first so a partial file is valid.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errs.Wrap(errs.InvalidParameter, err, "decode config file")
	}
	return cfg, nil
}
