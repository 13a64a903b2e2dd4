// Package devprofile implements the Device Profile Registry (C2): a
// pure lookup mapping a detected hardware profile to a device slug,
// its supported boot type(s), and its required kernel flavor. It
// never touches the filesystem. Grounded on the declarative,
// YAML-driven hardware.yaml pattern in
// wolfbox-snappy/partition/partition.go (hardwareSpecType), expanded
// from "one spec file per installed image" to "a registry of known
// boards."
package devprofile

import (
	_ "embed"

	"gopkg.in/yaml.v2"

	"github.com/lxc-migrate/appliance-migrate/errs"
	"github.com/lxc-migrate/appliance-migrate/internal/bootmgr"
)

// BoardHints are the platform probes used to identify hardware: the
// device-tree "model" string on ARM boards, or the DMI vendor/product
// strings on PC-class firmware.
type BoardHints struct {
	DeviceTreeModel string
	DMIVendor       string
	DMIProduct      string
}

// DeviceProfile maps one recognised board to its migration
// parameters.
type DeviceProfile struct {
	Slug               string            `yaml:"slug"`
	Architecture       string            `yaml:"architecture"`
	DeviceTreeModel    string            `yaml:"device_tree_model"`
	DMIVendor          string            `yaml:"dmi_vendor"`
	DMIProduct         string            `yaml:"dmi_product"`
	SupportedBootTypes []bootmgr.Tag     `yaml:"-"`
	BootTypeNames      []string          `yaml:"supported_boot_types"`
	RequiredKernelArch string            `yaml:"required_kernel_arch"`
	MinDriveSizeBytes  int64             `yaml:"min_drive_size_bytes"`
	BootLayoutHints    map[string]string `yaml:"boot_layout_hints"`
}

//go:embed profiles.yaml
var embeddedProfiles []byte

// Registry is an in-memory table of known DeviceProfiles.
type Registry struct {
	profiles []DeviceProfile
}

// NewRegistry builds a Registry from the embedded seed data.
func NewRegistry() (*Registry, error) {
	return LoadRegistry(embeddedProfiles)
}

// LoadRegistry parses a YAML document of profiles, in the same format
// as the embedded default set, allowing new boards to be added
// without recompiling (SPEC_FULL.md §4, C2 library bindings).
func LoadRegistry(doc []byte) (*Registry, error) {
	var profiles []DeviceProfile
	if err := yaml.Unmarshal(doc, &profiles); err != nil {
		return nil, errs.Wrap(errs.InvalidParameter, err, "parse device profile registry")
	}

	for i := range profiles {
		for _, name := range profiles[i].BootTypeNames {
			tag, err := bootmgr.ParseTag(name)
			if err != nil {
				return nil, err
			}
			profiles[i].SupportedBootTypes = append(profiles[i].SupportedBootTypes, tag)
		}
	}

	return &Registry{profiles: profiles}, nil
}

// Lookup maps (architecture, board hints) to a DeviceProfile.
// Unknown hardware returns errs.Unsupported (spec.md §4.2). Profiles
// that name a specific device-tree model or DMI vendor/product are
// tried first; a profile with none of those set is an
// architecture-only fallback, tried only once no specific match was
// found, so a generic PC profile never shadows a more specific board.
func (r *Registry) Lookup(architecture string, hints BoardHints) (*DeviceProfile, error) {
	var fallback *DeviceProfile

	for i := range r.profiles {
		p := &r.profiles[i]
		if p.Architecture != "" && p.Architecture != architecture {
			continue
		}

		specific := p.DeviceTreeModel != "" || (p.DMIVendor != "" && p.DMIProduct != "")
		if !specific {
			if fallback == nil {
				fallback = p
			}
			continue
		}

		if p.DeviceTreeModel != "" && p.DeviceTreeModel == hints.DeviceTreeModel {
			return p, nil
		}
		if p.DMIVendor != "" && p.DMIProduct != "" &&
			p.DMIVendor == hints.DMIVendor && p.DMIProduct == hints.DMIProduct {
			return p, nil
		}
	}

	if fallback != nil {
		return fallback, nil
	}

	return nil, errs.Newf(errs.Unsupported, "no device profile matches architecture %q / hints %+v", architecture, hints)
}
