// Package bootmgr implements the Boot Manager Abstraction (C3): a
// single contract with concrete implementations for U-Boot, GRUB,
// Raspberry Pi firmware, and (stubbed) EFI. Grounded on
// wolfbox-snappy/partition/bootloader.go's bootLoader interface and
// its uboot/grub implementations, redesigned per spec.md §9 into a
// closed tagged BootType enum instead of the teacher's open
// interface-per-struct set, eliminating the need for heap-allocated
// dynamic dispatch and making the case analysis exhaustiveness
// checkable by go vet's switch coverage.
package bootmgr

import (
	"fmt"

	"github.com/lxc-migrate/appliance-migrate/errs"
)

// Tag is the closed set of recognised boot mechanisms (spec.md §3).
type Tag int

const (
	TagUBoot Tag = iota
	TagGrub
	TagEfi
	TagMSWEfi
	TagRaspi
	TagRaspi64
	TagMSWBootMgr
)

func (t Tag) String() string {
	switch t {
	case TagUBoot:
		return "UBoot"
	case TagGrub:
		return "Grub"
	case TagEfi:
		return "Efi"
	case TagMSWEfi:
		return "MSWEfi"
	case TagRaspi:
		return "Raspi"
	case TagRaspi64:
		return "Raspi64"
	case TagMSWBootMgr:
		return "MSWBootMgr"
	default:
		return "Unknown"
	}
}

// ParseTag maps a profile's textual boot-type name (as loaded from
// the Device Profile Registry's YAML) onto a Tag.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "UBoot":
		return TagUBoot, nil
	case "Grub":
		return TagGrub, nil
	case "Efi":
		return TagEfi, nil
	case "MSWEfi":
		return TagMSWEfi, nil
	case "Raspi":
		return TagRaspi, nil
	case "Raspi64":
		return TagRaspi64, nil
	case "MSWBootMgr":
		return TagMSWBootMgr, nil
	default:
		return 0, errs.Newf(errs.InvalidParameter, "unrecognised boot type %q", name)
	}
}

// UenvStrategy selects how the U-Boot manager composes its uEnv.txt:
// pinned to a specific kernel uname, or manually composed. The zero
// value is StrategyManual.
type UenvStrategy int

const (
	StrategyManual UenvStrategy = iota
	StrategyUName
)

// BootType is the closed tagged variant of spec.md §3: every concrete
// value carries only the payload relevant to its Tag.
type BootType struct {
	Tag Tag

	// UBoot payload.
	MMCIndex        int
	UenvStrategy    UenvStrategy
	KernelUname     string // used when UenvStrategy == StrategyUName
	BootmgrSubpath  string
}

func (bt BootType) String() string {
	if bt.Tag == TagUBoot {
		return fmt.Sprintf("UBoot{mmc=%d}", bt.MMCIndex)
	}
	return bt.Tag.String()
}
