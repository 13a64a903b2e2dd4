package stage1

import (
	"bufio"
	"os"
	"runtime"
	"strings"

	"github.com/lxc-migrate/appliance-migrate/internal/devprofile"
	"github.com/lxc-migrate/appliance-migrate/internal/sysutils"
)

// probeOSName reads the running OS's pretty name out of
// /etc/os-release, the architecture-specific probe spec.md §4.4
// step 1 calls for.
func probeOSName() string {
	f, err := os.Open("/etc/os-release")
	if err != nil {
		return "unknown"
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "PRETTY_NAME=") {
			return strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), `"`)
		}
	}
	return "unknown"
}

// probeArch reports the running architecture.
func probeArch() string {
	return runtime.GOARCH
}

// probeEFIBoot reports whether the system booted via EFI, by checking
// for the /sys/firmware/efi directory.
func probeEFIBoot() bool {
	return sysutils.FileExists("/sys/firmware/efi")
}

// probeSecureBoot shells to mokutil (spec.md §6's external tool list)
// to determine secure-boot state. Absence of the tool or a non-EFI
// system both mean "off."
func probeSecureBoot() bool {
	if !probeEFIBoot() {
		return false
	}
	lines, err := sysutils.RunCommandWithStdout("mokutil", "--sb-state")
	if err != nil {
		return false
	}
	for _, l := range lines {
		if strings.Contains(strings.ToLower(l), "enabled") {
			return true
		}
	}
	return false
}

// probeBoardHints reads the device-tree model string and DMI
// vendor/product strings the Device Profile Registry matches against
// (spec.md §4.2).
func probeBoardHints() devprofile.BoardHints {
	return devprofile.BoardHints{
		DeviceTreeModel: readTrimmedNul("/proc/device-tree/model"),
		DMIVendor:       readTrimmed("/sys/class/dmi/id/sys_vendor"),
		DMIProduct:      readTrimmed("/sys/class/dmi/id/product_name"),
	}
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// readTrimmedNul is like readTrimmed but also strips the trailing NUL
// byte the device-tree model property is conventionally terminated
// with.
func readTrimmedNul(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimRight(strings.TrimSpace(string(data)), "\x00")
}
