// Package topology implements the Block Topology Inspector (C1): it
// enumerates physical drives, partitions, filesystems, and
// mountpoints, and resolves any path to the drive/partition/fs
// carrying it. Grounded on wolfbox-snappy/partition/partition.go's
// loadPartitionDetails/runLsblk (the NAME="value" pair parser over
// lsblk --pairs output), generalized from "find the snappy-labeled
// partitions only" to "enumerate everything."
package topology

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/lxc-migrate/appliance-migrate/errs"
	"github.com/lxc-migrate/appliance-migrate/internal/sysutils"
)

// LogicalDrive is a mounted filesystem living on a Partition.
type LogicalDrive struct {
	SizeBytes int64
	FreeBytes int64
	MountPath string
}

// Partition is one partition of a physical Drive.
type Partition struct {
	Index      int
	StartOffset int64
	SizeBytes   int64
	UUID        uuid.UUID // uuid.Nil if undetermined
	FSType      string
	Mount       *LogicalDrive // nil if not mounted

	device string // e.g. /dev/sda1
}

// Device is the full path to the partition's block device node.
func (p *Partition) Device() string { return p.device }

// Drive is a physical block device.
type Drive struct {
	KernelName string // e.g. "sda", "mmcblk0"
	Index      int
	SizeBytes  int64
	Partitions []*Partition

	device string // e.g. /dev/sda
}

// Device is the full path to the drive's block device node.
func (d *Drive) Device() string { return d.device }

// Topology is one immutable inspection snapshot.
type Topology struct {
	Drives []*Drive
}

// PathInfo is a resolved reference to a filesystem path. Immutable
// once constructed by Inspector.ResolvePath.
type PathInfo struct {
	Path       string
	Partition  *Partition
	Drive      *Drive
	FSType     string
	Mountpoint string

	// ExpectedKernelName is the kernel-name this same partition is
	// expected to carry after the appliance image boots, used by
	// components that need a stable post-reboot device name. Empty
	// when it cannot be predicted (spec.md §4.1).
	ExpectedKernelName string
}

// Inspector is the process-wide topology handle. Unlike the teacher's
// package-level globals, it is an explicit value constructed once by
// the caller (stage 1's entry point) and threaded through the call
// graph, per spec.md §9's REDESIGN FLAGS; Snapshot() lazily populates
// and caches exactly one snapshot for the Inspector's lifetime,
// matching spec.md §5's "single lazily-initialized topology-inspector
// cache with standard once-init semantics."
type Inspector struct {
	cached *Topology
}

// NewInspector constructs an empty, uninitialized Inspector.
func NewInspector() *Inspector {
	return &Inspector{}
}

var pairPattern = regexp.MustCompile(`(?:[^\s"]|"(?:[^"])*")+`)

var runLsblk = func() ([]string, error) {
	return sysutils.RunCommandWithStdout(
		"lsblk",
		"--bytes",
		"--pairs",
		"--output=NAME,KNAME,PKNAME,TYPE,SIZE,FSTYPE,UUID,MOUNTPOINT",
	)
}

// Snapshot returns the cached Topology, enumerating it on first call.
// Fails with errs.EnumFailed only if the enumeration primitive itself
// fails; missing optional fields (no mount, no UUID) are represented
// as absent, not errors.
func (insp *Inspector) Snapshot() (*Topology, error) {
	if insp.cached != nil {
		return insp.cached, nil
	}

	lines, err := runLsblk()
	if err != nil {
		return nil, errs.Wrap(errs.EnumFailed, err, "lsblk enumeration failed")
	}

	topo, err := parseLsblk(lines)
	if err != nil {
		return nil, errs.Wrap(errs.EnumFailed, err, "parse lsblk output")
	}

	insp.cached = topo
	return topo, nil
}

type lsblkRow struct {
	name, kname, pkname, typ, size, fstype, uuidStr, mountpoint string
}

func parsePairs(line string) map[string]string {
	fields := map[string]string{}
	for _, match := range pairPattern.FindAllString(line, -1) {
		kv := strings.SplitN(match, "=", 2)
		if len(kv) != 2 {
			continue
		}
		fields[kv[0]] = strings.Trim(kv[1], `"`)
	}
	return fields
}

func parseLsblk(lines []string) (*Topology, error) {
	var rows []lsblkRow
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		f := parsePairs(line)
		rows = append(rows, lsblkRow{
			name: f["NAME"], kname: f["KNAME"], pkname: f["PKNAME"],
			typ: f["TYPE"], size: f["SIZE"], fstype: f["FSTYPE"],
			uuidStr: f["UUID"], mountpoint: f["MOUNTPOINT"],
		})
	}

	topo := &Topology{}
	driveByKname := map[string]*Drive{}
	var driveIndex int

	for _, r := range rows {
		if r.typ != "disk" {
			continue
		}
		size, _ := strconv.ParseInt(r.size, 10, 64)
		d := &Drive{
			KernelName: r.kname,
			Index:      driveIndex,
			SizeBytes:  size,
			device:     "/dev/" + r.kname,
		}
		driveIndex++
		driveByKname[r.kname] = d
		topo.Drives = append(topo.Drives, d)
	}

	for _, r := range rows {
		if r.typ != "part" {
			continue
		}
		drive, ok := driveByKname[r.pkname]
		if !ok {
			continue
		}
		size, _ := strconv.ParseInt(r.size, 10, 64)

		id := uuid.Nil
		if r.uuidStr != "" {
			if parsed, err := uuid.Parse(r.uuidStr); err == nil {
				id = parsed
			}
		}

		part := &Partition{
			Index:     partitionIndex(r.kname, drive.KernelName),
			SizeBytes: size,
			UUID:      id,
			FSType:    r.fstype,
			device:    "/dev/" + r.kname,
		}

		if r.mountpoint != "" {
			free, _ := sysutils.FreeBytes(r.mountpoint)
			part.Mount = &LogicalDrive{
				SizeBytes: size,
				FreeBytes: free,
				MountPath: r.mountpoint,
			}
		}

		drive.Partitions = append(drive.Partitions, part)
	}

	for _, d := range topo.Drives {
		sort.Slice(d.Partitions, func(i, j int) bool {
			return d.Partitions[i].Index < d.Partitions[j].Index
		})
	}

	return topo, nil
}

// partitionIndex extracts the trailing partition number from a kernel
// name like "sda3" (drive "sda") or "mmcblk0p3" (drive "mmcblk0").
func partitionIndex(partKname, driveKname string) int {
	suffix := strings.TrimPrefix(partKname, driveKname)
	suffix = strings.TrimPrefix(suffix, "p")
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0
	}
	return n
}

// expectedKernelName predicts the post-boot kernel name for a
// partition at the given index on a drive, following the common
// "pN suffix for devices ending in a digit" convention (mmcblkN,
// nvmeXnY) versus plain suffix for sdX/vdX style drives.
func expectedKernelName(driveKernelName string, index int) string {
	if len(driveKernelName) > 0 {
		last := driveKernelName[len(driveKernelName)-1]
		if last >= '0' && last <= '9' {
			return fmt.Sprintf("%sp%d", driveKernelName, index)
		}
	}
	return fmt.Sprintf("%s%d", driveKernelName, index)
}

// ResolvePath locates the longest mountpoint prefix of path and
// constructs a PathInfo. Fails with errs.NotFound if no partition
// contains the path (spec.md §4.1).
func (insp *Inspector) ResolvePath(path string) (*PathInfo, error) {
	topo, err := insp.Snapshot()
	if err != nil {
		return nil, err
	}

	var bestDrive *Drive
	var bestPart *Partition
	bestLen := -1

	for _, d := range topo.Drives {
		for _, p := range d.Partitions {
			if p.Mount == nil {
				continue
			}
			mp := p.Mount.MountPath
			if !isPrefixPath(mp, path) {
				continue
			}
			if len(mp) > bestLen {
				bestLen = len(mp)
				bestDrive = d
				bestPart = p
			}
		}
	}

	if bestPart == nil {
		return nil, errs.Newf(errs.NotFound, "no mounted partition carries path %q", path)
	}

	return &PathInfo{
		Path:               path,
		Partition:          bestPart,
		Drive:              bestDrive,
		FSType:             bestPart.FSType,
		Mountpoint:         bestPart.Mount.MountPath,
		ExpectedKernelName: expectedKernelName(bestDrive.KernelName, bestPart.Index),
	}, nil
}

// isPrefixPath reports whether mountpoint is a path-component prefix
// of path (so "/boot" matches "/boot/uEnv.txt" but not "/bootx").
func isPrefixPath(mountpoint, path string) bool {
	if mountpoint == "/" {
		return strings.HasPrefix(path, "/")
	}
	if !strings.HasPrefix(path, mountpoint) {
		return false
	}
	rest := strings.TrimPrefix(path, mountpoint)
	return rest == "" || strings.HasPrefix(rest, "/")
}

// NewDriveForTesting builds a Drive with the given kernel name and
// device path, without requiring a real lsblk enumeration. Exported so
// other packages' tests (stage1's orchestrator, in particular) can
// construct fake topology without reaching into unexported fields.
func NewDriveForTesting(kernelName, device string) *Drive {
	return &Drive{KernelName: kernelName, device: device}
}

// NewPartitionForTesting builds a Partition carrying the given device
// path, for the same reason as NewDriveForTesting.
func NewPartitionForTesting(device string) *Partition {
	return &Partition{device: device}
}

// ResolvePartition is the inverse mapping: given a partition device
// path, find the drive and partition carrying it.
func (insp *Inspector) ResolvePartition(device string) (*Drive, *Partition, error) {
	topo, err := insp.Snapshot()
	if err != nil {
		return nil, nil, err
	}

	for _, d := range topo.Drives {
		if d.device == device {
			return d, nil, nil
		}
		for _, p := range d.Partitions {
			if p.device == device {
				return d, p, nil
			}
		}
	}

	return nil, nil, errs.Newf(errs.NotFound, "no partition matches device %q", device)
}
