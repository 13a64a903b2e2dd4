package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lxc-migrate/appliance-migrate/errs"
)

func withLsblkOutput(t *testing.T, lines []string) {
	t.Helper()
	orig := runLsblk
	runLsblk = func() ([]string, error) { return lines, nil }
	t.Cleanup(func() { runLsblk = orig })
}

func sampleLines() []string {
	return []string{
		`NAME="sda" KNAME="sda" PKNAME="" TYPE="disk" SIZE="1000000000" FSTYPE="" UUID="" MOUNTPOINT=""`,
		`NAME="sda1" KNAME="sda1" PKNAME="sda" TYPE="part" SIZE="500000000" FSTYPE="vfat" UUID="aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee" MOUNTPOINT="/boot"`,
		`NAME="sda2" KNAME="sda2" PKNAME="sda" TYPE="part" SIZE="499000000" FSTYPE="ext4" UUID="" MOUNTPOINT="/"`,
	}
}

func TestSnapshotParsesDrivesAndPartitions(t *testing.T) {
	withLsblkOutput(t, sampleLines())

	insp := NewInspector()
	topo, err := insp.Snapshot()
	require.NoError(t, err)
	require.Len(t, topo.Drives, 1)

	drive := topo.Drives[0]
	assert.Equal(t, "sda", drive.KernelName)
	assert.Equal(t, "/dev/sda", drive.Device())
	assert.Equal(t, int64(1000000000), drive.SizeBytes)
	require.Len(t, drive.Partitions, 2)

	assert.Equal(t, 1, drive.Partitions[0].Index)
	assert.Equal(t, "vfat", drive.Partitions[0].FSType)
	assert.NotEqual(t, "", drive.Partitions[0].UUID.String())

	assert.Equal(t, 2, drive.Partitions[1].Index)
	assert.Equal(t, "ext4", drive.Partitions[1].FSType)
}

func TestSnapshotCachesAfterFirstCall(t *testing.T) {
	calls := 0
	orig := runLsblk
	runLsblk = func() ([]string, error) {
		calls++
		return sampleLines(), nil
	}
	t.Cleanup(func() { runLsblk = orig })

	insp := NewInspector()
	_, err := insp.Snapshot()
	require.NoError(t, err)
	_, err = insp.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "Snapshot must enumerate at most once per Inspector")
}

func TestResolvePathPicksLongestMountpointPrefix(t *testing.T) {
	withLsblkOutput(t, sampleLines())

	insp := NewInspector()
	pi, err := insp.ResolvePath("/boot/uEnv.txt")
	require.NoError(t, err)
	assert.Equal(t, "/boot", pi.Mountpoint)
	assert.Equal(t, "vfat", pi.FSType)

	pi, err = insp.ResolvePath("/etc/hostname")
	require.NoError(t, err)
	assert.Equal(t, "/", pi.Mountpoint)
	assert.Equal(t, "ext4", pi.FSType)
}

func TestResolvePathRejectsLookAlikePrefix(t *testing.T) {
	withLsblkOutput(t, sampleLines())

	insp := NewInspector()
	pi, err := insp.ResolvePath("/bootstrap/file")
	require.NoError(t, err)
	assert.Equal(t, "/", pi.Mountpoint, "a /boot mount must not match /bootstrap")
}

func TestResolvePathNotFoundWhenUnmounted(t *testing.T) {
	withLsblkOutput(t, []string{
		`NAME="sda" KNAME="sda" PKNAME="" TYPE="disk" SIZE="100" FSTYPE="" UUID="" MOUNTPOINT=""`,
	})

	insp := NewInspector()
	_, err := insp.ResolvePath("/nowhere")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestResolvePartitionFindsDriveAndPartition(t *testing.T) {
	withLsblkOutput(t, sampleLines())

	insp := NewInspector()
	drive, part, err := insp.ResolvePartition("/dev/sda")
	require.NoError(t, err)
	assert.NotNil(t, drive)
	assert.Nil(t, part)

	drive, part, err = insp.ResolvePartition("/dev/sda2")
	require.NoError(t, err)
	assert.NotNil(t, drive)
	require.NotNil(t, part)
	assert.Equal(t, 2, part.Index)
}

func TestExpectedKernelNameConvention(t *testing.T) {
	assert.Equal(t, "sda3", expectedKernelName("sda", 3))
	assert.Equal(t, "mmcblk0p2", expectedKernelName("mmcblk0", 2))
	assert.Equal(t, "nvme0n1p1", expectedKernelName("nvme0n1", 1))
}
