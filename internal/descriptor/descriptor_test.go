package descriptor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lxc-migrate/appliance-migrate/errs"
	"github.com/lxc-migrate/appliance-migrate/internal/backup"
)

func buildSampleDescriptor() *Descriptor {
	b := NewBuilder()
	b.SetFlashDevice("/dev/sda")
	b.SetExpectedFlashDeviceSizeBytes(32 * 1024 * 1024 * 1024)
	b.SetImagePath("migrate-staging/appliance.img")
	b.SetApplianceConfigPath("appliance-config.toml")
	b.SetNetworkProfiles([]string{"network/eth0.nmconnection"})
	b.SetWifiProfiles([]string{"wifi/home.nmconnection"})
	b.SetFailureMode(RescueShell)
	b.SetLog("/dev/ttyS0", "debug")
	b.SetKernelCmdline("console=ttyS0 root=/dev/sda2")
	b.SetBootType("Grub", "/boot", 0)
	b.SetApplianceConfigPartitionIndex(2)
	b.AddBackup(backup.Pair{Original: "grub.cfg", Backup: "grub.cfg.bak"})
	b.AddLayoutEntry(LayoutEntry{Device: "/dev/sda3", MountPath: "/mnt/appliance-config", FSType: "ext4", ReadWrite: true})
	b.SetExpectedBootPartitionUUID(uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"))
	return b.Finish()
}

func TestSerializeParseRoundTrip(t *testing.T) {
	d := buildSampleDescriptor()
	data, err := Serialize(d)
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
}

func TestSerializeIsDeterministic(t *testing.T) {
	d := buildSampleDescriptor()
	first, err := Serialize(d)
	require.NoError(t, err)
	second, err := Serialize(d)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	d := buildSampleDescriptor()
	path := filepath.Join(t.TempDir(), "stage2-descriptor.toml")
	require.NoError(t, Save(d, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, d, loaded)
}

func TestLoadRejectsSchemaVersionMismatch(t *testing.T) {
	d := buildSampleDescriptor()
	d.SchemaVersion = CurrentSchemaVersion + 1

	path := filepath.Join(t.TempDir(), "stage2-descriptor.toml")
	require.NoError(t, Save(d, path))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidParameter))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestNewStampsSchemaVersionAndRunID(t *testing.T) {
	d := New()
	assert.Equal(t, CurrentSchemaVersion, d.SchemaVersion)
	assert.NotEmpty(t, d.RunID)
	assert.Equal(t, Reboot, d.FailureMode)
}

func TestBuilderKernelCmdlineAndBackupsAccessors(t *testing.T) {
	b := NewBuilder()
	b.SetKernelCmdline("console=tty0")
	b.AddBackup(backup.Pair{Original: "a", Backup: "a.bak"})
	b.AddBackup(backup.Pair{Original: "b", Backup: ""})

	assert.Equal(t, "console=tty0", b.KernelCmdline())
	require.Len(t, b.Backups(), 2)
	assert.Equal(t, "a", b.Backups()[0].Original)
}

func TestSaveWritesReadableFile(t *testing.T) {
	d := buildSampleDescriptor()
	path := filepath.Join(t.TempDir(), "out.toml")
	require.NoError(t, Save(d, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "flash_device")
	assert.Contains(t, string(data), "/dev/sda")
}
