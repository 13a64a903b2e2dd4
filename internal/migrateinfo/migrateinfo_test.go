package migrateinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lxc-migrate/appliance-migrate/errs"
	"github.com/lxc-migrate/appliance-migrate/internal/topology"
)

func pathInfo(path string) *topology.PathInfo {
	return &topology.PathInfo{Path: path}
}

func fullyPopulatedBuilder() *Builder {
	b := NewBuilder()
	b.SetOSName("Ubuntu 24.04").
		SetArch("amd64").
		SetEFIBoot(true).
		SetSecureBoot(false).
		SetDeviceSlug("genericpc-efi").
		SetWorkDir(pathInfo("/mnt/work")).
		SetApplianceImage(pathInfo("/mnt/work/appliance.img")).
		SetApplianceConfig(pathInfo("/mnt/work/config.toml")).
		SetStagedKernel(pathInfo("/mnt/work/vmlinuz")).
		SetStagedInitramfs(pathInfo("/mnt/work/initrd.img"))
	return b
}

func TestBuildSucceedsWhenEveryRequiredFieldSet(t *testing.T) {
	info, err := fullyPopulatedBuilder().Build()
	require.NoError(t, err)
	assert.Equal(t, "Ubuntu 24.04", info.OSName)
	assert.Equal(t, "genericpc-efi", info.DeviceSlug)
	assert.NotEqual(t, info.RunID.String(), "00000000-0000-0000-0000-000000000000")
}

func TestBuildFailsWhenARequiredFieldIsMissing(t *testing.T) {
	b := NewBuilder()
	b.SetOSName("Ubuntu 24.04").SetArch("amd64")
	// DeviceSlug, WorkDir, ApplianceImage, ApplianceConfig,
	// StagedKernel, StagedInitramfs are all left unset.

	_, err := b.Build()
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidParameter))
}

func TestOptionalFieldsDoNotBlockBuild(t *testing.T) {
	b := fullyPopulatedBuilder()
	// EFIBoot/SecureBoot/NetworkProfiles/WifiProfiles/AddBackup are
	// optional: Build must succeed even though none of them were
	// explicitly re-set beyond the zero value here.
	info, err := b.Build()
	require.NoError(t, err)
	assert.Empty(t, info.NetworkProfiles)
	assert.Empty(t, info.WifiProfiles)
	assert.Empty(t, info.BootBackups)
}

func TestRunIDStableAcrossBuilderCalls(t *testing.T) {
	b := fullyPopulatedBuilder()
	before := b.RunID()
	info, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, before, info.RunID)
}
