package stage1

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeArchReportsRuntimeGOARCH(t *testing.T) {
	assert.Equal(t, runtime.GOARCH, probeArch())
}

func TestReadTrimmedStripsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sys_vendor")
	require.NoError(t, os.WriteFile(path, []byte("  Acme Corp  \n"), 0644))
	assert.Equal(t, "Acme Corp", readTrimmed(path))
}

func TestReadTrimmedMissingFileReturnsEmptyString(t *testing.T) {
	assert.Equal(t, "", readTrimmed(filepath.Join(t.TempDir(), "nope")))
}

func TestReadTrimmedNulStripsTrailingNulByte(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model")
	require.NoError(t, os.WriteFile(path, []byte("Raspberry Pi 4 Model B\x00"), 0644))
	assert.Equal(t, "Raspberry Pi 4 Model B", readTrimmedNul(path))
}

func TestProbeBoardHintsDegradesGracefully(t *testing.T) {
	// Exercises the real fixed system paths only to the extent of
	// confirming graceful degradation: on a host without a device-tree
	// or DMI sysfs (e.g. a container), every field is the empty
	// string rather than an error.
	hints := probeBoardHints()
	assert.IsType(t, "", hints.DeviceTreeModel)
	assert.IsType(t, "", hints.DMIVendor)
	assert.IsType(t, "", hints.DMIProduct)
}
