package sysutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lxc-migrate/appliance-migrate/errs"
)

func TestRunCommandRejectsEmptyArgs(t *testing.T) {
	err := RunCommand()
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidParameter))
}

func TestRunCommandSurfacesStderrOnFailure(t *testing.T) {
	err := RunCommand("sh", "-c", "echo boom >&2; exit 1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.IoError))
	assert.Contains(t, err.Error(), "boom")
}

func TestRunCommandWithStdoutRejectsEmptyArgs(t *testing.T) {
	_, err := RunCommandWithStdout()
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidParameter))
}

func TestRunCommandWithStdoutSplitsLines(t *testing.T) {
	lines, err := RunCommandWithStdout("sh", "-c", "printf 'one\\ntwo\\nthree\\n'")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, lines)
}

func TestFileExistsTrueForRealFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "present")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	assert.True(t, FileExists(path))
}

func TestFileExistsFalseForMissingFile(t *testing.T) {
	assert.False(t, FileExists(filepath.Join(t.TempDir(), "absent")))
}

func TestCopyFilePreservesContentAndMode(t *testing.T) {
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "source")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0600))

	dst := filepath.Join(t.TempDir(), "nested", "dest")
	require.NoError(t, CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	srcInfo, err := os.Stat(src)
	require.NoError(t, err)
	dstInfo, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, srcInfo.Mode(), dstInfo.Mode())
}

func TestCopyFileMissingSourceReturnsIoError(t *testing.T) {
	err := CopyFile(filepath.Join(t.TempDir(), "nope"), filepath.Join(t.TempDir(), "dest"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.IoError))
}

func TestAtomicWriteFileCreatesNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, AtomicWriteFile(path, []byte("content"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	_, err = os.Stat(path + ".NEW")
	assert.True(t, os.IsNotExist(err))
}

func TestAtomicWriteFileReplacesExistingContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))
	require.NoError(t, AtomicWriteFile(path, []byte("new"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestFreeBytesReportsNonNegativeValueForRealPath(t *testing.T) {
	free, err := FreeBytes(t.TempDir())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, free, int64(0))
}

func TestFreeBytesMissingPathReturnsIoError(t *testing.T) {
	_, err := FreeBytes(filepath.Join(t.TempDir(), "does", "not", "exist"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.IoError))
}

func TestRequireToolsAllPresent(t *testing.T) {
	assert.NoError(t, RequireTools([]string{"sh"}))
}

func TestRequireToolsMissingToolReportsItsName(t *testing.T) {
	err := RequireTools([]string{"sh", "definitely-not-a-real-tool-xyz"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "definitely-not-a-real-tool-xyz")
}

func TestSyncDoesNotPanic(t *testing.T) {
	Sync()
}
