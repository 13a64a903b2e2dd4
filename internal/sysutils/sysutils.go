// Package sysutils collects the small OS-facing primitives every
// component shells out through: running external tools, probing their
// presence, and the handful of file helpers the teacher kept in
// helpers/helpers.go (FileExists, AtomicWriteFile). Kept deliberately
// on the standard library: the teacher never reaches for a process
// wrapper library either, it calls os/exec directly everywhere.
package sysutils

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/lxc-migrate/appliance-migrate/errs"
)

// RunCommand runs the given argv, discarding stdout but surfacing
// stderr in the returned error. Mirrors the teacher's runCommand.
func RunCommand(args ...string) error {
	if len(args) == 0 {
		return errs.New(errs.InvalidParameter, "RunCommand: no arguments given")
	}

	cmd := exec.Command(args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return errs.Wrap(errs.IoError, err, stderr.String())
	}
	return nil
}

// RunCommandWithStdout runs the given argv and returns its stdout
// split into lines, as the teacher's runCommandWithStdout (used by
// runLsblk and the GRUB bootloader's grub-editenv list) does.
func RunCommandWithStdout(args ...string) ([]string, error) {
	if len(args) == 0 {
		return nil, errs.New(errs.InvalidParameter, "RunCommandWithStdout: no arguments given")
	}

	cmd := exec.Command(args[0], args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, errs.Wrap(errs.IoError, err, stderr.String())
	}

	var lines []string
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// FileExists returns true if path can be stat()ed. Direct port of
// helpers.FileExists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CopyFile copies src to dst, preserving the source's mode bits.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errs.Wrap(errs.IoError, err, "open source for copy")
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return errs.Wrap(errs.IoError, err, "stat source for copy")
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return errs.Wrap(errs.IoError, err, "create destination directory")
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return errs.Wrap(errs.IoError, err, "open destination for copy")
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errs.Wrap(errs.IoError, err, "copy file contents")
	}
	return out.Sync()
}

// AtomicWriteFile updates filename atomically: write to a sibling
// ".NEW" file, then rename over the original. Direct port of the
// teacher's AtomicWriteFile / atomicFileUpdate helpers.
func AtomicWriteFile(filename string, data []byte, perm os.FileMode) error {
	tmp := filename + ".NEW"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.IoError, err, "write temp file")
	}
	if err := os.Rename(tmp, filename); err != nil {
		return errs.Wrap(errs.IoError, err, "rename temp file into place")
	}
	return nil
}

// FreeBytes reports the free space available on the filesystem
// containing path, via statfs(2).
func FreeBytes(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, errs.Wrap(errs.IoError, err, "statfs")
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}

// BlockDeviceSize reports a block device's size in bytes via the
// BLKGETSIZE64 ioctl. Used by the Stage-2 Flasher to confirm the
// device the descriptor names still matches the size stage 1 recorded
// (from lsblk) before it is overwritten.
func BlockDeviceSize(device string) (int64, error) {
	f, err := os.Open(device)
	if err != nil {
		return 0, errs.Wrap(errs.IoError, err, "open device to query size")
	}
	defer f.Close()

	size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, errs.Wrap(errs.IoError, err, "BLKGETSIZE64")
	}
	return int64(size), nil
}

// RequireTools validates that every named external tool is present on
// PATH, failing with the tool's own name per spec.md §6. Generalizes
// the ad hoc exec.LookPath checks the teacher scatters around
// individual commands (e.g. cmd_build.go's click-review check) into
// one reusable preflight step.
func RequireTools(tools []string) error {
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			return errs.ToolMissingFor(tool)
		}
	}
	return nil
}

// Sync flushes the kernel's buffer cache to disk. Used before every
// unmount and before every reboot attempt, per spec.md §5 and §7.
func Sync() {
	unix.Sync()
}
