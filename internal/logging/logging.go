// Package logging activates and exposes the process-wide logger. It
// follows the calling convention of the teacher's
// launchpad.net/snappy/logger package (ActivateLogger, LogError) but
// is backed by logrus instead of a hand-rolled syslog wrapper.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var std = logrus.New()

func init() {
	std.SetOutput(os.Stderr)
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	std.SetLevel(logrus.InfoLevel)
}

// Activate points the logger at the given device (a path, or "-" for
// stderr) and sets its level. It mirrors the teacher's
// logger.ActivateLogger() entry point, generalized to accept the
// Stage-2 Descriptor's "log device + level" fields.
func Activate(device, level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	std.SetLevel(lvl)

	if device == "" || device == "-" {
		std.SetOutput(os.Stderr)
		return nil
	}

	f, err := os.OpenFile(device, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		// Fall back to stderr; a dead log device must never block
		// the migration itself.
		std.SetOutput(os.Stderr)
		std.Warnf("failed to open log device %q, falling back to stderr: %v", device, err)
		return err
	}
	std.SetOutput(io.MultiWriter(os.Stderr, f))
	return nil
}

// Log returns the shared structured logger.
func Log() *logrus.Logger { return std }

// WithRunID scopes every subsequent field to the given migration run,
// so stage-2 log lines can be correlated back to the stage-1 run that
// staged them (see SPEC_FULL.md §6, run identifier).
func WithRunID(runID string) *logrus.Entry {
	return std.WithField("run_id", runID)
}

// LogError logs err at Error level (if non-nil) and returns it
// unchanged, so call sites can write "return logging.LogError(err)"
// exactly as the teacher's cmd_booted.go does with logger.LogError.
func LogError(err error) error {
	if err != nil {
		std.Errorf("%v", err)
	}
	return err
}
