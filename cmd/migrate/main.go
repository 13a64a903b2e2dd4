// Command migrate is the entry point for all three invocations
// spec.md §6 names: stage 1 (the "migrate" subcommand), the external
// "extract" collaborator (stubbed; out of scope per spec.md §1), and
// stage 2 (the "stage2" subcommand run from the staged initramfs).
// Grounded on wolfbox-snappy/cmd/snappy-go/main.go's go-flags parser
// + ActivateLogger-in-init shape.
package main

import (
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/lxc-migrate/appliance-migrate/internal/logging"
)

type options struct {
	LogLevel string `long:"log-level" description:"log level (debug, info, warn, error)" default:"info"`
}

var optionsData options

var parser = flags.NewParser(&optionsData, flags.Default)

func init() {
	if err := logging.Activate("-", "info"); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: failed to activate logging: %s\n", err)
	}
}

func main() {
	// Apply --log-level once options are parsed, before the selected
	// command runs.
	parser.CommandHandler = func(command flags.Commander, args []string) error {
		logging.Activate("-", optionsData.LogLevel)
		if command == nil {
			return nil
		}
		return command.Execute(args)
	}
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
}

func isRoot() bool {
	return os.Geteuid() == 0
}
