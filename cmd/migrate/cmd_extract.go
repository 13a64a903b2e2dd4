package main

import (
	"github.com/lxc-migrate/appliance-migrate/errs"
	"github.com/lxc-migrate/appliance-migrate/internal/sysutils"
)

const longExtractHelp = `Unpacks an appliance image archive into the files "migrate" expects
(kernel, initramfs, disk image). Archive extraction and decompression
are external collaborators (spec.md §1 Out of scope): this command
only locates and invokes the "appliance-extract" tool on PATH.`

type cmdExtract struct {
	Args struct {
		Archive string `positional-arg-name:"archive" required:"true"`
		DestDir string `positional-arg-name:"dest-dir" required:"true"`
	} `positional-args:"true"`
}

func init() {
	var data cmdExtract
	parser.AddCommand("extract",
		"Unpack an appliance image archive (delegates to appliance-extract)",
		longExtractHelp,
		&data)
}

func (x *cmdExtract) Execute(args []string) error {
	if err := sysutils.RequireTools([]string{"appliance-extract"}); err != nil {
		return err
	}
	if err := sysutils.RunCommand("appliance-extract", x.Args.Archive, x.Args.DestDir); err != nil {
		return errs.Wrap(errs.IoError, err, "appliance-extract")
	}
	return nil
}
