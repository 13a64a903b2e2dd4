package bootmgr

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/lxc-migrate/appliance-migrate/errs"
)

// nameValueChange is a Name=Value pair to apply to a config file.
// Direct port of the teacher's configFileChange
// (bootloader_uboot.go).
type nameValueChange struct {
	Name  string
	Value string
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func writeLines(lines []string, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return w.Flush()
}

// atomicFileUpdate writes lines to file via a temporary sibling then
// renames it into place, as the teacher's atomicFileUpdate does.
func atomicFileUpdate(file string, lines []string) error {
	tmp := file + ".NEW"
	if err := writeLines(lines, tmp); err != nil {
		return err
	}
	return os.Rename(tmp, file)
}

// modifyNameValueFile rewrites file, applying changes to any matching
// "Name=Value" lines and appending entries that were not already
// present. Lines untouched by changes are left alone. Direct
// generalization of the teacher's modifyNameValueFile
// (bootloader_uboot.go), used here for uEnv.txt and the Raspberry Pi
// config.txt (cmdline.txt is rewritten by rewriteCmdlineTokens).
func modifyNameValueFile(file string, changes []nameValueChange) error {
	lines, err := readLines(file)
	if err != nil {
		if !os.IsNotExist(err) {
			return errs.Wrap(errs.IoError, err, "read "+file)
		}
		lines = nil
	}

	applied := make(map[string]bool, len(changes))
	var rewritten []string
	for _, line := range lines {
		newLine := line
		for _, change := range changes {
			if strings.HasPrefix(line, change.Name+"=") {
				newLine = fmt.Sprintf("%s=%s", change.Name, change.Value)
				applied[change.Name] = true
			}
		}
		rewritten = append(rewritten, newLine)
	}

	for _, change := range changes {
		if !applied[change.Name] {
			rewritten = append(rewritten, fmt.Sprintf("%s=%s", change.Name, change.Value))
		}
	}

	if err := atomicFileUpdate(file, rewritten); err != nil {
		return errs.Wrap(errs.IoError, err, "rewrite "+file)
	}
	return nil
}

// readNameValue retrieves a single Name=Value pair from file without a
// config parser. It matches whole lines by prefix, so on a single-line
// file such as cmdline.txt it returns the rest of that line.
func readNameValue(file, name string) (string, error) {
	lines, err := readLines(file)
	if err != nil {
		return "", errs.Wrap(errs.IoError, err, "read "+file)
	}
	prefix := name + "="
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimPrefix(line, prefix), nil
		}
	}
	return "", errs.Newf(errs.NotFound, "%s not set in %s", name, file)
}
