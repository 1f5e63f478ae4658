package service

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// DaemonCountKey is the variable in the server defaults file that sets the
// number of nfsd threads.
const DaemonCountKey = "RPCNFSDCOUNT"

var daemonCountLine = regexp.MustCompile(`(?m)^` + DaemonCountKey + `.*$`)

// DaemonConfig edits the server's shell-style defaults file.
type DaemonConfig struct {
	fs   afero.Fs
	path string
}

// NewDaemonConfig creates a DaemonConfig for the file at path.
func NewDaemonConfig(fs afero.Fs, path string) *DaemonConfig {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &DaemonConfig{fs: fs, path: path}
}

// Path returns the defaults file location.
func (d *DaemonConfig) Path() string {
	return d.path
}

// SetDaemonCount rewrites the RPCNFSDCOUNT line to count, appending it when
// the file has none. Every other line is preserved. A missing file is created.
//
// Returns true when the file content changed.
func (d *DaemonConfig) SetDaemonCount(count int) (bool, error) {
	if count < 1 {
		return false, fmt.Errorf("daemon count must be positive, got %d", count)
	}

	data, err := afero.ReadFile(d.fs, d.path)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to read %s: %w", d.path, err)
	}

	line := DaemonCountKey + "=" + strconv.Itoa(count)
	content := string(data)

	var updated string
	if daemonCountLine.MatchString(content) {
		updated = daemonCountLine.ReplaceAllLiteralString(content, line)
	} else {
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		updated = content + line + "\n"
	}

	if updated == string(data) {
		return false, nil
	}

	mode := os.FileMode(0o644)
	if info, err := d.fs.Stat(d.path); err == nil {
		mode = info.Mode().Perm()
	}

	if err := afero.WriteFile(d.fs, d.path, []byte(updated), mode); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", d.path, err)
	}
	return true, nil
}

// DaemonCount returns the configured thread count, or 0 if the file or the
// line is absent.
func (d *DaemonConfig) DaemonCount() (int, error) {
	data, err := afero.ReadFile(d.fs, d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read %s: %w", d.path, err)
	}

	match := daemonCountLine.FindString(string(data))
	if match == "" {
		return 0, nil
	}

	value := strings.TrimPrefix(match, DaemonCountKey)
	value = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), "="))
	value = strings.Trim(value, `"'`)

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q in %s", DaemonCountKey, value, d.path)
	}
	return n, nil
}
