package modload

import (
	"bufio"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/codifryed/coolercontrol-sub002/pkg/modload/modprobeconf"
)

// DefaultModprobeDirs are searched in kmod's precedence order: a file in an
// earlier directory hides a file of the same name in a later one.
var DefaultModprobeDirs = []string{
	"/etc/modprobe.d",
	"/run/modprobe.d",
	"/usr/local/lib/modprobe.d",
	"/usr/lib/modprobe.d",
	"/lib/modprobe.d",
}

// kernel command-line parameters that blacklist modules.
var cmdlineBlacklistKeys = []string{"modprobe.blacklist=", "module_blacklist="}

// Normalize maps a module name to the form used in /proc/modules.
func Normalize(module string) string {
	return strings.ReplaceAll(module, "-", "_")
}

// readBlacklist collects blacklisted modules from the modprobe.d directories
// and the kernel command line. Names are normalized.
func readBlacklist(dirs []string, cmdlinePath string) map[string]bool {
	out := make(map[string]bool)
	for _, path := range confFiles(dirs) {
		f, err := modprobeconf.ParseFile(path)
		if err != nil {
			slog.Warn("skipping unreadable modprobe config", "path", path, "err", err)
			continue
		}
		for _, m := range f.Blacklisted() {
			slog.Debug("module blacklisted", "module", m, "source", path)
			out[Normalize(m)] = true
		}
	}

	if cmdlinePath == "" {
		return out
	}
	raw, err := os.ReadFile(cmdlinePath)
	if err != nil {
		slog.Debug("kernel command line not readable", "path", cmdlinePath, "err", err)
		return out
	}
	for _, m := range parseCmdlineBlacklist(string(raw)) {
		slog.Debug("module blacklisted", "module", m, "source", cmdlinePath)
		out[Normalize(m)] = true
	}
	return out
}

// confFiles lists *.conf files across dirs, keeping the first file of each
// base name, sorted by base name.
func confFiles(dirs []string) []string {
	byName := make(map[string]string)
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				slog.Debug("cannot read modprobe config dir", "dir", dir, "err", err)
			}
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || filepath.Ext(name) != ".conf" {
				continue
			}
			if _, seen := byName[name]; !seen {
				byName[name] = filepath.Join(dir, name)
			}
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	paths := make([]string, 0, len(names))
	for _, name := range names {
		paths = append(paths, byName[name])
	}
	return paths
}

func parseCmdlineBlacklist(cmdline string) []string {
	var out []string
	for _, token := range strings.Fields(cmdline) {
		for _, key := range cmdlineBlacklistKeys {
			list, ok := strings.CutPrefix(token, key)
			if !ok {
				continue
			}
			for _, m := range strings.Split(list, ",") {
				if m = strings.TrimSpace(m); m != "" {
					out = append(out, m)
				}
			}
		}
	}
	return out
}

// readProcModules returns the normalized names of loaded modules. A missing
// or unreadable file yields an empty set.
func readProcModules(path string) map[string]bool {
	out := make(map[string]bool)
	f, err := os.Open(path)
	if err != nil {
		slog.Debug("module list not readable", "path", path, "err", err)
		return out
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) > 0 {
			out[Normalize(fields[0])] = true
		}
	}
	if err := sc.Err(); err != nil {
		slog.Debug("error reading module list", "path", path, "err", err)
	}
	return out
}
