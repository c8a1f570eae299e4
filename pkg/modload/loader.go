// Package modload decides, for each detected chip, whether its kernel
// driver should be loaded, and loads it with modprobe.
package modload

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/codifryed/coolercontrol-sub002/pkg/chipdb"
)

const (
	DefaultModulesPath = "/proc/modules"
	DefaultCmdlinePath = "/proc/cmdline"

	modprobeCommand = "modprobe"
	udevadmCommand  = "udevadm"

	// SettleTimeout bounds udevadm settle. modprobe itself runs under the
	// caller's context only.
	SettleTimeout = 15 * time.Second
)

// Loader resolves module statuses. Paths are fields so tests can point them
// at temporary files. A Loader remembers what it loaded, so resolving the
// same driver twice reports it as already loaded.
type Loader struct {
	Runner       Runner
	ModulesPath  string
	CmdlinePath  string
	ModprobeDirs []string
	Conflicts    []chipdb.Conflict

	loaded map[string]bool
}

// NewLoader returns a Loader using the system paths and the given driver
// priority groups.
func NewLoader(conflicts []chipdb.Conflict) *Loader {
	return &Loader{
		Runner:       ExecRunner{},
		ModulesPath:  DefaultModulesPath,
		CmdlinePath:  DefaultCmdlinePath,
		ModprobeDirs: append([]string(nil), DefaultModprobeDirs...),
		Conflicts:    conflicts,
	}
}

// Resolve returns one status per entry of drivers, in the same order.
// drivers is the full set detected in this run; it is also what conflict
// groups are checked against. When canLoad is false nothing is read or run.
func (l *Loader) Resolve(ctx context.Context, drivers []string, canLoad bool) []Status {
	statuses := make([]Status, len(drivers))
	if !canLoad {
		for i, d := range drivers {
			slog.Info("module loading unavailable, skipping", "module", d)
			statuses[i] = SkippedNoModprobe()
		}
		return statuses
	}

	present := readProcModules(l.ModulesPath)
	blacklist := readBlacklist(l.ModprobeDirs, l.CmdlinePath)

	for i, d := range drivers {
		statuses[i] = l.resolveOne(ctx, d, drivers, present, blacklist)
	}
	return statuses
}

func (l *Loader) resolveOne(ctx context.Context, driver string, all []string, present, blacklist map[string]bool) Status {
	name := Normalize(driver)
	if present[name] || l.loaded[name] {
		slog.Debug("module already loaded", "module", driver)
		return AlreadyLoaded()
	}
	if blacklist[name] {
		slog.Info("module is blacklisted, skipping", "module", driver)
		return Blacklisted()
	}
	if preferred, ok := l.preferredOver(driver, all, blacklist); ok {
		slog.Info("module conflicts with preferred driver, skipping", "module", driver, "preferred", preferred)
		return SkippedConflict(preferred)
	}

	if err := l.modprobe(ctx, driver); err != nil {
		reason := failureReason(err)
		slog.Warn("failed to load module", "module", driver, "reason", reason)
		return Failed(reason)
	}
	slog.Info("loaded module", "module", driver)
	if l.loaded == nil {
		l.loaded = make(map[string]bool)
	}
	l.loaded[name] = true
	return Loaded()
}

// preferredOver returns the highest-priority driver that shares a conflict
// group with driver, ranks above it, was detected in this run and is not
// blacklisted.
func (l *Loader) preferredOver(driver string, detected []string, blacklist map[string]bool) (string, bool) {
	inRun := make(map[string]bool, len(detected))
	for _, d := range detected {
		inRun[Normalize(d)] = true
	}

	for _, group := range l.Conflicts {
		rank := group.Rank(driver)
		if rank <= 0 {
			continue
		}
		for _, candidate := range group.Drivers[:rank] {
			n := Normalize(candidate)
			if inRun[n] && !blacklist[n] {
				slog.Debug("driver conflict", "group", group.Name, "driver", driver, "preferred", candidate)
				return candidate, true
			}
		}
	}
	return "", false
}

func (l *Loader) modprobe(ctx context.Context, driver string) error {
	slog.Debug("running modprobe", "module", driver)
	_, _, err := l.Runner.Run(ctx, modprobeCommand, driver)
	return err
}

// Settle waits for udev to finish processing the events generated by newly
// loaded drivers, so their hwmon devices exist before the caller looks.
func (l *Loader) Settle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, SettleTimeout)
	defer cancel()

	slog.Debug("running udevadm settle")
	if _, _, err := l.Runner.Run(ctx, udevadmCommand, "settle"); err != nil {
		return err
	}
	slog.Debug("udevadm settle completed")
	return nil
}

// Blacklist returns the normalized names of every blacklisted module,
// sorted.
func (l *Loader) Blacklist() []string {
	set := readBlacklist(l.ModprobeDirs, l.CmdlinePath)
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// failureReason prefers the command's stderr over the bare exit status.
func failureReason(err error) string {
	var cerr *CommandError
	if errors.As(err, &cerr) {
		if s := strings.TrimSpace(cerr.Stderr); s != "" {
			return Truncate(s, MaxOutputBytes)
		}
		if cerr.Err != nil {
			return Truncate(cerr.Err.Error(), MaxOutputBytes)
		}
	}
	return Truncate(err.Error(), MaxOutputBytes)
}
