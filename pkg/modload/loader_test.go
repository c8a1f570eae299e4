package modload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codifryed/coolercontrol-sub002/pkg/chipdb"
)

// fakeRunner records invocations and returns canned failures by command
// line.
type fakeRunner struct {
	calls    []string
	failures map[string]error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	line := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, line)
	if err, ok := f.failures[line]; ok {
		return nil, nil, err
	}
	return nil, nil, nil
}

func (f *fakeRunner) count(line string) int {
	n := 0
	for _, c := range f.calls {
		if c == line {
			n++
		}
	}
	return n
}

var nuvoton = chipdb.Conflict{Name: "nuvoton", Drivers: []string{"nct6775", "nct6687", "nct6683"}}

func newTestLoader(t *testing.T, procModules string) (*Loader, *fakeRunner) {
	t.Helper()
	dir := t.TempDir()
	modules := filepath.Join(dir, "modules")
	require.NoError(t, os.WriteFile(modules, []byte(procModules), 0o644))

	runner := &fakeRunner{failures: map[string]error{}}
	return &Loader{
		Runner:       runner,
		ModulesPath:  modules,
		CmdlinePath:  filepath.Join(dir, "cmdline"),
		ModprobeDirs: []string{filepath.Join(dir, "etc"), filepath.Join(dir, "lib")},
		Conflicts:    []chipdb.Conflict{nuvoton},
	}, runner
}

func writeConf(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestResolveLoads(t *testing.T) {
	l, runner := newTestLoader(t, "")

	got := l.Resolve(context.Background(), []string{"it87"}, true)

	assert.Equal(t, []Status{Loaded()}, got)
	assert.Equal(t, []string{"modprobe it87"}, runner.calls)
}

func TestResolveWithoutModprobe(t *testing.T) {
	l, runner := newTestLoader(t, "")

	got := l.Resolve(context.Background(), []string{"it87", "nct6775"}, false)

	assert.Equal(t, []Status{SkippedNoModprobe(), SkippedNoModprobe()}, got)
	assert.Empty(t, runner.calls)
}

func TestResolveAlreadyLoaded(t *testing.T) {
	l, runner := newTestLoader(t, "nct6775 16384 0 - Live 0xffffffff\nhwmon_vid 12288 1 nct6775, Live 0x0\n")

	got := l.Resolve(context.Background(), []string{"nct6775"}, true)

	assert.Equal(t, []Status{AlreadyLoaded()}, got)
	assert.Zero(t, runner.count("modprobe nct6775"), "modprobe must not run for a loaded module")
}

func TestResolveHyphenNormalization(t *testing.T) {
	l, runner := newTestLoader(t, "some_module 16384 0 - Live 0x0\n")

	got := l.Resolve(context.Background(), []string{"some-module"}, true)

	assert.Equal(t, []Status{AlreadyLoaded()}, got)
	assert.Empty(t, runner.calls)
}

func TestResolveTwiceReportsAlreadyLoaded(t *testing.T) {
	l, runner := newTestLoader(t, "")

	first := l.Resolve(context.Background(), []string{"it87", "it87"}, true)
	second := l.Resolve(context.Background(), []string{"it87"}, true)

	assert.Equal(t, []Status{Loaded(), AlreadyLoaded()}, first)
	assert.Equal(t, []Status{AlreadyLoaded()}, second)
	assert.Equal(t, 1, runner.count("modprobe it87"))
}

func TestResolveBlacklistedInModprobeD(t *testing.T) {
	l, runner := newTestLoader(t, "")
	writeConf(t, l.ModprobeDirs[0], "hwmon.conf", "# vendor driver\nblacklist nct6687\n")
	writeConf(t, l.ModprobeDirs[1], "notes.txt", "blacklist it87\n")

	got := l.Resolve(context.Background(), []string{"nct6687", "it87"}, true)

	assert.Equal(t, []Status{Blacklisted(), Loaded()}, got)
	assert.Equal(t, []string{"modprobe it87"}, runner.calls)
}

func TestBlacklistPrecedence(t *testing.T) {
	l, _ := newTestLoader(t, "")
	// The /etc copy hides the packaged file of the same name.
	writeConf(t, l.ModprobeDirs[0], "sensors.conf", "options it87 force_id=0x8628\n")
	writeConf(t, l.ModprobeDirs[1], "sensors.conf", "blacklist it87\n")
	writeConf(t, l.ModprobeDirs[1], "gpu.conf", "blacklist nouveau\n")

	assert.Equal(t, []string{"nouveau"}, l.Blacklist())
}

func TestBlacklistMalformedFileSkipped(t *testing.T) {
	l, _ := newTestLoader(t, "")
	writeConf(t, l.ModprobeDirs[0], "bad.conf", "blacklist it87 \\")
	writeConf(t, l.ModprobeDirs[0], "good.conf", "blacklist-ignored\nblacklist dme1737\n")

	assert.Equal(t, []string{"dme1737"}, l.Blacklist())
}

func TestResolveBlacklistedOnCmdline(t *testing.T) {
	l, runner := newTestLoader(t, "")
	require.NoError(t, os.WriteFile(l.CmdlinePath,
		[]byte("BOOT_IMAGE=/vmlinuz root=/dev/sda1 modprobe.blacklist=nct6687,nouveau module_blacklist=it87\n"), 0o644))

	got := l.Resolve(context.Background(), []string{"nct6687", "it87", "f71882fg"}, true)

	assert.Equal(t, []Status{Blacklisted(), Blacklisted(), Loaded()}, got)
	assert.Equal(t, []string{"modprobe f71882fg"}, runner.calls)
}

func TestResolveConflict(t *testing.T) {
	l, runner := newTestLoader(t, "")

	got := l.Resolve(context.Background(), []string{"nct6687", "nct6775"}, true)

	assert.Equal(t, []Status{SkippedConflict("nct6775"), Loaded()}, got)
	assert.Equal(t, []string{"modprobe nct6775"}, runner.calls)
}

func TestResolveConflictPicksHighestPriority(t *testing.T) {
	l, _ := newTestLoader(t, "")

	got := l.Resolve(context.Background(), []string{"nct6683", "nct6687"}, true)

	assert.Equal(t, []Status{SkippedConflict("nct6687"), Loaded()}, got)
}

func TestResolveConflictHyphenatedGroup(t *testing.T) {
	l, runner := newTestLoader(t, "")
	l.Conflicts = []chipdb.Conflict{{Name: "vendor", Drivers: []string{"vendor-hwmon", "vendor_legacy"}}}

	got := l.Resolve(context.Background(), []string{"vendor-legacy", "vendor_hwmon"}, true)

	assert.Equal(t, []Status{SkippedConflict("vendor-hwmon"), Loaded()}, got)
	assert.Equal(t, []string{"modprobe vendor_hwmon"}, runner.calls)
}

func TestResolveConflictIgnoresBlacklistedPreferred(t *testing.T) {
	l, _ := newTestLoader(t, "")
	writeConf(t, l.ModprobeDirs[0], "nct.conf", "blacklist nct6775\n")

	got := l.Resolve(context.Background(), []string{"nct6775", "nct6687"}, true)

	assert.Equal(t, []Status{Blacklisted(), Loaded()}, got)
}

func TestResolveIsDeterministic(t *testing.T) {
	drivers := []string{"nct6683", "it87", "nct6687", "nct6775"}
	var runs [][]Status
	for i := 0; i < 5; i++ {
		l, _ := newTestLoader(t, "")
		runs = append(runs, l.Resolve(context.Background(), drivers, true))
	}
	for _, r := range runs[1:] {
		assert.Equal(t, runs[0], r)
	}
	assert.Equal(t, []Status{SkippedConflict("nct6775"), Loaded(), SkippedConflict("nct6775"), Loaded()}, runs[0])
}

func TestResolveFailed(t *testing.T) {
	l, runner := newTestLoader(t, "")
	runner.failures["modprobe it87"] = &CommandError{
		Command: "modprobe",
		Args:    []string{"it87"},
		Stderr:  "modprobe: ERROR: could not insert 'it87': No such device",
		Err:     errors.New("exit status 1"),
	}
	runner.failures["modprobe nct6775"] = &CommandError{Command: "modprobe", Err: errors.New("exit status 1")}

	got := l.Resolve(context.Background(), []string{"it87", "nct6775", "dme1737"}, true)

	require.Len(t, got, 3)
	assert.Equal(t, Failed("modprobe: ERROR: could not insert 'it87': No such device"), got[0])
	assert.Equal(t, Failed("exit status 1"), got[1])
	assert.Equal(t, Loaded(), got[2], "a failure must not stop later drivers")
}

func TestSettle(t *testing.T) {
	l, runner := newTestLoader(t, "")
	require.NoError(t, l.Settle(context.Background()))
	assert.Equal(t, []string{"udevadm settle"}, runner.calls)

	runner.failures["udevadm settle"] = errors.New("boom")
	assert.Error(t, l.Settle(context.Background()))
}

func TestStatusString(t *testing.T) {
	cases := map[string]Status{
		"detection_only":           DetectionOnly(),
		"loaded":                   Loaded(),
		"already_loaded":           AlreadyLoaded(),
		"blacklisted":              Blacklisted(),
		"skipped_no_modprobe":      SkippedNoModprobe(),
		"skipped_conflict_nct6775": SkippedConflict("nct6775"),
		"failed: exit status 1":    Failed("exit status 1"),
	}
	for want, s := range cases {
		assert.Equal(t, want, s.String())
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Len(t, Truncate(strings.Repeat("x", 3000), MaxOutputBytes), MaxOutputBytes)
	// "é" is two bytes; cutting inside it drops the whole rune.
	assert.Equal(t, "a", Truncate("aé", 2))
}

func TestCommandError(t *testing.T) {
	inner := errors.New("exit status 1")
	err := fmt.Errorf("wrapped: %w", &CommandError{Command: "modprobe", Args: []string{"it87"}, Stderr: "no such device", Err: inner})

	var cerr *CommandError
	require.True(t, errors.As(err, &cerr))
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, `command "modprobe it87" failed: exit status 1: no such device`, cerr.Error())
}

func TestExecRunnerMissingBinary(t *testing.T) {
	_, _, err := ExecRunner{}.Run(context.Background(), filepath.Join(t.TempDir(), "no-such-binary"))
	var cerr *CommandError
	assert.True(t, errors.As(err, &cerr))
}
