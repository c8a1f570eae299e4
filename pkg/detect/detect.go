// Package detect runs Super-I/O detection end to end: environment checks,
// chip database, probing, and the optional module-loading policy, collected
// into a single DetectionResults value.
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/codifryed/coolercontrol-sub002/pkg/chipdb"
	"github.com/codifryed/coolercontrol-sub002/pkg/hostenv"
	"github.com/codifryed/coolercontrol-sub002/pkg/modload"
	"github.com/codifryed/coolercontrol-sub002/pkg/portio"
	"github.com/codifryed/coolercontrol-sub002/pkg/superio"
)

// SupportedArch is the only architecture with Super-I/O port access.
const SupportedArch = "amd64"

// Options are the per-run inputs.
type Options struct {
	LoadModules  bool
	OverridePath string // replaces Config.OverridePath when set
}

// Detector holds the collaborators of a detection run. Zero-valued hooks
// fall back to the real system.
type Detector struct {
	Config *Config

	OpenPort func(path string) (portio.Port, error)
	Env      func() hostenv.Info
	Loader   *modload.Loader
	Arch     string
}

// NewDetector returns a Detector for the real system. A nil cfg means
// DefaultConfig.
func NewDetector(cfg *Config) *Detector {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Detector{
		Config:   cfg,
		OpenPort: openDevPort,
		Env:      hostenv.Detect,
	}
}

func openDevPort(path string) (portio.Port, error) {
	p, err := portio.OpenDevPort(path)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Run detects chips on the running system with the default configuration.
// An empty overridePath uses DefaultOverridePath.
func Run(ctx context.Context, loadModules bool, overridePath string) DetectionResults {
	return NewDetector(nil).Run(ctx, Options{LoadModules: loadModules, OverridePath: overridePath})
}

// Run performs one detection. It never fails: problems are logged and show
// up as missing chips, environment flags or module statuses.
func (d *Detector) Run(ctx context.Context, opts Options) DetectionResults {
	cfg := d.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid detection config", "err", err)
		return emptyResults(EnvironmentInfo{Arch: d.arch()})
	}

	envInfo := EnvironmentInfo{Arch: d.arch()}
	if envInfo.Arch != SupportedArch {
		slog.Info("Super-I/O detection is only supported on x86_64", "arch", envInfo.Arch)
		return emptyResults(envInfo)
	}

	slog.Info("starting Super-I/O hardware detection")
	host := d.env()
	envInfo.RunningInContainer = host.InContainer
	envInfo.ContainerType = host.ContainerType
	envInfo.ModprobeAvailable = host.HasModprobe

	open := d.OpenPort
	if open == nil {
		open = openDevPort
	}
	port, err := open(cfg.DevPortPath)
	if err != nil {
		slog.Warn("raw port access unavailable, skipping hardware detection", "path", cfg.DevPortPath, "err", err)
		return emptyResults(envInfo)
	}
	defer port.Close()
	envInfo.DevPortAccessible = true

	db, err := chipdb.LoadCompiled()
	if err != nil {
		slog.Error("compiled chip database is broken", "err", err)
		return emptyResults(envInfo)
	}
	override := cfg.OverridePath
	if opts.OverridePath != "" {
		override = opts.OverridePath
	}
	if override != "" {
		if err := db.MergeFile(override); err != nil {
			slog.Warn("ignoring chip override file", "path", override, "err", err)
		}
	}

	chips := superio.NewProber(port, db).WithAddresses(cfg.Addresses...).Probe()

	drivers := make([]string, len(chips))
	for i, c := range chips {
		drivers[i] = c.Driver
	}

	var (
		statuses []modload.Status
		loader   *modload.Loader
	)
	if opts.LoadModules {
		loader = d.loader(cfg, db)
		statuses = loader.Resolve(ctx, drivers, host.CanLoadModules())
	} else {
		statuses = make([]modload.Status, len(chips))
		for i := range statuses {
			statuses[i] = modload.DetectionOnly()
		}
	}

	results := emptyResults(envInfo)
	seenBlacklisted := make(map[string]bool)
	anyLoaded := false
	for i, c := range chips {
		st := statuses[i]
		results.DetectedChips = append(results.DetectedChips, chipInfo(c, st))
		switch st.Kind {
		case modload.KindLoaded:
			anyLoaded = true
		case modload.KindBlacklisted:
			if !seenBlacklisted[c.Driver] {
				seenBlacklisted[c.Driver] = true
				results.Blacklisted = append(results.Blacklisted, c.Driver)
			}
		case modload.KindSkippedConflict:
			results.Skipped = append(results.Skipped, SkippedDriver{
				Driver:    c.Driver,
				Reason:    ReasonConflictWithPreferred,
				Preferred: st.Preferred,
			})
		}
	}

	if anyLoaded && cfg.SettleAfterLoad {
		if err := loader.Settle(ctx); err != nil {
			slog.Warn("udevadm settle failed, hwmon devices may appear late", "err", err)
		}
	}

	slog.Debug("detection complete", "chips", len(results.DetectedChips),
		"skipped", len(results.Skipped), "blacklisted", len(results.Blacklisted))
	return results
}

func (d *Detector) arch() string {
	if d.Arch != "" {
		return d.Arch
	}
	return runtime.GOARCH
}

func (d *Detector) env() hostenv.Info {
	if d.Env != nil {
		return d.Env()
	}
	return hostenv.Detect()
}

// loader returns the Loader kept across runs, so modules loaded by an
// earlier run report as already loaded. Its conflict groups always come from
// this run's database, which may carry override groups.
func (d *Detector) loader(cfg *Config, db *chipdb.Database) *modload.Loader {
	if d.Loader == nil {
		d.Loader = modload.NewLoader(nil)
		d.Loader.ModulesPath = cfg.ModulesPath
		d.Loader.CmdlinePath = cfg.CmdlinePath
		d.Loader.ModprobeDirs = cfg.ModprobeDirs
	}
	d.Loader.Conflicts = db.Conflicts()
	return d.Loader
}

func chipInfo(c superio.Chip, st modload.Status) DetectedChipInfo {
	features := c.Features.Names()
	return DetectedChipInfo{
		Name:         c.Name,
		Driver:       c.Driver,
		Family:       c.Family,
		Address:      fmt.Sprintf("0x%02X", c.Address.Index),
		BaseAddress:  fmt.Sprintf("0x%04X", c.BaseAddress),
		DeviceID:     fmt.Sprintf("0x%04X", c.DeviceID),
		Features:     features,
		Active:       c.Active,
		Path:         string(c.Path),
		ModuleStatus: st,
	}
}
