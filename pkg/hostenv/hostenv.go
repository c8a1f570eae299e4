// Package hostenv inspects the runtime environment: whether the process is
// inside a container and whether kernel modules can be loaded.
package hostenv

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Info describes the environment detection runs in.
type Info struct {
	InContainer   bool
	ContainerType string
	HasModprobe   bool
	ModprobePath  string
}

// CanLoadModules reports whether modprobe may be used. Loading from inside
// a container is always skipped.
func (i Info) CanLoadModules() bool {
	return i.HasModprobe && !i.InContainer
}

// cgroupMarkers are substrings of /proc/1/cgroup that identify a container
// runtime, checked in order.
var cgroupMarkers = []string{"kubepods", "docker", "containerd", "podman", "lxc"}

// Probe holds the locations Detect looks at.
type Probe struct {
	DockerEnvPath    string
	ContainerEnvPath string
	CgroupPath       string
	Modprobe         string

	Getenv   func(string) string
	LookPath func(string) (string, error)
}

// DefaultProbe inspects the real system.
func DefaultProbe() Probe {
	return Probe{
		DockerEnvPath:    "/.dockerenv",
		ContainerEnvPath: "/run/.containerenv",
		CgroupPath:       "/proc/1/cgroup",
		Modprobe:         "modprobe",
		Getenv:           os.Getenv,
		LookPath:         exec.LookPath,
	}
}

// Detect inspects the real system.
func Detect() Info {
	return DefaultProbe().Detect()
}

// Detect runs every check.
func (p Probe) Detect() Info {
	var info Info
	info.ContainerType = p.containerType()
	info.InContainer = info.ContainerType != ""

	if p.LookPath != nil {
		if path, err := p.LookPath(p.Modprobe); err == nil {
			info.HasModprobe = true
			info.ModprobePath = path
		}
	}

	slog.Debug("environment", "container", info.InContainer, "container_type", info.ContainerType,
		"modprobe", info.ModprobePath)
	return info
}

func (p Probe) containerType() string {
	if exists(p.DockerEnvPath) {
		slog.Debug("detected container", "source", p.DockerEnvPath)
		return "docker"
	}
	if exists(p.ContainerEnvPath) {
		slog.Debug("detected container", "source", p.ContainerEnvPath)
		return "podman"
	}
	if p.Getenv != nil {
		if v := p.Getenv("container"); v != "" {
			slog.Debug("detected container", "source", "container env var", "value", v)
			return v
		}
	}
	if p.CgroupPath != "" {
		raw, err := os.ReadFile(p.CgroupPath)
		if err != nil {
			return ""
		}
		cgroup := string(raw)
		for _, m := range cgroupMarkers {
			if strings.Contains(cgroup, m) {
				slog.Debug("detected container", "source", p.CgroupPath, "marker", m)
				return m
			}
		}
	}
	return ""
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}
