package chipdb

import (
	"fmt"
	"strings"
)

// Feature is a class of sensor a chip exposes through its hwmon driver.
type Feature uint8

const (
	FeatureVoltage Feature = 1 << iota
	FeatureFan
	FeatureTemp
)

var featureNames = []struct {
	f    Feature
	name string
}{
	{FeatureVoltage, "voltage"},
	{FeatureFan, "fan"},
	{FeatureTemp, "temp"},
}

// FeatureSet is a bit set of Features.
type FeatureSet uint8

// Has reports whether f is in the set.
func (s FeatureSet) Has(f Feature) bool {
	return uint8(s)&uint8(f) != 0
}

// Names returns the set members in canonical order (voltage, fan, temp).
func (s FeatureSet) Names() []string {
	names := make([]string, 0, len(featureNames))
	for _, fn := range featureNames {
		if s.Has(fn.f) {
			names = append(names, fn.name)
		}
	}
	return names
}

func (s FeatureSet) String() string {
	return strings.Join(s.Names(), ",")
}

// ParseFeatures builds a FeatureSet from the TOML feature strings.
func ParseFeatures(names []string) (FeatureSet, error) {
	var set FeatureSet
outer:
	for _, name := range names {
		for _, fn := range featureNames {
			if strings.EqualFold(name, fn.name) {
				set |= FeatureSet(fn.f)
				continue outer
			}
		}
		return 0, fmt.Errorf("chipdb: unknown feature %q", name)
	}
	return set, nil
}

// Descriptor identifies one chip (or a range of chip revisions) and the
// kernel driver that handles it.
type Descriptor struct {
	Name          string
	Driver        string // empty for identification-only entries
	DeviceID      uint16
	DeviceIDMask  uint16
	LogicalDevice uint8
	Features      FeatureSet
}

// Matches reports whether a probed device ID selects this descriptor.
func (d Descriptor) Matches(id uint16) bool {
	return id&d.DeviceIDMask == d.DeviceID&d.DeviceIDMask
}

// HasDriver reports whether the descriptor names a kernel driver.
func (d Descriptor) HasDriver() bool {
	return d.Driver != ""
}

// PortTarget selects which port of an index/data pair a write goes to.
type PortTarget uint8

const (
	TargetIndex PortTarget = iota
	TargetData
)

func (t PortTarget) String() string {
	if t == TargetData {
		return "data"
	}
	return "index"
}

// Write is one step of a config-mode exit sequence.
type Write struct {
	Target PortTarget
	Value  byte
}

// Family groups chips sharing a config-mode password and exit sequence.
type Family struct {
	Name    string
	Entry2E []byte
	Entry4E []byte
	Exit    []Write
	Chips   []Descriptor
}

// EntrySequence returns the password bytes written to indexPort to enter
// config mode. Unknown ports get no password.
func (f *Family) EntrySequence(indexPort uint16) []byte {
	switch indexPort {
	case 0x2E:
		return f.Entry2E
	case 0x4E:
		return f.Entry4E
	default:
		return nil
	}
}

// FindMatch returns the first descriptor, in table order, matching id.
func (f *Family) FindMatch(id uint16) (*Descriptor, bool) {
	for i := range f.Chips {
		if f.Chips[i].Matches(id) {
			return &f.Chips[i], true
		}
	}
	return nil, false
}

// Conflict is a driver priority group: Drivers is ordered highest priority
// first.
type Conflict struct {
	Name    string
	Drivers []string
}

// Rank returns the position of driver within the group, or -1. Hyphens and
// underscores are interchangeable, as in kernel module names.
func (c Conflict) Rank(driver string) int {
	want := normalizeModule(driver)
	for i, d := range c.Drivers {
		if normalizeModule(d) == want {
			return i
		}
	}
	return -1
}

func normalizeModule(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}
