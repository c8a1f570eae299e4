package detect

import "github.com/codifryed/coolercontrol-sub002/pkg/modload"

// ReasonConflictWithPreferred is the only reason a driver is skipped.
const ReasonConflictWithPreferred = "conflict_with_preferred"

// DetectionResults is everything one detection run found.
type DetectionResults struct {
	DetectedChips []DetectedChipInfo `json:"detected_chips" yaml:"detected_chips" cbor:"detected_chips"`
	Skipped       []SkippedDriver    `json:"skipped" yaml:"skipped" cbor:"skipped"`
	Blacklisted   []string           `json:"blacklisted" yaml:"blacklisted" cbor:"blacklisted"`
	Environment   EnvironmentInfo    `json:"environment" yaml:"environment" cbor:"environment"`
}

// DetectedChipInfo describes one identified chip and what happened to its
// driver. Addresses and IDs are hex strings.
type DetectedChipInfo struct {
	Name         string         `json:"name" yaml:"name" cbor:"name"`
	Driver       string         `json:"driver" yaml:"driver" cbor:"driver"`
	Family       string         `json:"family" yaml:"family" cbor:"family"`
	Address      string         `json:"address" yaml:"address" cbor:"address"`
	BaseAddress  string         `json:"base_address" yaml:"base_address" cbor:"base_address"`
	DeviceID     string         `json:"device_id" yaml:"device_id" cbor:"device_id"`
	Features     []string       `json:"features" yaml:"features" cbor:"features"`
	Active       bool           `json:"active" yaml:"active" cbor:"active"`
	Path         string         `json:"path" yaml:"path" cbor:"path"`
	ModuleStatus modload.Status `json:"module_status" yaml:"module_status" cbor:"module_status"`
}

// SkippedDriver is a driver not loaded because a preferred one was.
type SkippedDriver struct {
	Driver    string `json:"driver" yaml:"driver" cbor:"driver"`
	Reason    string `json:"reason" yaml:"reason" cbor:"reason"`
	Preferred string `json:"preferred" yaml:"preferred" cbor:"preferred"`
}

// EnvironmentInfo is computed once per run.
type EnvironmentInfo struct {
	DevPortAccessible  bool   `json:"dev_port_accessible" yaml:"dev_port_accessible" cbor:"dev_port_accessible"`
	RunningInContainer bool   `json:"running_in_container" yaml:"running_in_container" cbor:"running_in_container"`
	ContainerType      string `json:"container_type,omitempty" yaml:"container_type,omitempty" cbor:"container_type,omitempty"`
	ModprobeAvailable  bool   `json:"modprobe_available" yaml:"modprobe_available" cbor:"modprobe_available"`
	Arch               string `json:"arch" yaml:"arch" cbor:"arch"`
}

func emptyResults(env EnvironmentInfo) DetectionResults {
	return DetectionResults{
		DetectedChips: []DetectedChipInfo{},
		Skipped:       []SkippedDriver{},
		Blacklisted:   []string{},
		Environment:   env,
	}
}
