package modload

import "fmt"

// StatusKind is the outcome of resolving a detected chip's driver.
type StatusKind string

const (
	KindDetectionOnly     StatusKind = "detection_only"
	KindLoaded            StatusKind = "loaded"
	KindAlreadyLoaded     StatusKind = "already_loaded"
	KindBlacklisted       StatusKind = "blacklisted"
	KindSkippedConflict   StatusKind = "skipped_conflict"
	KindFailed            StatusKind = "failed"
	KindSkippedNoModprobe StatusKind = "skipped_no_modprobe"
)

// Status is the module status reported for one detected chip. Preferred is
// set only for KindSkippedConflict and Reason only for KindFailed; build
// values with the constructors below.
type Status struct {
	Kind      StatusKind `json:"kind" yaml:"kind" cbor:"kind"`
	Preferred string     `json:"preferred,omitempty" yaml:"preferred,omitempty" cbor:"preferred,omitempty"`
	Reason    string     `json:"reason,omitempty" yaml:"reason,omitempty" cbor:"reason,omitempty"`
}

func DetectionOnly() Status     { return Status{Kind: KindDetectionOnly} }
func Loaded() Status            { return Status{Kind: KindLoaded} }
func AlreadyLoaded() Status     { return Status{Kind: KindAlreadyLoaded} }
func Blacklisted() Status       { return Status{Kind: KindBlacklisted} }
func SkippedNoModprobe() Status { return Status{Kind: KindSkippedNoModprobe} }

// SkippedConflict reports that preferred, a higher-priority driver of the
// same conflict group, was chosen instead.
func SkippedConflict(preferred string) Status {
	return Status{Kind: KindSkippedConflict, Preferred: preferred}
}

// Failed reports a modprobe failure; reason is its stderr or exit status.
func Failed(reason string) Status {
	return Status{Kind: KindFailed, Reason: reason}
}

func (s Status) String() string {
	switch s.Kind {
	case KindSkippedConflict:
		return fmt.Sprintf("%s_%s", s.Kind, s.Preferred)
	case KindFailed:
		return fmt.Sprintf("%s: %s", s.Kind, s.Reason)
	default:
		return string(s.Kind)
	}
}
