// Package portio provides byte-level access to x86 I/O ports.
//
// Real hardware is reached through the kernel's raw port device (/dev/port),
// where the file offset is the port number. SimPort replaces it in tests.
package portio

import (
	"errors"
	"fmt"
)

// DefaultDevicePath is the kernel's raw I/O port device.
const DefaultDevicePath = "/dev/port"

// Port abstracts byte-wide access to the I/O port address space.
type Port interface {
	ReadPort(port uint16) (byte, error)
	WritePort(port uint16, value byte) error
	Close() error
}

// ErrUnavailable reports that raw port access cannot be obtained at all:
// the device is missing, permission was denied, or the platform has no
// port I/O.
var ErrUnavailable = errors.New("portio: raw port access unavailable")

// Op names the direction of a port access.
type Op uint8

const (
	OpRead Op = iota
	OpWrite
)

func (o Op) String() string {
	if o == OpWrite {
		return "write"
	}
	return "read"
}

// PortError records a failed access to a single port.
type PortError struct {
	Op   Op
	Port uint16
	Err  error
}

func (e *PortError) Error() string {
	return fmt.Sprintf("portio: %s port 0x%02X: %v", e.Op, e.Port, e.Err)
}

func (e *PortError) Unwrap() error {
	return e.Err
}
