//go:build !linux

package portio

import "fmt"

// DevPort is unavailable outside Linux.
type DevPort struct{}

// OpenDevPort always fails on this platform.
func OpenDevPort(path string) (*DevPort, error) {
	if path == "" {
		path = DefaultDevicePath
	}
	return nil, fmt.Errorf("%w: %s is only supported on linux", ErrUnavailable, path)
}

func (d *DevPort) ReadPort(port uint16) (byte, error) {
	return 0, &PortError{Op: OpRead, Port: port, Err: ErrUnavailable}
}

func (d *DevPort) WritePort(port uint16, _ byte) error {
	return &PortError{Op: OpWrite, Port: port, Err: ErrUnavailable}
}

func (d *DevPort) Close() error { return nil }
