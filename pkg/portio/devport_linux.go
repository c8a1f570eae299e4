//go:build linux

package portio

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// DevPort accesses I/O ports through positioned reads and writes on the raw
// port device.
type DevPort struct {
	path string
	fd   int
}

// OpenDevPort opens the raw port device at path for reading and writing.
// Any failure wraps ErrUnavailable.
func OpenDevPort(path string) (*DevPort, error) {
	if path == "" {
		path = DefaultDevicePath
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, path, err)
	}
	return &DevPort{path: path, fd: fd}, nil
}

func (d *DevPort) ReadPort(port uint16) (byte, error) {
	var buf [1]byte
	n, err := unix.Pread(d.fd, buf[:], int64(port))
	if err != nil {
		return 0, &PortError{Op: OpRead, Port: port, Err: err}
	}
	if n != 1 {
		return 0, &PortError{Op: OpRead, Port: port, Err: io.ErrUnexpectedEOF}
	}
	return buf[0], nil
}

func (d *DevPort) WritePort(port uint16, value byte) error {
	n, err := unix.Pwrite(d.fd, []byte{value}, int64(port))
	if err != nil {
		return &PortError{Op: OpWrite, Port: port, Err: err}
	}
	if n != 1 {
		return &PortError{Op: OpWrite, Port: port, Err: io.ErrShortWrite}
	}
	return nil
}

// Close releases the device descriptor. Closing twice is a no-op.
func (d *DevPort) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	if err != nil && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("portio: close %s: %w", d.path, err)
	}
	return nil
}
