package portio

import "errors"

// ReadHook lets a simulator emulate device-specific register contents.
type ReadHook func(port uint16) (byte, error)

// WriteHook observes or rejects writes before they are recorded as successful.
type WriteHook func(port uint16, value byte) error

// Access captures one port operation for inspection within tests.
type Access struct {
	Op    Op
	Port  uint16
	Value byte
	Err   error
}

// ErrInjected is returned for accesses configured to fail via FailRead or
// FailWrite.
var ErrInjected = errors.New("portio: injected failure")

// SimPort is an in-memory Port useful for unit tests. Reads replay the Reads
// sequence in call order (0xFF once exhausted) unless OnRead is set, and
// every access is appended to a trace.
type SimPort struct {
	Reads []byte

	OnRead  ReadHook
	OnWrite WriteHook

	// FailRead and FailWrite hold zero-based call indices (counted per
	// direction) that return ErrInjected.
	FailRead  map[int]bool
	FailWrite map[int]bool

	trace  []Access
	reads  int
	writes int
	closed bool
}

// NewSimPort constructs a simulator replaying reads in order.
func NewSimPort(reads ...byte) *SimPort {
	return &SimPort{Reads: append([]byte(nil), reads...)}
}

// Trace returns a copy of every access performed so far.
func (s *SimPort) Trace() []Access {
	return append([]Access(nil), s.trace...)
}

// Writes returns the successful writes in order.
func (s *SimPort) Writes() []Access {
	var out []Access
	for _, a := range s.trace {
		if a.Op == OpWrite && a.Err == nil {
			out = append(out, a)
		}
	}
	return out
}

// Closed reports whether Close has been called.
func (s *SimPort) Closed() bool {
	return s.closed
}

func (s *SimPort) ReadPort(port uint16) (byte, error) {
	idx := s.reads
	s.reads++

	if s.FailRead[idx] {
		return 0, s.fail(OpRead, port, 0, ErrInjected)
	}

	var (
		value byte
		err   error
	)
	switch {
	case s.OnRead != nil:
		value, err = s.OnRead(port)
	case idx < len(s.Reads):
		value = s.Reads[idx]
	default:
		value = 0xFF
	}
	if err != nil {
		return 0, s.fail(OpRead, port, 0, err)
	}
	s.trace = append(s.trace, Access{Op: OpRead, Port: port, Value: value})
	return value, nil
}

func (s *SimPort) WritePort(port uint16, value byte) error {
	idx := s.writes
	s.writes++

	if s.FailWrite[idx] {
		return s.fail(OpWrite, port, value, ErrInjected)
	}
	if s.OnWrite != nil {
		if err := s.OnWrite(port, value); err != nil {
			return s.fail(OpWrite, port, value, err)
		}
	}
	s.trace = append(s.trace, Access{Op: OpWrite, Port: port, Value: value})
	return nil
}

func (s *SimPort) Close() error {
	s.closed = true
	return nil
}

func (s *SimPort) fail(op Op, port uint16, value byte, err error) error {
	s.trace = append(s.trace, Access{Op: op, Port: port, Value: value, Err: err})
	return &PortError{Op: op, Port: port, Err: err}
}
