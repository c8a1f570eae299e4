package superio

import "github.com/codifryed/coolercontrol-sub002/pkg/portio"

// SimulatedBase is the I/O base every simulated logical device reports.
const SimulatedBase = 0x0290

// Simulate returns a port on which each address in chips answers with the
// given device ID without needing a config-mode password. Every logical
// device reports SimulatedBase and is active. Other addresses float.
func Simulate(chips map[Address]uint16) *portio.SimPort {
	index := make(map[uint16]byte)
	byData := make(map[uint16]Address, len(chips))
	for addr := range chips {
		byData[addr.Data] = addr
	}

	sim := portio.NewSimPort()
	sim.OnWrite = func(port uint16, value byte) error {
		index[port] = value
		return nil
	}
	sim.OnRead = func(port uint16) (byte, error) {
		addr, ok := byData[port]
		if !ok {
			return 0xFF, nil
		}
		id := chips[addr]
		switch index[addr.Index] {
		case regDeviceIDHigh:
			return byte(id >> 8), nil
		case regDeviceIDLow:
			return byte(id), nil
		case regBaseHigh:
			return byte(SimulatedBase >> 8), nil
		case regBaseLow:
			return byte(SimulatedBase & 0xFF), nil
		case regActivate:
			return activateMask, nil
		}
		return 0x00, nil
	}
	return sim
}
