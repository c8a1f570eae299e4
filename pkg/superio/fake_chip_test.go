package superio

import "github.com/codifryed/coolercontrol-sub002/pkg/portio"

// fakeChip emulates one Super-I/O chip behind an index/data pair. Registers
// are only readable in config mode unless answersWithoutPassword is set.
type fakeChip struct {
	addr                   Address
	password               []byte
	answersWithoutPassword bool
	id                     uint16
	logicalDevices         map[byte]logicalDevice

	inConfig bool
	matched  int
	index    byte
	logdev   byte

	entries int
	exits   int
}

type logicalDevice struct {
	base   uint16
	active bool
}

func (c *fakeChip) install(sim *portio.SimPort) {
	sim.OnRead = c.read
	sim.OnWrite = c.write
}

func (c *fakeChip) visible() bool {
	return c.inConfig || c.answersWithoutPassword
}

func (c *fakeChip) write(port uint16, value byte) error {
	switch port {
	case c.addr.Index:
		c.index = value
		if c.inConfig {
			if value == 0xAA {
				c.leave()
			}
			return nil
		}
		c.trackPassword(value)
	case c.addr.Data:
		switch c.index {
		case 0x02:
			if value&0x02 != 0 && c.inConfig {
				c.leave()
			}
		case regLogicalDevice:
			c.logdev = value
		}
	}
	return nil
}

func (c *fakeChip) trackPassword(value byte) {
	if len(c.password) == 0 {
		return
	}
	switch {
	case value == c.password[c.matched]:
		c.matched++
	case value == c.password[0]:
		c.matched = 1
	default:
		c.matched = 0
	}
	if c.matched == len(c.password) {
		c.inConfig = true
		c.entries++
		c.matched = 0
	}
}

func (c *fakeChip) leave() {
	c.inConfig = false
	c.exits++
}

func (c *fakeChip) read(port uint16) (byte, error) {
	if port != c.addr.Data || !c.visible() {
		return 0xFF, nil
	}
	ld := c.logicalDevices[c.logdev]
	switch c.index {
	case regDeviceIDHigh:
		return byte(c.id >> 8), nil
	case regDeviceIDLow:
		return byte(c.id), nil
	case regLogicalDevice:
		return c.logdev, nil
	case regBaseHigh:
		return byte(ld.base >> 8), nil
	case regBaseLow:
		return byte(ld.base), nil
	case regActivate:
		if ld.active {
			return 0x01, nil
		}
		return 0x00, nil
	}
	return 0x00, nil
}
