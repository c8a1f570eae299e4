// Package superio identifies Super-I/O hardware-monitoring chips by probing
// the standard index/data port pairs.
//
// Each address is probed in two stages. The fast path reads the device ID
// registers directly, without sending any config-mode password; some boards
// (Gigabyte with ITE chips in particular) misbehave when passwords are sent
// to a chip that is already answering. Only when the fast path finds nothing
// does the fallback path try each family's password in turn, and every
// fallback attempt ends with that family's exit sequence whatever happened
// in between.
package superio

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/codifryed/coolercontrol-sub002/pkg/chipdb"
	"github.com/codifryed/coolercontrol-sub002/pkg/portio"
)

// Standard PnP ISA configuration registers.
const (
	regLogicalDevice = 0x07
	regDeviceIDHigh  = 0x20
	regDeviceIDLow   = 0x21
	regActivate      = 0x30
	regBaseHigh      = 0x60
	regBaseLow       = 0x61

	activateMask = 0x01
)

// ITEeSPIBridgeID is reported by ITE eSPI-to-LPC bridges. The real
// Super-I/O chip sits behind the eSPI bus and cannot be probed.
const ITEeSPIBridgeID = 0x8883

// Address is an index/data port pair.
type Address struct {
	Index uint16
	Data  uint16
}

func (a Address) String() string {
	return fmt.Sprintf("0x%02X/0x%02X", a.Index, a.Data)
}

// Addresses are the two standard Super-I/O locations, probed in order.
var Addresses = []Address{
	{Index: 0x2E, Data: 0x2F},
	{Index: 0x4E, Data: 0x4F},
}

// ProbePath records which stage identified a chip.
type ProbePath string

const (
	PathFast     ProbePath = "fast"
	PathFallback ProbePath = "fallback"
)

// Chip is a positively identified Super-I/O chip.
type Chip struct {
	Name          string
	Driver        string
	Family        string
	Address       Address
	DeviceID      uint16
	LogicalDevice uint8
	BaseAddress   uint16
	Active        bool
	Features      chipdb.FeatureSet
	Path          ProbePath
}

// Prober runs detection against a port and a chip database. It is not safe
// for concurrent use; probing is strictly sequential.
type Prober struct {
	port      portio.Port
	db        *chipdb.Database
	addresses []Address
}

// NewProber wires a port with a chip database.
func NewProber(port portio.Port, db *chipdb.Database) *Prober {
	return &Prober{port: port, db: db, addresses: Addresses}
}

// WithAddresses restricts probing to the given pairs.
func (p *Prober) WithAddresses(addrs ...Address) *Prober {
	p.addresses = append([]Address(nil), addrs...)
	return p
}

// Probe checks every address and returns the chips found, in address order.
// I/O errors only abandon the attempt in which they happen.
func (p *Prober) Probe() []Chip {
	var chips []Chip
	for _, addr := range p.addresses {
		slog.Debug("probing Super-I/O address", "addr", addr.String())
		chip, ok := p.probeAddress(addr)
		if !ok {
			slog.Debug("no Super-I/O chip found", "addr", addr.String())
			continue
		}
		slog.Info("detected Super-I/O chip", "chip", chip.Name, "driver", chip.Driver,
			"addr", addr.String(), "path", string(chip.Path))
		chips = append(chips, chip)
	}
	return chips
}

func (p *Prober) probeAddress(addr Address) (Chip, bool) {
	chip, err := p.fastPath(addr)
	switch {
	case err != nil:
		slog.Debug("fast path failed", "addr", addr.String(), "err", err)
	case chip != nil:
		return *chip, true
	}

	for _, fam := range p.db.Families() {
		chip, err := p.fallbackPath(addr, fam)
		if err != nil {
			slog.Debug("fallback probe failed", "addr", addr.String(), "family", fam.Name, "err", err)
			continue
		}
		if chip != nil {
			return *chip, true
		}
	}
	return Chip{}, false
}

// fastPath reads the device ID without entering config mode.
func (p *Prober) fastPath(addr Address) (*Chip, error) {
	id, err := p.readDeviceID(addr)
	if err != nil {
		return nil, err
	}
	slog.Debug("fast path read device ID", "addr", addr.String(), "id", fmt.Sprintf("0x%04X", id))

	if absent(id) {
		return nil, nil
	}
	if id == ITEeSPIBridgeID {
		slog.Warn("ITE eSPI-to-LPC bridge detected; the Super-I/O chip is behind the eSPI bus "+
			"and may be inaccessible until the next restart", "addr", addr.String())
		return nil, nil
	}

	fam, desc, ok := p.db.Lookup(id)
	if !ok {
		return nil, nil
	}
	if !desc.HasDriver() {
		slog.Debug("fast path matched chip without a driver", "chip", desc.Name)
		return nil, nil
	}
	return p.identify(addr, fam, desc, id, PathFast)
}

// fallbackPath enters config mode with fam's password, reads the device ID
// and always leaves config mode again before returning.
func (p *Prober) fallbackPath(addr Address, fam *chipdb.Family) (chip *Chip, err error) {
	defer func() {
		if exitErr := p.exitConfig(addr, fam); exitErr != nil {
			slog.Warn("failed to leave Super-I/O config mode", "addr", addr.String(),
				"family", fam.Name, "err", exitErr)
		}
	}()

	for _, b := range fam.EntrySequence(addr.Index) {
		if err := p.port.WritePort(addr.Index, b); err != nil {
			return nil, fmt.Errorf("superio: enter config mode: %w", err)
		}
	}

	id, err := p.readDeviceID(addr)
	if err != nil {
		return nil, err
	}
	slog.Debug("fallback read device ID", "addr", addr.String(), "family", fam.Name,
		"id", fmt.Sprintf("0x%04X", id))
	if absent(id) {
		return nil, nil
	}

	desc, ok := fam.FindMatch(id)
	if !ok || !desc.HasDriver() {
		return nil, nil
	}
	return p.identify(addr, fam, desc, id, PathFallback)
}

// exitConfig issues every step of fam's exit sequence, even after a failed
// step.
func (p *Prober) exitConfig(addr Address, fam *chipdb.Family) error {
	var errs []error
	for _, w := range fam.Exit {
		port := addr.Index
		if w.Target == chipdb.TargetData {
			port = addr.Data
		}
		if err := p.port.WritePort(port, w.Value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Prober) identify(addr Address, fam *chipdb.Family, desc *chipdb.Descriptor, id uint16, path ProbePath) (*Chip, error) {
	base, active, err := p.readLogicalDevice(addr, desc.LogicalDevice)
	if err != nil {
		return nil, fmt.Errorf("superio: read logical device 0x%02X of %s: %w", desc.LogicalDevice, desc.Name, err)
	}
	return &Chip{
		Name:          desc.Name,
		Driver:        desc.Driver,
		Family:        fam.Name,
		Address:       addr,
		DeviceID:      id,
		LogicalDevice: desc.LogicalDevice,
		BaseAddress:   base,
		Active:        active,
		Features:      desc.Features,
		Path:          path,
	}, nil
}

func (p *Prober) readDeviceID(addr Address) (uint16, error) {
	hi, err := p.readReg(addr, regDeviceIDHigh)
	if err != nil {
		return 0, err
	}
	lo, err := p.readReg(addr, regDeviceIDLow)
	if err != nil {
		return 0, err
	}
	return uint16(hi)<<8 | uint16(lo), nil
}

// readLogicalDevice selects logdev and returns its I/O base address and
// activation state.
func (p *Prober) readLogicalDevice(addr Address, logdev uint8) (uint16, bool, error) {
	if err := p.writeReg(addr, regLogicalDevice, logdev); err != nil {
		return 0, false, err
	}
	msb, err := p.readReg(addr, regBaseHigh)
	if err != nil {
		return 0, false, err
	}
	lsb, err := p.readReg(addr, regBaseLow)
	if err != nil {
		return 0, false, err
	}
	act, err := p.readReg(addr, regActivate)
	if err != nil {
		return 0, false, err
	}
	return uint16(msb)<<8 | uint16(lsb), act&activateMask != 0, nil
}

func (p *Prober) readReg(addr Address, reg byte) (byte, error) {
	if err := p.port.WritePort(addr.Index, reg); err != nil {
		return 0, err
	}
	return p.port.ReadPort(addr.Data)
}

func (p *Prober) writeReg(addr Address, reg, value byte) error {
	if err := p.port.WritePort(addr.Index, reg); err != nil {
		return err
	}
	return p.port.WritePort(addr.Data, value)
}

// absent reports IDs read from an empty bus or a chip that is not decoding.
func absent(id uint16) bool {
	return id == 0x0000 || id == 0xFFFF
}
