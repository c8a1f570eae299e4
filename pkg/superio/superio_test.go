package superio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codifryed/coolercontrol-sub002/pkg/chipdb"
	"github.com/codifryed/coolercontrol-sub002/pkg/portio"
)

var (
	addr2E = Address{Index: 0x2E, Data: 0x2F}
	addr4E = Address{Index: 0x4E, Data: 0x4F}
)

func TestFastPathFindsChipWithoutPassword(t *testing.T) {
	db := chipdb.MustLoadCompiled()
	chip := &fakeChip{
		addr:                   addr2E,
		password:               []byte{0x87, 0x01, 0x55, 0x55},
		answersWithoutPassword: true,
		id:                     0x8728,
		logicalDevices:         map[byte]logicalDevice{0x04: {base: 0x0A40, active: true}},
	}
	sim := portio.NewSimPort()
	chip.install(sim)

	chips := NewProber(sim, db).Probe()

	require.Len(t, chips, 1)
	got := chips[0]
	assert.Equal(t, "it87", got.Driver)
	assert.Equal(t, "ITE", got.Family)
	assert.Equal(t, addr2E, got.Address)
	assert.Equal(t, uint16(0x8728), got.DeviceID)
	assert.Equal(t, uint16(0x0A40), got.BaseAddress)
	assert.True(t, got.Active)
	assert.Equal(t, PathFast, got.Path)

	assert.Zero(t, chip.entries, "fast path must not send a password")
	for _, w := range sim.Writes() {
		if w.Port == addr2E.Index {
			assert.NotEqual(t, byte(0x87), w.Value, "password byte written to 0x2E")
		}
	}
}

func TestFastPathAccessSequence(t *testing.T) {
	sim := portio.NewSimPort(0x86, 0x86, 0x02, 0x90, 0x01)
	chips := NewProber(sim, chipdb.MustLoadCompiled()).WithAddresses(addr2E).Probe()

	require.Len(t, chips, 1)
	assert.Contains(t, chips[0].Name, "IT8686E")
	assert.Equal(t, uint16(0x0290), chips[0].BaseAddress)
	assert.True(t, chips[0].Active)

	want := []portio.Access{
		{Op: portio.OpWrite, Port: 0x2E, Value: 0x20},
		{Op: portio.OpRead, Port: 0x2F, Value: 0x86},
		{Op: portio.OpWrite, Port: 0x2E, Value: 0x21},
		{Op: portio.OpRead, Port: 0x2F, Value: 0x86},
		{Op: portio.OpWrite, Port: 0x2E, Value: 0x07},
		{Op: portio.OpWrite, Port: 0x2F, Value: 0x04},
		{Op: portio.OpWrite, Port: 0x2E, Value: 0x60},
		{Op: portio.OpRead, Port: 0x2F, Value: 0x02},
		{Op: portio.OpWrite, Port: 0x2E, Value: 0x61},
		{Op: portio.OpRead, Port: 0x2F, Value: 0x90},
		{Op: portio.OpWrite, Port: 0x2E, Value: 0x30},
		{Op: portio.OpRead, Port: 0x2F, Value: 0x01},
	}
	assert.Equal(t, want, sim.Trace())
}

func TestFastPathMaskedMatch(t *testing.T) {
	fam := &chipdb.Family{
		Name:    "ITE",
		Entry2E: []byte{0x87, 0x01, 0x55, 0x55},
		Entry4E: []byte{0x87, 0x01, 0x55, 0xAA},
		Exit:    []chipdb.Write{{Target: chipdb.TargetIndex, Value: 0x02}, {Target: chipdb.TargetData, Value: 0x02}},
		Chips: []chipdb.Descriptor{{
			Name: "ITE IT872x", Driver: "it87", DeviceID: 0x8720, DeviceIDMask: 0xFFF0, LogicalDevice: 0x04,
		}},
	}
	db := chipdb.New([]*chipdb.Family{fam}, nil)
	chip := &fakeChip{addr: addr2E, answersWithoutPassword: true, id: 0x8728}
	sim := portio.NewSimPort()
	chip.install(sim)

	chips := NewProber(sim, db).WithAddresses(addr2E).Probe()

	require.Len(t, chips, 1)
	assert.Equal(t, uint16(0x8728), chips[0].DeviceID, "the probed ID is reported, not the table ID")
	assert.Equal(t, PathFast, chips[0].Path)
}

func TestFallbackAfterFastReadFailure(t *testing.T) {
	chip := &fakeChip{
		addr:           addr2E,
		password:       []byte{0x87, 0x01, 0x55, 0x55},
		id:             0x8728,
		logicalDevices: map[byte]logicalDevice{0x04: {base: 0x0290, active: true}},
	}
	sim := portio.NewSimPort()
	sim.FailRead = map[int]bool{0: true}
	chip.install(sim)

	chips := NewProber(sim, chipdb.MustLoadCompiled()).WithAddresses(addr2E).Probe()

	require.Len(t, chips, 1)
	assert.Equal(t, "it87", chips[0].Driver)
	assert.Equal(t, PathFallback, chips[0].Path)
	assert.Equal(t, 1, chip.entries)
	assert.Equal(t, 1, chip.exits)
	assert.False(t, chip.inConfig)
}

func TestFallbackWinbondAfterITEAttempt(t *testing.T) {
	chip := &fakeChip{
		addr:           addr2E,
		password:       []byte{0x87, 0x87},
		id:             0xC562,
		logicalDevices: map[byte]logicalDevice{0x0B: {base: 0x0290, active: true}},
	}
	sim := portio.NewSimPort()
	chip.install(sim)

	chips := NewProber(sim, chipdb.MustLoadCompiled()).Probe()

	require.Len(t, chips, 1)
	got := chips[0]
	assert.Equal(t, "nct6775", got.Driver)
	assert.Equal(t, "Winbond / Nuvoton / Fintek", got.Family)
	assert.Equal(t, uint8(0x0B), got.LogicalDevice)
	assert.Equal(t, uint16(0x0290), got.BaseAddress)
	assert.Equal(t, PathFallback, got.Path)
	assert.Equal(t, 1, chip.entries)
	assert.Equal(t, 1, chip.exits)
}

func TestProbeIsRepeatable(t *testing.T) {
	chip := &fakeChip{
		addr:           addr4E,
		password:       []byte{0x87, 0x87},
		id:             0xC562,
		logicalDevices: map[byte]logicalDevice{0x0B: {base: 0x0290, active: true}},
	}
	sim := portio.NewSimPort()
	chip.install(sim)
	prober := NewProber(sim, chipdb.MustLoadCompiled())

	first := prober.Probe()
	second := prober.Probe()

	require.Len(t, first, 1)
	assert.Equal(t, first, second)
	assert.Equal(t, chip.entries, chip.exits)
}

func TestNoChipWhenBusFloats(t *testing.T) {
	sim := portio.NewSimPort()
	chips := NewProber(sim, chipdb.MustLoadCompiled()).Probe()
	assert.Empty(t, chips)
}

func TestESPIBridgeIsSkipped(t *testing.T) {
	sim := portio.NewSimPort(0x88, 0x83)
	chips := NewProber(sim, chipdb.MustLoadCompiled()).WithAddresses(addr2E).Probe()
	assert.Empty(t, chips)
}

func TestErrorAtOneAddressDoesNotStopTheNext(t *testing.T) {
	chip := &fakeChip{
		addr:                   addr4E,
		answersWithoutPassword: true,
		id:                     0x8686,
		logicalDevices:         map[byte]logicalDevice{0x04: {base: 0x0A40, active: true}},
	}
	errBus := errors.New("bus error")
	sim := portio.NewSimPort()
	sim.OnRead = chip.read
	sim.OnWrite = func(port uint16, value byte) error {
		if port == addr2E.Index || port == addr2E.Data {
			return errBus
		}
		return chip.write(port, value)
	}

	chips := NewProber(sim, chipdb.MustLoadCompiled()).Probe()

	require.Len(t, chips, 1)
	assert.Equal(t, addr4E, chips[0].Address)
}

// countSeq counts non-overlapping occurrences of seq within writes.
func countSeq(writes, seq []portio.Access) int {
	if len(seq) == 0 {
		return 0
	}
	n := 0
	for i := 0; i+len(seq) <= len(writes); {
		match := true
		for j := range seq {
			w, s := writes[i+j], seq[j]
			if w.Port != s.Port || w.Value != s.Value {
				match = false
				break
			}
		}
		if match {
			n++
			i += len(seq)
			continue
		}
		i++
	}
	return n
}

func exitWrites(addr Address, fam *chipdb.Family) []portio.Access {
	var out []portio.Access
	for _, w := range fam.Exit {
		port := addr.Index
		if w.Target == chipdb.TargetData {
			port = addr.Data
		}
		out = append(out, portio.Access{Op: portio.OpWrite, Port: port, Value: w.Value})
	}
	return out
}

func entryWrites(addr Address, fam *chipdb.Family) []portio.Access {
	var out []portio.Access
	for _, b := range fam.EntrySequence(addr.Index) {
		out = append(out, portio.Access{Op: portio.OpWrite, Port: addr.Index, Value: b})
	}
	return out
}

func TestFallbackExitsExactlyOnce(t *testing.T) {
	db := chipdb.MustLoadCompiled()

	outcomes := map[string]func(fam *chipdb.Family) *portio.SimPort{
		"match": func(fam *chipdb.Family) *portio.SimPort {
			d := fam.Chips[0]
			return portio.NewSimPort(byte(d.DeviceID>>8), byte(d.DeviceID), 0x02, 0x90, 0x01)
		},
		"mismatch": func(*chipdb.Family) *portio.SimPort {
			return portio.NewSimPort(0x12, 0x34)
		},
		"absent": func(*chipdb.Family) *portio.SimPort {
			return portio.NewSimPort()
		},
		"read error": func(*chipdb.Family) *portio.SimPort {
			sim := portio.NewSimPort(0x12, 0x34)
			sim.FailRead = map[int]bool{1: true}
			return sim
		},
		"write error": func(*chipdb.Family) *portio.SimPort {
			sim := portio.NewSimPort()
			sim.FailWrite = map[int]bool{0: true}
			return sim
		},
	}

	for _, fam := range db.Families() {
		for name, build := range outcomes {
			t.Run(fam.Name+"/"+name, func(t *testing.T) {
				sim := build(fam)
				p := NewProber(sim, db)

				chip, err := p.fallbackPath(addr2E, fam)

				switch name {
				case "match":
					require.NoError(t, err)
					require.NotNil(t, chip)
					assert.Equal(t, fam.Chips[0].Driver, chip.Driver)
				case "read error", "write error":
					assert.ErrorIs(t, err, portio.ErrInjected)
					assert.Nil(t, chip)
				default:
					assert.NoError(t, err)
					assert.Nil(t, chip)
				}

				writes := sim.Writes()
				exit := exitWrites(addr2E, fam)
				assert.Equal(t, 1, countSeq(writes, exit), "exit sequence count")
				require.GreaterOrEqual(t, len(writes), len(exit))
				assert.Equal(t, exit, writes[len(writes)-len(exit):], "exit must be the last access")

				if entry := entryWrites(addr2E, fam); len(entry) > 0 && name != "write error" {
					assert.Equal(t, 1, countSeq(writes, entry), "entry sequence count")
					assert.Equal(t, entry, writes[:len(entry)], "entry must be the first access")
				}
			})
		}
	}
}

func TestAddressString(t *testing.T) {
	assert.Equal(t, "0x2E/0x2F", addr2E.String())
	assert.Equal(t, "0x4E/0x4F", addr4E.String())
}

func TestSimulate(t *testing.T) {
	sim := Simulate(map[Address]uint16{addr2E: 0x8686, addr4E: 0xC562})

	chips := NewProber(sim, chipdb.MustLoadCompiled()).Probe()

	require.Len(t, chips, 2)
	assert.Equal(t, "it87", chips[0].Driver)
	assert.Equal(t, "nct6775", chips[1].Driver)
	for _, c := range chips {
		assert.Equal(t, PathFast, c.Path)
		assert.Equal(t, uint16(SimulatedBase), c.BaseAddress)
		assert.True(t, c.Active)
	}
}
