package detect

import (
	"fmt"

	"github.com/codifryed/coolercontrol-sub002/pkg/modload"
	"github.com/codifryed/coolercontrol-sub002/pkg/portio"
	"github.com/codifryed/coolercontrol-sub002/pkg/superio"
)

// DefaultOverridePath is where administrators and distributions add or
// replace chip descriptors.
const DefaultOverridePath = "/etc/coolercontrol/detect.toml"

// Config controls where detection looks and what it touches.
type Config struct {
	// Hardware access
	DevPortPath string            // raw port device (default: /dev/port)
	Addresses   []superio.Address // index/data pairs to probe (default: 0x2E, 0x4E)

	// Chip database
	OverridePath string // optional override table; a missing file is ignored

	// Module loading
	ModulesPath     string   // loaded module list (default: /proc/modules)
	CmdlinePath     string   // kernel command line (default: /proc/cmdline)
	ModprobeDirs    []string // modprobe.d directories, highest precedence first
	SettleAfterLoad bool     // run udevadm settle after a successful load (default: true)
}

// DefaultConfig returns a Config for the running system.
func DefaultConfig() *Config {
	return &Config{
		DevPortPath:     portio.DefaultDevicePath,
		Addresses:       append([]superio.Address(nil), superio.Addresses...),
		OverridePath:    DefaultOverridePath,
		ModulesPath:     modload.DefaultModulesPath,
		CmdlinePath:     modload.DefaultCmdlinePath,
		ModprobeDirs:    append([]string(nil), modload.DefaultModprobeDirs...),
		SettleAfterLoad: true,
	}
}

// Validate fills unset fields with defaults and rejects address pairs whose
// data port does not follow the index port.
func (c *Config) Validate() error {
	if c.DevPortPath == "" {
		c.DevPortPath = portio.DefaultDevicePath
	}
	if len(c.Addresses) == 0 {
		c.Addresses = append([]superio.Address(nil), superio.Addresses...)
	}
	if c.ModulesPath == "" {
		c.ModulesPath = modload.DefaultModulesPath
	}
	if c.CmdlinePath == "" {
		c.CmdlinePath = modload.DefaultCmdlinePath
	}
	if c.ModprobeDirs == nil {
		c.ModprobeDirs = append([]string(nil), modload.DefaultModprobeDirs...)
	}

	for _, a := range c.Addresses {
		if a.Data != a.Index+1 {
			return fmt.Errorf("detect: address %s: data port must follow the index port", a)
		}
	}
	return nil
}
