package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codifryed/coolercontrol-sub002/pkg/detect"
	"github.com/codifryed/coolercontrol-sub002/pkg/portio"
	"github.com/codifryed/coolercontrol-sub002/pkg/superio"
)

var (
	loadModules  bool
	overridePath string
	outputFormat string
	colorMode    string
	simChips     []string // For simulation: device IDs to answer with
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Probe for Super-I/O chips",
	Long: `Probe both standard Super-I/O addresses for a known hardware monitoring chip.

Each address is first read without a config-mode password. Only when that
finds nothing is each vendor password tried in turn, always followed by the
vendor's exit sequence.

With --load-modules the matching kernel drivers are loaded through modprobe,
unless they are already loaded, blacklisted, lose to a preferred driver, or
the process runs inside a container.

Examples:
  # Identify chips only
  cc-detect detect

  # Identify and load drivers, with extra chip definitions
  cc-detect detect --load-modules --override ./detect.toml

  # YAML output with debug logging on stderr
  cc-detect detect -v --output yaml`,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)

	detectCmd.Flags().BoolVarP(&loadModules, "load-modules", "l", false,
		"load the kernel drivers of detected chips")
	detectCmd.Flags().StringVar(&overridePath, "override", detect.DefaultOverridePath,
		"chip override file (ignored when missing)")
	detectCmd.Flags().StringVarP(&outputFormat, "output", "o", string(detect.FormatText),
		"output format (text, json, yaml, cbor)")
	detectCmd.Flags().StringVar(&colorMode, "color", string(detect.ColorAuto),
		"colour text output (auto, always, never)")

	detectCmd.Flags().StringSliceVar(&simChips, "simulate", nil,
		"simulate chips instead of probing hardware (ID or ADDR=ID, e.g. 0x8686,0x4E=0xC562)")
	detectCmd.Flags().MarkHidden("simulate")
}

func runDetect(cmd *cobra.Command, args []string) error {
	format, err := detect.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	color, err := detect.ParseColorMode(colorMode)
	if err != nil {
		return err
	}

	cfg := detect.DefaultConfig()
	cfg.DevPortPath = devPortPath
	cfg.OverridePath = overridePath
	if err := cfg.Validate(); err != nil {
		return err
	}

	detector := detect.NewDetector(cfg)
	if len(simChips) > 0 {
		if loadModules {
			return errors.New("--simulate cannot be combined with --load-modules")
		}
		chips, err := parseSimChips(simChips)
		if err != nil {
			return err
		}
		// Simulated hardware does not depend on the host architecture.
		detector.Arch = detect.SupportedArch
		detector.OpenPort = func(string) (portio.Port, error) {
			return superio.Simulate(chips), nil
		}
	}

	results := detector.Run(cmd.Context(), detect.Options{LoadModules: loadModules})

	out := cmd.OutOrStdout()
	if format == detect.FormatText {
		return detect.WriteText(out, results, color)
	}
	return detect.Encode(out, results, format)
}

// parseSimChips turns "0x8686" and "0x4E=0xC562" into simulated chips.
// A bare ID is placed at 0x2E.
func parseSimChips(args []string) (map[superio.Address]uint16, error) {
	chips := make(map[superio.Address]uint16, len(args))
	for _, arg := range args {
		addr := superio.Addresses[0]
		idText := arg
		if a, id, ok := strings.Cut(arg, "="); ok {
			index, err := strconv.ParseUint(strings.TrimSpace(a), 0, 16)
			if err != nil {
				return nil, fmt.Errorf("invalid simulated address %q: %w", a, err)
			}
			addr = superio.Address{Index: uint16(index), Data: uint16(index) + 1}
			idText = id
		}
		id, err := strconv.ParseUint(strings.TrimSpace(idText), 0, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid simulated device ID %q: %w", idText, err)
		}
		chips[addr] = uint16(id)
	}
	return chips, nil
}
