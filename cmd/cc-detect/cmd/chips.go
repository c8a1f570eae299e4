package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/codifryed/coolercontrol-sub002/pkg/chipdb"
	"github.com/codifryed/coolercontrol-sub002/pkg/detect"
)

var (
	chipFamily    string
	chipsOverride string
	chipsOutput   string
)

// ChipRow is one database entry as listed by the chips command.
type ChipRow struct {
	Family        string   `json:"family" yaml:"family"`
	Name          string   `json:"name" yaml:"name"`
	Driver        string   `json:"driver,omitempty" yaml:"driver,omitempty"`
	DeviceID      string   `json:"device_id" yaml:"device_id"`
	DeviceIDMask  string   `json:"device_id_mask" yaml:"device_id_mask"`
	LogicalDevice string   `json:"logical_device" yaml:"logical_device"`
	Features      []string `json:"features" yaml:"features"`
}

var chipsCmd = &cobra.Command{
	Use:   "chips",
	Short: "List the chip database",
	Long: `List every chip the detector can identify, after merging the override file.

Entries are shown in match order: within a family the first entry whose
masked device ID matches wins.

Examples:
  cc-detect chips
  cc-detect chips --family winbond --output yaml
  cc-detect chips --override ./detect.toml`,
	RunE: runChips,
}

func init() {
	rootCmd.AddCommand(chipsCmd)

	chipsCmd.Flags().StringVarP(&chipFamily, "family", "f", "",
		"only list this family (name or name prefix, case-insensitive)")
	chipsCmd.Flags().StringVar(&chipsOverride, "override", detect.DefaultOverridePath,
		"chip override file (ignored when missing)")
	chipsCmd.Flags().StringVarP(&chipsOutput, "output", "o", "text",
		"output format (text, json, yaml)")
}

func runChips(cmd *cobra.Command, args []string) error {
	db, err := chipdb.LoadCompiled()
	if err != nil {
		return err
	}
	if chipsOverride != "" {
		if err := db.MergeFile(chipsOverride); err != nil {
			slog.Warn("ignoring chip override file", "path", chipsOverride, "err", err)
		}
	}

	families, err := selectFamilies(db, chipFamily)
	if err != nil {
		return err
	}

	var rows []ChipRow
	for _, f := range families {
		for _, c := range f.Chips {
			rows = append(rows, ChipRow{
				Family:        f.Name,
				Name:          c.Name,
				Driver:        c.Driver,
				DeviceID:      fmt.Sprintf("0x%04X", c.DeviceID),
				DeviceIDMask:  fmt.Sprintf("0x%04X", c.DeviceIDMask),
				LogicalDevice: fmt.Sprintf("0x%02X", c.LogicalDevice),
				Features:      c.Features.Names(),
			})
		}
	}

	out := cmd.OutOrStdout()
	switch chipsOutput {
	case "text":
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("FAMILY", "CHIP", "DRIVER", "DEVICE ID", "MASK", "LOGDEV", "FEATURES")
		for _, r := range rows {
			driver := r.Driver
			if driver == "" {
				driver = "-"
			}
			t.Row(r.Family, r.Name, driver, r.DeviceID, r.DeviceIDMask, r.LogicalDevice, strings.Join(r.Features, ","))
		}
		fmt.Fprintln(out, t.Render())
		fmt.Fprintf(out, "%d chips in %d families\n", len(rows), len(families))
		return nil
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "yaml":
		enc := yaml.NewEncoder(out)
		if err := enc.Encode(rows); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", chipsOutput)
	}
}

func selectFamilies(db *chipdb.Database, query string) ([]*chipdb.Family, error) {
	all := db.Families()
	if query == "" {
		return all, nil
	}
	q := strings.ToLower(query)
	for _, f := range all {
		if strings.HasPrefix(strings.ToLower(f.Name), q) {
			return []*chipdb.Family{f}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", chipdb.ErrFamilyNotFound, query)
}
