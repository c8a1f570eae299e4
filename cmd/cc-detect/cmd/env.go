package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codifryed/coolercontrol-sub002/pkg/detect"
	"github.com/codifryed/coolercontrol-sub002/pkg/hostenv"
	"github.com/codifryed/coolercontrol-sub002/pkg/modload"
	"github.com/codifryed/coolercontrol-sub002/pkg/portio"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Show environment diagnostics",
	Long: `Show whether this host can be probed and whether drivers can be loaded:
architecture, container detection, raw port access, modprobe, and the
modules blacklisted in modprobe.d or on the kernel command line.`,
	RunE: runEnv,
}

func init() {
	rootCmd.AddCommand(envCmd)
}

func runEnv(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	host := hostenv.Detect()

	arch := runtime.GOARCH
	if arch == detect.SupportedArch {
		fmt.Fprintf(out, "Architecture:    %s (supported)\n", arch)
	} else {
		fmt.Fprintf(out, "Architecture:    %s (unsupported, detection is skipped)\n", arch)
	}

	if host.InContainer {
		fmt.Fprintf(out, "Container:       yes (%s)\n", host.ContainerType)
	} else {
		fmt.Fprintf(out, "Container:       no\n")
	}

	if p, err := portio.OpenDevPort(devPortPath); err != nil {
		fmt.Fprintf(out, "Port access:     unavailable (%v)\n", err)
	} else {
		p.Close()
		fmt.Fprintf(out, "Port access:     %s\n", devPortPath)
	}

	if host.HasModprobe {
		fmt.Fprintf(out, "modprobe:        %s\n", host.ModprobePath)
	} else {
		fmt.Fprintf(out, "modprobe:        not found\n")
	}
	if host.CanLoadModules() {
		fmt.Fprintf(out, "Module loading:  available\n")
	} else {
		fmt.Fprintf(out, "Module loading:  skipped\n")
	}

	blacklist := modload.NewLoader(nil).Blacklist()
	if len(blacklist) == 0 {
		fmt.Fprintf(out, "Blacklisted:     none\n")
	} else {
		fmt.Fprintf(out, "Blacklisted:     %s\n", strings.Join(blacklist, ", "))
	}
	return nil
}
