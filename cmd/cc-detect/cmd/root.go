package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codifryed/coolercontrol-sub002/pkg/portio"
)

var (
	// Global flags
	verbose     bool
	devPortPath string
)

var rootCmd = &cobra.Command{
	Use:   "cc-detect",
	Short: "Super-I/O hardware monitoring chip detector",
	Long: `Detect the Super-I/O hardware monitoring chip on this motherboard by probing
the legacy I/O ports 0x2E/0x2F and 0x4E/0x4F, and optionally load the kernel
driver that exposes its fan, temperature and voltage sensors through hwmon.

Probing needs read/write access to /dev/port, which usually means root.

Examples:
  cc-detect detect                         # Identify chips, load nothing
  cc-detect detect --load-modules          # Identify chips and load their drivers
  cc-detect detect --output json           # Machine-readable results
  cc-detect chips --family ITE             # List the known ITE chips
  cc-detect env                            # Show environment diagnostics`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(cmd)
	},
}

// Execute runs the root command. An interrupt cancels a running modprobe.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&devPortPath, "dev-port", portio.DefaultDevicePath, "raw port device")
	rootCmd.PersistentFlags().MarkHidden("dev-port")
}

// setupLogging sends structured logs to stderr so that stdout only carries
// results.
func setupLogging(cmd *cobra.Command) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
