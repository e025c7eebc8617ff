// Hwlink-sim runs simulated UT or control boards on a TCP port.
//
// Each accepted connection gets its own simulated board, which answers
// status, address and inspect/monitor commands the way the hardware does.
// With --advertise the listener is registered over mDNS so
// 'hwlink-ctl discover' finds it.
//
// Usage:
//
//	hwlink-sim serve [flags]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mksystems/hwlink/internal/diag"
	"github.com/mksystems/hwlink/internal/logging"
	"github.com/mksystems/hwlink/internal/protocol"
	"github.com/mksystems/hwlink/internal/sim"
	"github.com/mksystems/hwlink/internal/ui"
	"github.com/mksystems/hwlink/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hwlink-sim",
	Short: "Simulated UT and control boards",
	Long: `Serve simulated UT or control boards over TCP.

Point a board entry in the hwlink configuration at the simulator address to
exercise a link without hardware. PLC boards are not simulated.`,
	Version: version.Version,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var (
	listen    string
	dialect   string
	chassis   int
	slot      int
	checksum  string
	advertise bool
	instance  string
	logLevel  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the simulator",
	Example: `  # UT board in chassis 1 slot 3 on the default port
  hwlink-sim serve --chassis 1 --slot 3

  # Control board, advertised over mDNS
  hwlink-sim serve --dialect control --listen :10002 --advertise --instance ctl-bench`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listen, "listen", "127.0.0.1:10001", "Listen address (host:port)")
	serveCmd.Flags().StringVar(&dialect, "dialect", "ut", "Board dialect (ut, control)")
	serveCmd.Flags().IntVar(&chassis, "chassis", 0, "Chassis number reported by the board (0-15)")
	serveCmd.Flags().IntVar(&slot, "slot", 0, "Slot number reported by the board (0-15)")
	serveCmd.Flags().StringVar(&checksum, "checksum", "verify", "Checksum handling for host frames (none, ignore, verify)")
	serveCmd.Flags().BoolVar(&advertise, "advertise", false, "Advertise the simulator over mDNS")
	serveCmd.Flags().StringVar(&instance, "instance", "", "mDNS instance name (default hwlink-sim-<dialect>)")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func runServe(cmd *cobra.Command, args []string) error {
	d, err := protocol.DialectByName(dialect)
	if err != nil {
		return err
	}
	mode, err := protocol.ParseChecksumMode(checksum)
	if err != nil {
		return err
	}
	if chassis < 0 || chassis > 15 || slot < 0 || slot > 15 {
		return fmt.Errorf("chassis and slot must be between 0 and 15")
	}

	if err := logging.Initialize(logLevel); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	srv, err := sim.NewServer(sim.ServerConfig{
		Listen:  listen,
		Dialect: d,
		Board: sim.Options{
			Chassis:  chassis,
			Slot:     slot,
			Status:   sim.StatusFPGALoaded,
			Checksum: mode,
			Sink:     diag.NewLogSink(5, 20),
		},
		Advertise: advertise,
		Instance:  instance,
	})
	if err != nil {
		return fmt.Errorf("failed to create simulator: %w", err)
	}
	if err := srv.Listen(); err != nil {
		return err
	}

	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PrintHeader("Board Simulator", "hwlink-sim serve",
		ui.Param{Key: "Dialect", Value: d.Name},
		ui.Param{Key: "Address", Value: srv.Addr().String()},
		ui.Param{Key: "Chassis", Value: strconv.Itoa(chassis)},
		ui.Param{Key: "Slot", Value: strconv.Itoa(slot)},
		ui.Param{Key: "Checksum", Value: checksum},
		ui.Param{Key: "mDNS", Value: strconv.FormatBool(advertise)},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Serve(ctx)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Get("hwlink-sim"))
	},
}
