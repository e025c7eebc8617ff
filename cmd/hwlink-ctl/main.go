// Hwlink-ctl links a host to UT, control and PLC boards.
//
// 'hwlink-ctl run' keeps one framed-protocol session per configured board,
// reconnecting as needed, and serves metrics, session status and a live
// diagnostics feed over HTTP. The one-shot commands (status, send) open a
// single session, do their exchange and exit.
//
// See 'hwlink-ctl --help' for available commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mksystems/hwlink/internal/config"
	"github.com/mksystems/hwlink/internal/diag"
	"github.com/mksystems/hwlink/internal/link"
	"github.com/mksystems/hwlink/internal/logging"
	"github.com/mksystems/hwlink/internal/metrics"
	"github.com/mksystems/hwlink/internal/server"
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
	Use:   "hwlink-ctl",
	Short: "Host link for UT, control and PLC boards",
	Long: `Keep framed-protocol links to UT, control and PLC boards.

Boards are listed in the configuration file, by default
~/.config/hwlink/config.yaml. Use 'hwlink-ctl init-config' to write one
with a single simulated board, and 'hwlink-ctl discover' to find boards
advertised on the local network.`,
	Version: version.Version,
	Example: `  # Link every configured board and serve diagnostics
  hwlink-ctl run

  # Same, with the live terminal monitor
  hwlink-ctl run --monitor

  # Query one board
  hwlink-ctl status ut-1`,
	SilenceUsage: true,
}

// Global flags
var (
	configPath string
	logLevel   string
)

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default ~/.config/hwlink/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error), overrides the config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

var (
	monitor    bool
	httpListen string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Link every configured board",
	Long: `Open a session to every configured board and keep it connected.

Sessions reconnect with exponential backoff after a dropped link. Metrics are
served on /metrics, session status on /sessions and diagnostics events on the
/diag websocket. With --monitor a terminal dashboard shows the same.`,
	RunE: runLink,
}

func init() {
	runCmd.Flags().BoolVar(&monitor, "monitor", false, "Show the live terminal monitor")
	runCmd.Flags().StringVar(&httpListen, "http", "", "Diagnostics HTTP listen address, overrides the config file")
}

func runLink(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Boards) == 0 {
		return fmt.Errorf("no boards configured in %s", path)
	}
	if err := initLogging(cfg, monitor); err != nil {
		return err
	}
	defer logging.Sync()

	reg := metrics.NewRegistry()
	hub := server.NewHub()
	defer hub.Close()

	sinks := []diag.Sink{diag.NewLogSink(5, 20), metrics.New(reg), hub}
	var queue *diag.Queue
	if monitor {
		queue = diag.NewQueue(diag.DefaultQueueSize)
		sinks = append(sinks, queue)
	}

	manager, err := link.NewManager(cfg, diag.Fanout(sinks...))
	if err != nil {
		return err
	}

	listen := cfg.HTTP.Listen
	if httpListen != "" {
		listen = httpListen
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return manager.Run(ctx) })

	if listen != "" {
		srv, err := server.New(server.Config{
			Listen:   listen,
			CertPath: cfg.HTTP.TLSCert,
			KeyPath:  cfg.HTTP.TLSKey,
			Sessions: manager,
			Registry: reg,
			Hub:      hub,
		})
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		g.Go(func() error { return srv.Serve(ctx) })
	}

	logging.Info("hwlink-ctl started",
		zap.String("version", version.Full()),
		zap.String("config", path),
		zap.Int("boards", len(cfg.Boards)),
		zap.String("http", listen),
	)

	if monitor {
		g.Go(func() error {
			err := ui.RunMonitor(ctx, ui.MonitorConfig{
				Title:   "Board Links",
				Command: "hwlink-ctl run",
				Params: []ui.Param{
					{Key: "Config", Value: path},
					{Key: "HTTP", Value: orNone(listen)},
				},
				Sessions: manager,
				Events:   queue,
			})
			// Quitting the monitor stops the whole run.
			stop()
			return err
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func loadConfig() (*config.Config, string, error) {
	path, err := config.ResolvePath(configPath)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// initLogging sets up zap from the flag or the config file. While the
// monitor owns the terminal only the log file is written.
func initLogging(cfg *config.Config, fileOnly bool) error {
	level := logLevel
	if level == "" {
		level = cfg.LogLevel
	}
	err := logging.InitializeWithFile(level, logging.FileOptions{
		Path:      cfg.LogFile,
		Compress:  true,
		NoConsole: fileOnly,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "disabled"
	}
	return s
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Get("hwlink-ctl"))
	},
}
