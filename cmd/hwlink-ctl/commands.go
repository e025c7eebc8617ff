package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mksystems/hwlink/internal/config"
	"github.com/mksystems/hwlink/internal/diag"
	"github.com/mksystems/hwlink/internal/discovery"
	"github.com/mksystems/hwlink/internal/link"
	"github.com/mksystems/hwlink/internal/logging"
	"github.com/mksystems/hwlink/internal/protocol"
	"github.com/mksystems/hwlink/internal/ui"
)

// One-shot command flags
var (
	connectTimeout time.Duration
	jsonOutput     bool
	replyCommand   string
	plcLead        string
	scanTimeout    time.Duration
	saveFound      bool
	forceWrite     bool
)

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(initConfigCmd)

	for _, c := range []*cobra.Command{statusCmd, sendCmd} {
		c.Flags().DurationVar(&connectTimeout, "timeout", 5*time.Second, "Connect and reply timeout")
	}
}

// statusCmd queries one board
var statusCmd = &cobra.Command{
	Use:   "status <board>",
	Short: "Query a board's status and chassis/slot address",
	Example: `  hwlink-ctl status ut-1
  hwlink-ctl status ctl-2 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of a summary box")
}

type statusReport struct {
	link.Status
	BoardStatus *byte `json:"board_status,omitempty"`
	Chassis     *int  `json:"chassis,omitempty"`
	Slot        *int  `json:"slot,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	p := ui.NewPrinter(cmd.OutOrStdout())
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, closeSession, err := openSession(ctx, args[0])
	if err != nil {
		if !jsonOutput {
			p.PrintError("Board unreachable", err,
				"Check the board address in the configuration file",
				"Use 'hwlink-ctl discover' to list advertised boards",
			)
		}
		return err
	}
	defer closeSession()

	report := statusReport{}
	if s.Dialect().Name != protocol.DialectPLC.Name {
		reqCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()

		status, err := s.GetStatus(reqCtx)
		if err != nil {
			return fmt.Errorf("GET_STATUS failed: %w", err)
		}
		chassis, slot, err := s.ChassisSlot(reqCtx)
		if err != nil {
			return fmt.Errorf("chassis/slot query failed: %w", err)
		}
		report.BoardStatus, report.Chassis, report.Slot = &status, &chassis, &slot
	}
	report.Status = s.Status()

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	result := ui.NewSuccessResult("Board "+report.Name+" is connected",
		ui.Param{Key: "ID", Value: strconv.Itoa(report.ID)},
		ui.Param{Key: "Dialect", Value: report.Dialect},
		ui.Param{Key: "Address", Value: report.Address},
		ui.Param{Key: "Session", Value: report.Session},
	)
	if report.BoardStatus != nil {
		result.AddDetail("Status", fmt.Sprintf("0x%02x", *report.BoardStatus))
		result.AddDetail("Chassis", strconv.Itoa(*report.Chassis))
		result.AddDetail("Slot", strconv.Itoa(*report.Slot))
	}
	p.PrintResult(result)
	return nil
}

// sendCmd writes one frame or PLC message
var sendCmd = &cobra.Command{
	Use:   "send <board> <command> [payload...]",
	Short: "Send one command to a board",
	Long: `Send one frame to a UT or control board, or one message to a PLC board.

For UT and control boards the command is a name (GET_STATUS) or a byte
(0x09), and the payload is a list of bytes. For PLC boards the remaining
arguments are the message text. With --reply the command waits for the
matching reply and prints it.`,
	Example: `  # Read FPGA register 0x08 on a UT board
  hwlink-ctl send ut-1 READ_FPGA 0x08 --reply READ_FPGA

  # Start inspect mode on a control board
  hwlink-ctl send ctl-2 START_INSPECT 0

  # Query a PLC
  hwlink-ctl send plc-1 STATUS --lead '*' --reply S`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&replyCommand, "reply", "", "Wait for this reply command and print it")
	sendCmd.Flags().StringVar(&plcLead, "lead", string(rune(protocol.PLCLeadCommand)), "PLC lead character")
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	s, closeSession, err := openSession(ctx, args[0])
	if err != nil {
		return err
	}
	defer closeSession()

	reqCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if s.Dialect().Name == protocol.DialectPLC.Name {
		if len(plcLead) != 1 {
			return fmt.Errorf("--lead must be one character")
		}
		text := strings.Join(args[1:], " ")
		if replyCommand == "" {
			n, err := s.SendPLC(plcLead[0], text)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "sent %d bytes\n", n)
			return nil
		}
		if len(replyCommand) != 1 {
			return fmt.Errorf("--reply must be one character for plc boards")
		}
		msg, err := s.RequestPLC(reqCtx, plcLead[0], text, replyCommand[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%c %q seq %d\n", msg.Command, msg.Text, msg.Sequence)
		return nil
	}

	d := s.Dialect()
	command, err := parseCommand(d, args[1])
	if err != nil {
		return err
	}
	payload, err := parsePayload(args[2:])
	if err != nil {
		return err
	}

	if replyCommand == "" {
		n, err := s.Send(command, payload...)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "sent %s, %d bytes\n", d.CommandName(command), n)
		return nil
	}

	reply, err := parseCommand(d, replyCommand)
	if err != nil {
		return fmt.Errorf("--reply: %w", err)
	}
	p, err := s.Request(reqCtx, command, reply, payload...)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s [%d] %s\n", d.CommandName(reply), len(p), hex.EncodeToString(p))
	return nil
}

// parseCommand accepts a dialect command name or a byte value.
func parseCommand(d protocol.Dialect, s string) (byte, error) {
	for cmd, name := range d.Commands {
		if strings.EqualFold(name, s) {
			return cmd, nil
		}
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown %s command %q", d.Name, s)
	}
	return byte(v), nil
}

// parsePayload parses bytes given as decimal, 0x hex or 0b binary.
func parsePayload(args []string) ([]byte, error) {
	payload := make([]byte, 0, len(args))
	for _, a := range args {
		v, err := strconv.ParseUint(a, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid payload byte %q", a)
		}
		payload = append(payload, byte(v))
	}
	return payload, nil
}

// openSession runs a session for the named board until the returned close
// function is called. It fails if the board does not connect in time.
func openSession(ctx context.Context, name string) (*link.Session, func(), error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := initLogging(cfg, false); err != nil {
		return nil, nil, err
	}

	board := cfg.Board(name)
	if board == nil {
		names := make([]string, 0, len(cfg.Boards))
		for _, b := range cfg.Boards {
			names = append(names, b.Name)
		}
		return nil, nil, fmt.Errorf("no board %q in %s (have: %s)", name, path, strings.Join(names, ", "))
	}

	s, err := link.NewSession(board, diag.NewLogSink(5, 20))
	if err != nil {
		return nil, nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- s.Run(runCtx) }()
	closeSession := func() {
		cancel()
		<-done
		logging.Sync()
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, connectTimeout)
	defer waitCancel()
	if err := s.WaitConnected(waitCtx); err != nil {
		closeSession()
		return nil, nil, fmt.Errorf("board %s did not connect: %w", name, err)
	}
	return s, closeSession, nil
}

// discoverCmd browses mDNS for boards
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find boards advertised on the local network",
	Long: `Browse mDNS for boards and simulators advertising the board service.

With --save, boards not yet in the configuration file are appended to it.`,
	Example: `  hwlink-ctl discover
  hwlink-ctl discover --timeout 10s --save`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().DurationVar(&scanTimeout, "timeout", 0, "Browse time (default from config)")
	discoverCmd.Flags().BoolVar(&saveFound, "save", false, "Append new boards to the configuration file")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if err := initLogging(cfg, false); err != nil {
		return err
	}
	defer logging.Sync()

	scanner := discovery.NewScanner()
	scanner.Service = cfg.Discovery.Service
	scanner.Domain = cfg.Discovery.Domain
	scanner.Timeout = cfg.Discovery.Timeout
	if scanTimeout > 0 {
		scanner.Timeout = scanTimeout
	}

	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PrintHeader("Board Discovery", "hwlink-ctl discover",
		ui.Param{Key: "Service", Value: scanner.Service + scanner.Domain},
		ui.Param{Key: "Timeout", Value: scanner.Timeout.String()},
	)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	boards, err := scanner.Scan(ctx)
	if err != nil {
		p.PrintError("Discovery failed", err, "Check that multicast is allowed on this interface")
		return err
	}
	if len(boards) == 0 {
		p.PrintResult(ui.NewWarningResult("No boards found",
			ui.Param{Key: "Hint", Value: "Start a simulator with 'hwlink-sim serve --advertise'"},
		))
		return nil
	}

	sort.Slice(boards, func(i, j int) bool { return boards[i].Instance < boards[j].Instance })
	for i, b := range boards {
		p.Printf("%d. %s\n", i+1, b)
	}
	p.Println("")

	if !saveFound {
		return nil
	}
	added := mergeDiscovered(cfg, boards)
	if len(added) == 0 {
		p.PrintSuccess("Configuration already lists every board", ui.Param{Key: "Config", Value: path})
		return nil
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	p.PrintSuccess(fmt.Sprintf("Added %d board(s)", len(added)),
		ui.Param{Key: "Config", Value: path},
		ui.Param{Key: "Boards", Value: strings.Join(added, ", ")},
	)
	return nil
}

// mergeDiscovered appends boards whose name and address are both new, and
// returns the added names.
func mergeDiscovered(cfg *config.Config, found []*discovery.Board) []string {
	known := make(map[string]bool)
	for _, b := range cfg.Boards {
		known[b.Name] = true
		if b.Address != "" {
			known[b.Address] = true
		}
	}

	var added []string
	for _, f := range found {
		if known[f.Instance] || known[f.Address()] {
			continue
		}
		dialect := f.Dialect
		if dialect == "" {
			dialect = protocol.DialectUT.Name
		}
		cfg.Boards = append(cfg.Boards, &config.Board{
			ID:       len(cfg.Boards) + 1,
			Name:     f.Instance,
			Dialect:  dialect,
			Address:  f.Address(),
			Chassis:  f.Chassis,
			Slot:     f.Slot,
			Checksum: "verify",
		})
		known[f.Instance], known[f.Address()] = true, true
		added = append(added, f.Instance)
	}
	return added
}

// initConfigCmd writes a starter configuration
var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a starter configuration file",
	Long: `Write a configuration with one simulated UT board and the diagnostics
server on ` + config.DefaultHTTPListen + `. An existing file is kept unless --force is given.`,
	RunE: runInitConfig,
}

func init() {
	initConfigCmd.Flags().BoolVar(&forceWrite, "force", false, "Overwrite an existing file")
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	path, err := config.ResolvePath(configPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !forceWrite {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Default().Save(path); err != nil {
		return err
	}
	ui.NewPrinter(cmd.OutOrStdout()).PrintSuccess("Configuration written", ui.Param{Key: "Path", Value: path})
	return nil
}
