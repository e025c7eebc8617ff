// Package logging provides structured logging for the board link tools.
//
// This package wraps a package-global zap logger with convenience functions
// used throughout the link layer, the simulator and the CLIs.
//
// # Log Levels
//
//   - Debug: Frame hex dumps, per-frame dispatch
//   - Info: Connections, sessions starting and stopping
//   - Warn: Resyncs, unknown commands, checksum mismatches (throttled)
//   - Error: Setup failures
//
// # Configuration
//
// Initialize logging at startup:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// With an empty level the HWLINK_LOG_LEVEL environment variable is used;
// when that is also empty the logger is silent. InitializeWithFile adds a
// JSON log file rotated by lumberjack.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use once initialized.
package logging
