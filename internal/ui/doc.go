// Package ui provides the terminal output of the hwlink commands.
//
// One-shot commands print a Header, then a Result box, through a Printer.
// `hwlink-ctl run --monitor` runs the Monitor, a Bubble Tea model that
// shows the session table and a scrollback of diagnostic events. The
// monitor drains a diag.Queue on its own tick, so a slow terminal never
// blocks a board decoder; when the queue overflows the dropped count is
// shown under the scrollback.
//
// Logging is controlled separately via HWLINK_LOG_LEVEL. When it is unset
// zap is silent so the curated output is not interleaved with log lines.
package ui
