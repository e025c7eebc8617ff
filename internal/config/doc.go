// Package config loads the board link configuration.
//
// The configuration is a versioned YAML file listing the boards to link to,
// their protocol settings, logging and the diagnostics HTTP address.
//
// # Configuration File Location
//
// Without an explicit path the file is read from:
//   - Linux: $XDG_CONFIG_HOME/hwlink/config.yaml or $HOME/.config/hwlink/config.yaml
//   - macOS: $HOME/.config/hwlink/config.yaml
//   - Windows: %LOCALAPPDATA%\hwlink\config.yaml
//
// # Board Identity
//
// Each board gets a numeric ID from its position in the file, starting at 1.
// Sessions and simulators use it to pick their settings; nothing in the
// process hands out identities from a shared counter.
//
// # Example
//
//	version: 1
//	log_level: info
//	http:
//	  listen: 127.0.0.1:9180
//	boards:
//	  - name: ut-1
//	    dialect: ut
//	    address: 192.168.15.101:23
//	    checksum: verify
//	    poll_interval: 10ms
//	  - name: control
//	    dialect: control
//	    address: 192.168.15.100:23
//	    unknown_commands: resync
//
// # Thread Safety
//
// File operations are protected by a mutex and Save writes atomically.
package config
