package config

import (
	"fmt"
	"time"

	"github.com/mksystems/hwlink/internal/protocol"
)

// Config represents the whole configuration file: logging, the diagnostics
// HTTP surface and the boards to link to.
type Config struct {
	Version   int             `yaml:"version"`
	LogLevel  string          `yaml:"log_level,omitempty"` // debug, info, warn, error
	LogFile   string          `yaml:"log_file,omitempty"`  // Rotated JSON log, empty = console only
	HTTP      HTTPConfig      `yaml:"http"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Boards    []*Board        `yaml:"boards"`
}

// HTTPConfig configures the diagnostics HTTP server.
type HTTPConfig struct {
	Listen  string `yaml:"listen"` // Empty disables the server
	TLSCert string `yaml:"tls_cert,omitempty"`
	TLSKey  string `yaml:"tls_key,omitempty"`
}

// DiscoveryConfig configures mDNS board discovery.
type DiscoveryConfig struct {
	Service string        `yaml:"service"`
	Domain  string        `yaml:"domain"`
	Timeout time.Duration `yaml:"timeout"`
}

// Board describes one board link.
type Board struct {
	// ID is assigned at load time from the board's position in the file,
	// starting at 1. It is stable as long as the file order is.
	ID int `yaml:"-"`

	Name            string        `yaml:"name"`
	Dialect         string        `yaml:"dialect"`                    // ut, control or plc
	Address         string        `yaml:"address,omitempty"`          // host:port
	Simulate        bool          `yaml:"simulate,omitempty"`         // In-process simulated board
	Checksum        string        `yaml:"checksum,omitempty"`         // none, ignore or verify
	UnknownCommands string        `yaml:"unknown_commands,omitempty"` // drop or resync
	PollInterval    time.Duration `yaml:"poll_interval,omitempty"`
	ReadTimeout     time.Duration `yaml:"read_timeout,omitempty"`
	DialTimeout     time.Duration `yaml:"dial_timeout,omitempty"`
	Chassis         int           `yaml:"chassis,omitempty"`
	Slot            int           `yaml:"slot,omitempty"`
}

// Defaults applied to boards that leave a field empty.
const (
	DefaultPollInterval = 10 * time.Millisecond
	DefaultReadTimeout  = protocol.DefaultReadTimeout
	DefaultDialTimeout  = 5 * time.Second
	DefaultHTTPListen   = "127.0.0.1:9180"
	DefaultService      = "_utboard._tcp"
	DefaultDomain       = "local."
	DefaultBrowseTime   = 5 * time.Second
)

// Default returns a configuration with one simulated UT board.
func Default() *Config {
	cfg := &Config{
		Version:  1,
		LogLevel: "info",
		HTTP:     HTTPConfig{Listen: DefaultHTTPListen},
		Discovery: DiscoveryConfig{
			Service: DefaultService,
			Domain:  DefaultDomain,
			Timeout: DefaultBrowseTime,
		},
		Boards: []*Board{
			{
				Name:     "ut-1",
				Dialect:  "ut",
				Simulate: true,
				Checksum: "verify",
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Discovery.Service == "" {
		c.Discovery.Service = DefaultService
	}
	if c.Discovery.Domain == "" {
		c.Discovery.Domain = DefaultDomain
	}
	if c.Discovery.Timeout <= 0 {
		c.Discovery.Timeout = DefaultBrowseTime
	}

	for i, b := range c.Boards {
		if b == nil {
			continue
		}
		b.ID = i + 1
		if b.Dialect == "" {
			b.Dialect = "ut"
		}
		if b.Checksum == "" {
			if b.Dialect == "plc" {
				b.Checksum = "none"
			} else {
				b.Checksum = "ignore"
			}
		}
		if b.UnknownCommands == "" {
			b.UnknownCommands = "drop"
		}
		if b.PollInterval <= 0 {
			b.PollInterval = DefaultPollInterval
		}
		if b.ReadTimeout <= 0 {
			b.ReadTimeout = DefaultReadTimeout
		}
		if b.DialTimeout <= 0 {
			b.DialTimeout = DefaultDialTimeout
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d (expected 1)", c.Version)
	}
	if (c.HTTP.TLSCert == "") != (c.HTTP.TLSKey == "") {
		return fmt.Errorf("http: tls_cert and tls_key must be set together")
	}

	seen := make(map[string]bool)
	for i, b := range c.Boards {
		if b == nil {
			return fmt.Errorf("board %d: empty entry", i+1)
		}
		if b.Name == "" {
			return fmt.Errorf("board %d: name is required", i+1)
		}
		if seen[b.Name] {
			return fmt.Errorf("board %q: duplicate name", b.Name)
		}
		seen[b.Name] = true

		if err := b.Validate(); err != nil {
			return fmt.Errorf("board %q: %w", b.Name, err)
		}
	}
	return nil
}

// Validate checks a single board entry.
func (b *Board) Validate() error {
	if _, err := protocol.DialectByName(b.Dialect); err != nil {
		return err
	}
	if _, err := protocol.ParseChecksumMode(b.Checksum); err != nil {
		return err
	}
	if _, err := protocol.ParseUnknownPolicy(b.UnknownCommands); err != nil {
		return err
	}
	if b.Simulate && b.Dialect == "plc" {
		return fmt.Errorf("plc boards cannot be simulated")
	}
	if !b.Simulate && b.Address == "" {
		return fmt.Errorf("address is required unless simulate is set")
	}
	if b.Chassis < 0 || b.Chassis > 15 || b.Slot < 0 || b.Slot > 15 {
		return fmt.Errorf("chassis and slot must be within 0-15")
	}
	return nil
}

// Board returns the board with the given name, or nil.
func (c *Config) Board(name string) *Board {
	for _, b := range c.Boards {
		if b != nil && b.Name == name {
			return b
		}
	}
	return nil
}

// BoardByID returns the board with the given ID, or nil.
func (c *Config) BoardByID(id int) *Board {
	if id < 1 || id > len(c.Boards) {
		return nil
	}
	return c.Boards[id-1]
}

// DecoderOptions translates the board's protocol settings.
func (b *Board) DecoderOptions() (protocol.Dialect, protocol.Options, error) {
	d, err := protocol.DialectByName(b.Dialect)
	if err != nil {
		return protocol.Dialect{}, protocol.Options{}, err
	}
	mode, err := protocol.ParseChecksumMode(b.Checksum)
	if err != nil {
		return protocol.Dialect{}, protocol.Options{}, err
	}
	policy, err := protocol.ParseUnknownPolicy(b.UnknownCommands)
	if err != nil {
		return protocol.Dialect{}, protocol.Options{}, err
	}
	return d, protocol.Options{
		Checksum:    mode,
		Unknown:     policy,
		ReadTimeout: b.ReadTimeout,
	}, nil
}
