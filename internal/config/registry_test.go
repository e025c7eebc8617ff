package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestGetConfigDir(t *testing.T) {
	configDir, err := GetConfigDir()
	if err != nil {
		t.Fatalf("GetConfigDir() error = %v", err)
	}

	if !strings.Contains(configDir, "hwlink") {
		t.Errorf("GetConfigDir() = %v, should contain 'hwlink'", configDir)
	}

	switch runtime.GOOS {
	case "windows":
		if !strings.Contains(configDir, "AppData") && !strings.Contains(configDir, "Local") {
			t.Errorf("Windows config dir should contain 'AppData' or 'Local', got: %v", configDir)
		}
	case "darwin", "linux":
		if !strings.Contains(configDir, ".config") && os.Getenv("XDG_CONFIG_HOME") == "" {
			t.Errorf("Unix config dir should contain '.config', got: %v", configDir)
		}
	}
}

func TestGetConfigPath(t *testing.T) {
	configPath, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath() error = %v", err)
	}

	if filepath.Base(configPath) != "config.yaml" {
		t.Errorf("GetConfigPath() should end with 'config.yaml', got: %v", configPath)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Version != 1 {
		t.Errorf("Version = %d, want 1", cfg.Version)
	}
	if len(cfg.Boards) != 1 || cfg.Boards[0].ID != 1 {
		t.Fatalf("Default() boards = %+v, want one board with ID 1", cfg.Boards)
	}
	if cfg.Boards[0].PollInterval != DefaultPollInterval {
		t.Errorf("PollInterval = %v, want %v", cfg.Boards[0].PollInterval, DefaultPollInterval)
	}
}

func TestParse(t *testing.T) {
	doc := `
version: 1
log_level: debug
http:
  listen: 127.0.0.1:9999
boards:
  - name: ut-1
    address: 10.0.0.5:23
    poll_interval: 25ms
    checksum: verify
  - name: control
    dialect: control
    address: 10.0.0.4:23
    unknown_commands: resync
    chassis: 2
    slot: 3
  - name: plc
    dialect: plc
    address: 10.0.0.9:10001
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(cfg.Boards) != 3 {
		t.Fatalf("boards = %d, want 3", len(cfg.Boards))
	}
	for i, b := range cfg.Boards {
		if b.ID != i+1 {
			t.Errorf("board %q ID = %d, want %d", b.Name, b.ID, i+1)
		}
	}

	ut := cfg.Board("ut-1")
	if ut == nil {
		t.Fatal("Board(ut-1) = nil")
	}
	if ut.Dialect != "ut" || ut.PollInterval != 25*time.Millisecond || ut.ReadTimeout != DefaultReadTimeout {
		t.Errorf("ut-1 = %+v", ut)
	}
	if cfg.BoardByID(3).Checksum != "none" {
		t.Errorf("plc checksum default = %q, want none", cfg.BoardByID(3).Checksum)
	}
	if cfg.BoardByID(0) != nil || cfg.BoardByID(4) != nil {
		t.Error("BoardByID() out of range should be nil")
	}

	d, opts, err := cfg.Board("control").DecoderOptions()
	if err != nil {
		t.Fatalf("DecoderOptions() error = %v", err)
	}
	if d.Name != "control" || opts.Unknown.String() != "resync" || opts.Checksum.String() != "ignore" {
		t.Errorf("DecoderOptions() = %s %+v", d.Name, opts)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "version", doc: "version: 2\n"},
		{name: "missing name", doc: "version: 1\nboards:\n  - address: host-a\n"},
		{name: "duplicate", doc: "version: 1\nboards:\n  - {name: a, address: host-a}\n  - {name: a, address: host-b}\n"},
		{name: "dialect", doc: "version: 1\nboards:\n  - {name: a, address: host-a, dialect: can}\n"},
		{name: "checksum", doc: "version: 1\nboards:\n  - {name: a, address: host-a, checksum: crc16}\n"},
		{name: "no address", doc: "version: 1\nboards:\n  - {name: a}\n"},
		{name: "slot", doc: "version: 1\nboards:\n  - {name: a, address: host-a, slot: 16}\n"},
		{name: "simulated plc", doc: "version: 1\nboards:\n  - {name: a, dialect: plc, simulate: true}\n"},
		{name: "tls key only", doc: "version: 1\nhttp: {listen: ':9180', tls_key: k.pem}\n"},
		{name: "yaml", doc: "version: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Error("Parse() should fail")
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Boards = append(cfg.Boards, &Board{
		Name:         "control",
		Dialect:      "control",
		Address:      "127.0.0.1:2323",
		PollInterval: 50 * time.Millisecond,
	})

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got := loaded.Board("control")
	if got == nil || got.ID != 2 || got.PollInterval != 50*time.Millisecond {
		t.Errorf("loaded control board = %+v", got)
	}
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Boards) != 1 || !cfg.Boards[0].Simulate {
		t.Errorf("Load() of a missing file = %+v, want Default()", cfg)
	}
}
