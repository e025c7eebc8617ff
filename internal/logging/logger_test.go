package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestInitializeSilentWithoutLevel(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")

	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if GetLogger().Core().Enabled(-1) {
		t.Error("logger without level should be a no-op logger")
	}
}

func TestInitializeWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hwlink.log")

	if err := InitializeWithFile("info", FileOptions{Path: path}); err != nil {
		t.Fatalf("InitializeWithFile() error = %v", err)
	}
	defer func() { _ = Initialize("") }()

	Info("board link started")
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "board link started") {
		t.Errorf("log file = %q, want message", string(data))
	}
}

func TestInitializeFileOnly(t *testing.T) {
	defer func() { _ = Initialize("") }()

	if err := InitializeWithFile("debug", FileOptions{NoConsole: true}); err != nil {
		t.Fatalf("InitializeWithFile() error = %v", err)
	}
	if GetLogger().Core().Enabled(zapcore.ErrorLevel) {
		t.Error("logger without console or file is enabled, want no-op")
	}

	path := filepath.Join(t.TempDir(), "monitor.log")
	if err := InitializeWithFile("debug", FileOptions{Path: path, NoConsole: true}); err != nil {
		t.Fatalf("InitializeWithFile() error = %v", err)
	}
	Debug("frame decoded")
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "frame decoded") {
		t.Errorf("log file = %q, want message", string(data))
	}
}

func TestDumps(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		wantHex   string
		wantASCII string
	}{
		{name: "empty", data: nil, wantHex: "", wantASCII: ""},
		{name: "header", data: []byte{0xAA, 0x55, 'O', 'K'}, wantHex: "aa554f4b", wantASCII: "..OK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HexDump(tt.data); got != tt.wantHex {
				t.Errorf("HexDump() = %q, want %q", got, tt.wantHex)
			}
			if got := ASCIIDump(tt.data); got != tt.wantASCII {
				t.Errorf("ASCIIDump() = %q, want %q", got, tt.wantASCII)
			}
		})
	}

	long := make([]byte, 300)
	if got := HexDump(long); !strings.HasSuffix(got, "...") || len(got) != 512+3 {
		t.Errorf("HexDump() of 300 bytes should be truncated to 256, got len %d", len(got))
	}
}
