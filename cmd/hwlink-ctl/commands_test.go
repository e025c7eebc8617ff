package main

import (
	"bytes"
	"testing"

	"github.com/mksystems/hwlink/internal/config"
	"github.com/mksystems/hwlink/internal/discovery"
	"github.com/mksystems/hwlink/internal/protocol"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		dialect protocol.Dialect
		in      string
		want    byte
		wantErr bool
	}{
		{name: "ut name", dialect: protocol.DialectUT, in: "GET_STATUS", want: protocol.UTGetStatus},
		{name: "name ignores case", dialect: protocol.DialectUT, in: "read_fpga", want: protocol.UTReadFPGA},
		{name: "control name", dialect: protocol.DialectControl, in: "GET_INSPECT_PACKET", want: protocol.CtlGetInspectPacket},
		{name: "hex byte", dialect: protocol.DialectUT, in: "0x7f", want: 0x7f},
		{name: "decimal byte", dialect: protocol.DialectControl, in: "12", want: 12},
		{name: "too large", dialect: protocol.DialectUT, in: "0x100", wantErr: true},
		{name: "unknown name", dialect: protocol.DialectUT, in: "REBOOT", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCommand(tt.dialect, tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCommand(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseCommand(%q) = 0x%02x, want 0x%02x", tt.in, got, tt.want)
			}
		})
	}
}

func TestParsePayload(t *testing.T) {
	got, err := parsePayload([]string{"0x08", "255", "0b101"})
	if err != nil {
		t.Fatalf("parsePayload() error = %v", err)
	}
	if !bytes.Equal(got, []byte{0x08, 0xff, 0x05}) {
		t.Errorf("parsePayload() = % x", got)
	}
	if _, err := parsePayload([]string{"256"}); err == nil {
		t.Error("parsePayload(256) error = nil, want error")
	}
}

func TestMergeDiscovered(t *testing.T) {
	cfg := config.Default()
	cfg.Boards = append(cfg.Boards, &config.Board{ID: 2, Name: "bench", Dialect: "ut", Address: "10.0.0.5:10001"})

	found := []*discovery.Board{
		// Name and address clashes are skipped.
		{Instance: "ut-1", IP: "10.0.0.9", Port: 10001},
		{Instance: "other", IP: "10.0.0.5", Port: 10001},

		{Instance: "ctl-rack", IP: "10.0.0.7", Port: 10002, Dialect: "control", Chassis: 2, Slot: 9},
		{Instance: "plain", IP: "10.0.0.8", Port: 23},
		{Instance: "plain", IP: "10.0.0.8", Port: 23},
	}

	added := mergeDiscovered(cfg, found)
	if len(added) != 2 || added[0] != "ctl-rack" || added[1] != "plain" {
		t.Fatalf("added = %v, want [ctl-rack plain]", added)
	}
	if len(cfg.Boards) != 4 {
		t.Fatalf("config has %d boards, want 4", len(cfg.Boards))
	}

	ctl := cfg.Board("ctl-rack")
	if ctl == nil || ctl.ID != 3 || ctl.Dialect != "control" || ctl.Address != "10.0.0.7:10002" || ctl.Chassis != 2 || ctl.Slot != 9 {
		t.Errorf("ctl-rack = %+v", ctl)
	}
	if plain := cfg.Board("plain"); plain == nil || plain.Dialect != "ut" {
		t.Errorf("plain = %+v, want ut dialect by default", plain)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("merged config invalid: %v", err)
	}
}
