package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestFromBuildInfo(t *testing.T) {
	tests := []struct {
		name        string
		info        *debug.BuildInfo
		ok          bool
		wantVersion string
		wantCommit  string
	}{
		{
			name: "dirty workspace build",
			info: &debug.BuildInfo{
				Main: debug.Module{Version: "(devel)"},
				Settings: []debug.BuildSetting{
					{Key: "vcs.revision", Value: "0123456789abcdef"},
					{Key: "vcs.modified", Value: "true"},
					{Key: "vcs.time", Value: "2026-03-04T05:06:07Z"},
				},
			},
			ok:          true,
			wantVersion: "dev-20260304",
			wantCommit:  "0123456-dirty",
		},
		{
			name: "tagged module",
			info: &debug.BuildInfo{
				Main:     debug.Module{Version: "v0.3.0"},
				Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc"}},
			},
			ok:          true,
			wantVersion: "v0.3.0",
			wantCommit:  "abc",
		},
		{
			name: "no build info",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			savedVersion, savedCommit := Version, Commit
			t.Cleanup(func() { Version, Commit = savedVersion, savedCommit })
			Version, Commit = "", ""

			fromBuildInfo(tt.info, tt.ok)
			if Version != tt.wantVersion || Commit != tt.wantCommit {
				t.Errorf("got %q/%q, want %q/%q", Version, Commit, tt.wantVersion, tt.wantCommit)
			}
		})
	}
}

func TestGet(t *testing.T) {
	info := Get("hwlink-ctl")
	if info.Name != "hwlink-ctl" || info.Version != Version || info.Commit != Commit {
		t.Errorf("Get() = %+v", info)
	}
	s := info.String()
	if !strings.HasPrefix(s, "hwlink-ctl "+Version+" (commit: "+Commit) {
		t.Errorf("String() = %q", s)
	}
	if !strings.Contains(s, info.Platform) {
		t.Errorf("String() = %q, missing platform", s)
	}
}
