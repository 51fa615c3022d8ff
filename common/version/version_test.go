package version

import (
	"runtime/debug"
	"testing"
)

func TestResolve_FromBuildInfo(t *testing.T) {
	read := func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			Main: debug.Module{Version: "v1.2.3"},
			Settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "0123456789abcdef0123"},
				{Key: "vcs.time", Value: "2026-10-16T09:00:00Z"},
			},
		}, true
	}
	v, commit, built := resolve(read)
	if v != "v1.2.3" || commit != "0123456789ab" || built != "2026-10-16T09:00:00Z" {
		t.Errorf("resolve = %q %q %q", v, commit, built)
	}
}

func TestResolve_Defaults(t *testing.T) {
	v, commit, built := resolve(func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}, true
	})
	if v != "v0.0.0-dev" || commit != "unknown" || built != "unknown" {
		t.Errorf("resolve = %q %q %q", v, commit, built)
	}
}

func TestResolve_LinkerValuesWin(t *testing.T) {
	Version, GitCommit = "v9.9.9", "feedface"
	t.Cleanup(func() { Version, GitCommit = "", "" })
	v, commit, _ := resolve(func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Main: debug.Module{Version: "v1.0.0"}}, true
	})
	if v != "v9.9.9" || commit != "feedface" {
		t.Errorf("resolve = %q %q", v, commit)
	}
}
