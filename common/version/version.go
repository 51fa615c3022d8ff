// Package version reports build information for the kokoro binary.
package version

import (
	"runtime/debug"
	"strings"
)

// Set via -ldflags "-X github.com/bdobrica/kokoro/common/version.Version=...".
var (
	Version   = ""
	GitCommit = ""
	BuildTime = ""
)

// Info returns "kokoro <version> (<commit>) built at <time>". Values not
// injected at link time are taken from the module build info when present.
func Info() string {
	v, commit, built := resolve(debug.ReadBuildInfo)
	return "kokoro " + v + " (" + commit + ") built at " + built
}

func resolve(read func() (*debug.BuildInfo, bool)) (v, commit, built string) {
	v, commit, built = Version, GitCommit, BuildTime
	if bi, ok := read(); ok {
		if v == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			v = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = shortRevision(s.Value)
				}
			case "vcs.time":
				if built == "" {
					built = s.Value
				}
			}
		}
	}
	if v == "" {
		v = "v0.0.0-dev"
	}
	if commit == "" {
		commit = "unknown"
	}
	if built == "" {
		built = "unknown"
	}
	return v, commit, built
}

func shortRevision(rev string) string {
	rev = strings.TrimSpace(rev)
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
