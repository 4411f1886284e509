package version

import (
	"runtime/debug"
	"strings"
)

// Set via -ldflags "-X github.com/floegence/previewdev/internal/version.Version=..."
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String formats the version line printed by --version.
//
// Values injected via -ldflags win; otherwise module build info fills in
// what it can.
func String() string {
	return format(Version, Commit, Date, readBuildInfo)
}

func readBuildInfo() (*debug.BuildInfo, bool) { return debug.ReadBuildInfo() }

func format(version, commit, date string, info func() (*debug.BuildInfo, bool)) string {
	v := strings.TrimSpace(version)
	c := strings.TrimSpace(commit)
	d := strings.TrimSpace(date)

	if bi, ok := info(); ok && bi != nil {
		if v == "" || v == "dev" || v == "(devel)" {
			if mv := strings.TrimSpace(bi.Main.Version); mv != "" && mv != "(devel)" {
				v = mv
			}
		}
		if c == "" || c == "unknown" {
			c = setting(bi, "vcs.revision", c)
		}
		if d == "" || d == "unknown" {
			d = setting(bi, "vcs.time", d)
		}
	}

	out := v
	if out == "" {
		out = "dev"
	}
	if c != "" && c != "unknown" {
		out += " (" + c + ")"
	}
	if d != "" && d != "unknown" {
		out += " " + d
	}
	return out
}

func setting(bi *debug.BuildInfo, key, fallback string) string {
	for _, s := range bi.Settings {
		if s.Key == key && s.Value != "" {
			return s.Value
		}
	}
	return fallback
}
