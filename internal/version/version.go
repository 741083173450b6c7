package version

import (
	"runtime"
	"strings"
)

// Build metadata, set with -ldflags at release time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String is the `pyronotes version` line.
func String() string {
	return "pyronotes " + Version + " (commit=" + Commit + ", date=" + Date + ", go=" + runtime.Version() + ")"
}

// UserAgent identifies the recorder to the lecture backend on both the REST
// API and the live transcription socket. Dev builds carry the short commit so
// server logs can tell local builds apart.
func UserAgent() string {
	v := strings.TrimPrefix(strings.TrimSpace(Version), "v")
	if v == "" {
		v = "dev"
	}
	if v == "dev" && Commit != "" && Commit != "none" {
		commit := Commit
		if len(commit) > 7 {
			commit = commit[:7]
		}
		v += "+" + commit
	}
	return "pyronotes/" + v + " (" + runtime.GOOS + "/" + runtime.GOARCH + ")"
}
