// Package version reports build information for the tbuf binary.
package version

import (
	"runtime"
	"runtime/debug"
	"time"

	"github.com/samcharles93/tensorbuffers/pkg/tbuf"
)

var (
	// Version is the release version (set via -ldflags).
	Version = ""
	// Commit is the git commit hash (set via -ldflags).
	Commit = ""
	// BuildTime is the build timestamp (set via -ldflags).
	BuildTime = ""
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	Schema    string `json:"schema"`
	GoVersion string `json:"go_version"`
}

func Resolve() Info {
	resolved := Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		Schema:    tbuf.SchemaVersion,
		GoVersion: runtime.Version(),
	}

	if resolved.Commit == "" {
		resolved.Commit = vcsRevision()
	}
	if resolved.Version == "" {
		if resolved.BuildTime != "" {
			resolved.Version = resolved.BuildTime
		} else {
			resolved.Version = time.Now().UTC().Format("20060102T150405Z")
		}
	}

	return resolved
}

func String() string {
	info := Resolve()
	s := info.Version
	if info.Commit != "" {
		s += " (" + shortCommit(info.Commit) + ")"
	}
	return s + " schema " + info.Schema
}

func vcsRevision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}

func shortCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}
