package buildinfo

import (
	"runtime"
	"runtime/debug"
	"sync"
)

// Build-time variables (set via ldflags).
var (
	// Version is the semantic version.
	Version = "dev"

	// Commit is the git commit hash.
	Commit = "unknown"

	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// Info contains build information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Modified  bool   `json:"modified,omitempty"`
}

var (
	once sync.Once
	info Info
)

// Get returns the build information. Values not injected through ldflags
// fall back to the VCS stamp embedded by the Go toolchain.
func Get() Info {
	once.Do(func() {
		info = Info{
			Version:   Version,
			Commit:    Commit,
			BuildTime: BuildTime,
			GoVersion: runtime.Version(),
		}
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "unknown" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.BuildTime == "unknown" {
					info.BuildTime = s.Value
				}
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	})
	return info
}

// String returns a formatted version string.
func String() string {
	i := Get()
	commit := i.Commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if i.Modified {
		commit += "-dirty"
	}
	return i.Version + " (" + commit + ") built at " + i.BuildTime + " with " + i.GoVersion
}

// UserAgent identifies outbound HTTP requests, e.g. "tokvault/v1.2.0".
func UserAgent() string {
	return "tokvault/" + Get().Version
}
