// Package buildinfo reports which deeflow build is running.
//
// Release builds stamp Version and Commit:
//
//	go build -ldflags "-X github.com/YoshitsuguKoike/deeflow/internal/buildinfo.Version=v1.0.0 \
//	  -X github.com/YoshitsuguKoike/deeflow/internal/buildinfo.Commit=$(git rev-parse HEAD)"
package buildinfo

import "runtime/debug"

var (
	Version = ""
	Commit  = ""
)

// shortCommit is the length commits are printed with
const shortCommit = 12

// GetVersion returns the stamped version, the module version of a
// `go install` build, or "dev"
func GetVersion() string {
	if Version != "" {
		return Version
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return "dev"
}

// GetCommit returns the stamped commit or the vcs.revision recorded by the
// go tool, shortened; "" when neither is known
func GetCommit() string {
	commit := Commit
	if commit == "" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					commit = s.Value
				}
			}
		}
	}
	if len(commit) > shortCommit {
		commit = commit[:shortCommit]
	}
	return commit
}
