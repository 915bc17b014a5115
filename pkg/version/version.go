// Package version describes the frameprof build. The variables are set with
// -ldflags "-X github.com/coral-mesh/frameprof/pkg/version.Version=...".
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info is the build description recorded in captures and status output.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// Get returns the running build.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
}

func (i Info) String() string {
	return fmt.Sprintf("frameprof %s (commit %s, built %s, %s)", i.Version, i.GitCommit, i.BuildDate, i.GoVersion)
}
