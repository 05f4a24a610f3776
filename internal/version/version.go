// Package version holds build information injected through -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "0.1.0-dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

func SetInfo(v, bt, gc, gv string) {
	if v != "" {
		Version = v
	}
	if bt != "" {
		BuildTime = bt
	}
	if gc != "" {
		GitCommit = gc
	}
	if gv != "" {
		GoVersion = gv
	}
}

// String renders the one line form printed by `nexbackup version`.
func String() string {
	return fmt.Sprintf("nexbackup %s (commit %s, built %s, %s)", Version, GitCommit, BuildTime, GoVersion)
}

// FormatStartupMessage is logged once when the daemon starts.
func FormatStartupMessage() string {
	return fmt.Sprintf("nexbackup started, version %s, build %s", Version, BuildTime)
}
