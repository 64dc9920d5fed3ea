package version

import (
	"fmt"
	"runtime"
)

var (
	CLIName    = "spoke"
	CLIVersion = "0.1.0"
	Commit     = "unknown"
	BuildDate  = "unknown"
)

func Long() string {
	return fmt.Sprintf("%s (commit: %s, built: %s, %s)", CLIVersion, Commit, BuildDate, runtime.Version())
}
