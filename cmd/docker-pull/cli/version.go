package cli

import "fmt"

// Build information set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// versionString is what --version prints after the command name.
func versionString() string {
	return fmt.Sprintf("%s\n  commit: %s\n  built:  %s", version, commit, date)
}
