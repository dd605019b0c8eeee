// Package version contains build version information.
package version

import "runtime"

// Version is the current application version.
// Set at build time via -ldflags "-X .../version.Version=...".
var Version = "0.0.0"

// GitCommit is the git commit hash.
// This value is set at build time via ldflags.
var GitCommit = "unknown"

// BuildDate is the build date.
// This value is set at build time via ldflags.
var BuildDate = "unknown"

// Info returns the build information served by /version.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     GitCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
	}
}

// UserAgent is sent by outgoing HTTP clients.
func UserAgent() string {
	return "leadflow/" + Version
}

// String formats the version for CLI output.
func String() string {
	return Version + " (commit " + GitCommit + ", built " + BuildDate + ")"
}
