// Package version exposes build metadata for the daemon.
package version

// Set at build time via -ldflags.
var (
	// Version is the semantic version (e.g., v0.4.2).
	Version = "dev"

	// BuildTime is when the binary was built.
	BuildTime = "unknown"

	// GitCommit is the git commit hash the binary was built from.
	GitCommit = "unknown"
)

// Info returns the build metadata as a map, ready for the version endpoint.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	}
}
