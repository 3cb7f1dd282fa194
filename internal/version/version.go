package version

// Version information set via ldflags during build
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// FullVersion returns a formatted version string for the named binary
func FullVersion(program string) string {
	if Version == "dev" {
		return program + " development build"
	}
	return program + " " + Version + " (commit: " + GitCommit + ", built: " + BuildDate + ")"
}
