package version

// Version is the current release of cdpbridge.
const Version = "0.1.0"

// BuildVersion returns the version string for display on the CLI.
func BuildVersion() string {
	return "cdpbridge version " + Version
}
