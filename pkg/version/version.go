// Package version exposes the build identity of the pacsflow binary.
package version

import "runtime/debug"

// Populated at build time via -ldflags; the defaults identify a source build.
var (
	Version = "v0.0.0-dev"
	Commit  = "none"
	Date    = "unknown"
)

// InitBinaryVersion fills missing build identity from the embedded module
// build info when the binary was built without ldflags (plain `go build` or
// `go install`).
func InitBinaryVersion() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	if Version == "v0.0.0-dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	if Commit != "none" {
		return
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			Commit = setting.Value

			return
		}
	}
}
