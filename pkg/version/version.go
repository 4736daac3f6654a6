// Package version carries build metadata stamped in at link time.
package version

import (
	"fmt"
	"runtime"
)

// Set through -ldflags, e.g.
// -X github.com/confrag/confrag/pkg/version.Version=v0.3.0
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// GoVersion is resolved at runtime rather than link time.
var GoVersion = runtime.Version()

// BuildInfo is the JSON shape for `confrag version --json`.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetInfo snapshots the build metadata.
func GetInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// String renders the multi-line form used by `confrag version`.
func String() string {
	info := GetInfo()
	return fmt.Sprintf(
		"confrag version %s\n  git commit: %s\n  build time: %s\n  go version: %s\n  platform: %s/%s",
		info.Version, info.Commit, info.Date, info.GoVersion, info.OS, info.Arch,
	)
}

// Short is the bare version number.
func Short() string {
	return Version
}
