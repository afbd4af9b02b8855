// Package version holds build metadata injected via -ldflags.
package version

// Version and Commit are overridden at build time:
//
//	go build -ldflags "-X github.com/wisbric/forgehost/internal/version.Version=1.2.3 -X github.com/wisbric/forgehost/internal/version.Commit=$(git rev-parse HEAD)"
var (
	Version = "dev"
	Commit  = "unknown"
)
