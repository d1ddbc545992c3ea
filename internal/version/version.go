// Package version carries build identification set via -ldflags.
package version

import "fmt"

// Set at link time:
//
//	go build -ldflags "-X github.com/banshee-data/gridwatch/internal/version.Version=v0.3.0"
var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String formats the build identification for -version output and startup logs.
func String() string {
	sha := GitSHA
	if len(sha) > 12 {
		sha = sha[:12]
	}
	return fmt.Sprintf("gridwatch %s (%s, built %s)", Version, sha, BuildTime)
}
