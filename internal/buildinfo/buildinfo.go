// Package buildinfo carries version metadata injected at link time:
//
//	go build -ldflags "-X navieta.dev/internal/buildinfo.CommitHash=$(git rev-parse HEAD)"
package buildinfo

var (
	CommitHash = "unknown"
	Branch     = "unknown"
	BuildTime  = "unknown"
	Version    = "dev"
)
