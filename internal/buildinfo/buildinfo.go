// Package buildinfo holds build metadata set at link time:
//
//	go build -ldflags "-X github.com/garyellow/igrelay/internal/buildinfo.Version=v1.2.0 \
//	  -X github.com/garyellow/igrelay/internal/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/garyellow/igrelay/internal/buildinfo.BuildDate=$(date -u +%FT%TZ)"
package buildinfo

var (
	Version   = ""
	Commit    = ""
	BuildDate = ""
)

// Release is the version reported to logs and Sentry, "dev" for local builds.
func Release() string {
	switch {
	case Version != "":
		return Version
	case Commit != "":
		return "dev-" + Commit
	default:
		return "dev"
	}
}

// Fields returns the build metadata as log fields.
func Fields() map[string]any {
	return map[string]any{
		"version":    Release(),
		"commit":     Commit,
		"build_date": BuildDate,
	}
}
