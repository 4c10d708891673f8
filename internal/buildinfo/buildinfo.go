package buildinfo

// Populated at build time via -ldflags:
//
//	-X github.com/opentriage/diagraph-go/internal/buildinfo.Version=...
var (
	Version   = "dev"
	Revision  = "unknown"
	BuildDate = "unknown"
)
