// Package version holds build metadata injected via ldflags and the node's API identity.
package version

// Name and APIVersion are reported by GET /.
const (
	Name       = "Alith LazAI Privacy Data Query Node"
	APIVersion = "1.0.0"
)

//nolint:revive // Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)
