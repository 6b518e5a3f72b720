package config

// Build metadata, set via -ldflags "-X github.com/edirooss/coop-relay/internal/config.Version=...".
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)
