// Package config carries build-time metadata, stamped via -ldflags at release.
package config

var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)
