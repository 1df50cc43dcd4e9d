// Package config provides configuration management for go-swbn.
//
// # Configuration File
//
// Settings are read from $HOME/.go-swbn/config.yaml, or from the file named
// by CfgFile (the --config flag). When neither exists, a default file is
// written on first start. Every key may be overridden by an environment
// variable with the SWBN_ prefix and dots replaced by underscores, for
// example SWBN_REGISTRY_CLEANUP_INTERVAL=30s.
//
// # Sections
//
//   - registry: reader cache eviction (cleanup_interval)
//   - reader: per-bundle timeouts and parser reconnection pacing
//   - verification: trusted keys, dev mode and skipping of re-verification
//   - parser: size limits applied to untrusted bundle input
//   - serve: the local HTTP server and the bundles it exposes
//
// Defaults lists every default value; Validate rejects unusable values.
package config
