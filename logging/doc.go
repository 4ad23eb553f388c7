// Package logging provides a minimal logging interface and adapters for RoleMesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the gateway, stores and agents use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - RoleMeshLogger with gateway / turn / pruning helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	gw := gateway.New(provider, func(o *gateway.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
