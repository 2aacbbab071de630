// ABOUTME: Package documentation for the hub package
// ABOUTME: Describes component wiring and the HTTP surface

// Package hub wires the mcpgate components into one running server.
//
// New constructs the SQLite-backed settings store, the access control
// service, and the edge router, and mounts them on a single HTTP mux:
// /api/* for the management API, an optional /metrics endpoint, and the
// edge router for /health, /sse routes, and passthrough. Run starts the
// listener (TCP or Tailscale tsnet), watches the database file to keep
// the settings cache fresh, and shuts everything down gracefully on
// context cancellation.
package hub
