// ABOUTME: Package settings owns the canonical configuration document
// ABOUTME: Cached reads, key-wise merge-on-write, validation, invalidation

// Package settings implements the hub's source of truth for server,
// group, user, and variable configuration. A single Store instance wraps
// the persistence backend with a one-slot TTL cache; all mutation goes
// through the validated Save path.
package settings
