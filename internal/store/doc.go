// ABOUTME: Package store is the persistence backend for the hub
// ABOUTME: SQLite-backed settings document and API key storage plus a mock for tests

// Package store persists the settings document and API keys. The hub
// consumes it through the Backend interface; SQLiteStore is the real
// implementation and MockStore the in-memory test double.
package store
