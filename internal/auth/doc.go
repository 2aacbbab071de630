// ABOUTME: Package documentation for the auth package
// ABOUTME: Describes access control, API keys, and document filtering

// Package auth implements access control for the hub.
//
// It authenticates callers two ways: username/password pairs checked
// against bcrypt hashes in the settings document (yielding a signed
// session token), and API keys whose SHA-256 digests live in the key
// store. Raw API keys are shown once at creation and never persisted.
//
// Every settings read for a non-admin caller passes through Filter,
// which projects the document down to the servers the caller owns or
// that are public, hides user records and routing secrets, and masks
// encrypted saved variables.
package auth
