// ABOUTME: Package documentation for the router package
// ABOUTME: Describes CORS, bearer gating, health composition, and SSE relay

// Package router implements the stateless edge handler in front of the
// hub's backend servers and upstream application.
//
// Every response carries computed CORS headers. An optional shared
// bearer secret gates all routes except /health. Named servers stream
// directly from their resolved URLs; group and unified SSE routes, plus
// all unmatched paths, forward to the configured upstream. Backend
// failures during an SSE stream surface as one terminal in-band error
// event so long-lived clients never see a silent truncation.
package router
