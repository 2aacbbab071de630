// ABOUTME: Package documentation for the clientconfig package
// ABOUTME: Describes descriptor generation, validation, and export formats

// Package clientconfig derives client-facing endpoint descriptors from
// the settings document.
//
// Generation runs in one of three modes: a descriptor per enabled
// server, a single descriptor for one group, or a single unified hub
// descriptor. Sets validate into errors and warnings, and export
// deterministically to JSON, TOML, or flattened environment variables;
// all three exports parse back into the set they came from.
package clientconfig
