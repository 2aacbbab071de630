// ABOUTME: Package vars expands ${NAME}/$NAME tokens in server configuration
// ABOUTME: Pure string transformation with saved-variable over environment precedence

// Package vars implements variable substitution for templated fields in
// server configuration (command, args, env, url). Resolution is pure and
// idempotent: saved variables win over the process environment, and
// unresolved tokens collapse to the empty string.
package vars
