// Package config handles configuration loading for mcpgate.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from MCPGATE_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/mcpgate/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${MCPGATE_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	settings:
//	  cache_ttl: "30s"
//	upstream:
//	  health_timeout: "5s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # Edge router and API
//
// External endpoint (used for generated client configs):
//
//	endpoint:
//	  protocol: "https"
//	  domain: "hub.example"
//	  port: 443
//	  custom_sse_path: "/sse"
//
// Upstream application:
//
//	upstream:
//	  url: "http://localhost:3000"
//	  health_timeout: "5s"
//
// Database:
//
//	database:
//	  path: "/var/lib/mcpgate/hub.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${MCPGATE_JWT_SECRET}"   # Required for password logins
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "mcpgate"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/mcpgate/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
