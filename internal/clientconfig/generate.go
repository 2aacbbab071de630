// ABOUTME: Client endpoint descriptor generation from the settings document
// ABOUTME: Supports all-servers, single-group, and unified hub modes

package clientconfig

import (
	"fmt"

	"github.com/mcpgate/mcpgate/internal/settings"
)

// DefaultKeepAliveMs is applied when a server does not set its own
// keep-alive interval.
const DefaultKeepAliveMs = 60000

// DefaultEndpoint is the unified hub SSE path.
const DefaultEndpoint = "/sse"

// Descriptor is one client-facing endpoint entry.
type Descriptor struct {
	Type                string            `json:"type,omitempty" toml:"type,omitempty"`
	URL                 string            `json:"url" toml:"url"`
	KeepAliveIntervalMs int               `json:"keepAliveIntervalMs,omitempty" toml:"keep_alive_interval_ms,omitempty"`
	Owner               string            `json:"owner,omitempty" toml:"owner,omitempty"`
	Auth                string            `json:"auth,omitempty" toml:"auth,omitempty"`
	Headers             map[string]string `json:"headers,omitempty" toml:"headers,omitempty"`
}

// Set maps logical client names to descriptors.
type Set map[string]Descriptor

// Options selects the generation mode and the endpoint shape. Exactly one
// mode applies: Group when set, Unified when true, otherwise one
// descriptor per enabled server.
type Options struct {
	Protocol string // "http" or "https"; defaults to http
	Domain   string
	Port     int // 0 means protocol default

	Group          string // group mode: emit one descriptor for this group
	Unified        bool   // unified mode: emit one descriptor for the whole hub
	CustomEndpoint string // unified mode path override, defaults to /sse

	APIKey  string            // bearer credential stamped into descriptors
	Headers map[string]string // extra headers stamped into descriptors
}

// BaseURL computes {protocol}://{domain}[:{port}], omitting the port when
// it is the default for the protocol.
func (o Options) BaseURL() string {
	protocol := o.Protocol
	if protocol == "" {
		protocol = "http"
	}
	defaultPort := 80
	if protocol == "https" {
		defaultPort = 443
	}
	if o.Port == 0 || o.Port == defaultPort {
		return fmt.Sprintf("%s://%s", protocol, o.Domain)
	}
	return fmt.Sprintf("%s://%s:%d", protocol, o.Domain, o.Port)
}

// Generate derives the client configuration set from a settings document.
// Unknown groups produce an empty set rather than an error so generation
// stays idempotent against stale input.
func Generate(doc *settings.Document, opts Options) Set {
	base := opts.BaseURL()
	out := make(Set)

	switch {
	case opts.Group != "":
		group := doc.FindGroup(opts.Group)
		if group == nil {
			return out
		}
		out[group.Name] = Descriptor{
			Type:                "sse",
			URL:                 base + "/sse/" + group.Name,
			KeepAliveIntervalMs: DefaultKeepAliveMs,
			Owner:               "admin",
			Auth:                opts.APIKey,
			Headers:             cloneHeaders(opts.Headers),
		}

	case opts.Unified:
		endpoint := opts.CustomEndpoint
		if endpoint == "" {
			endpoint = DefaultEndpoint
		}
		out["mcpgate"] = Descriptor{
			Type:                "sse",
			URL:                 base + endpoint,
			KeepAliveIntervalMs: DefaultKeepAliveMs,
			Owner:               "admin",
			Auth:                opts.APIKey,
			Headers:             cloneHeaders(opts.Headers),
		}

	default:
		for name, srv := range doc.Servers {
			if !srv.Enabled {
				continue
			}
			keepAlive := srv.KeepAliveIntervalMs
			if keepAlive <= 0 {
				keepAlive = DefaultKeepAliveMs
			}
			out[name] = Descriptor{
				Type:                "sse",
				URL:                 base + "/sse/" + name,
				KeepAliveIntervalMs: keepAlive,
				Owner:               srv.Owner,
				Auth:                opts.APIKey,
				Headers:             cloneHeaders(opts.Headers),
			}
		}
	}

	return out
}

func cloneHeaders(h map[string]string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
