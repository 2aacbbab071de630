// ABOUTME: Tests for descriptor generation across the three modes
// ABOUTME: Includes base URL port elision and the unified hub scenario

package clientconfig

import (
	"testing"

	"github.com/mcpgate/mcpgate/internal/settings"
)

func generatorDocument() *settings.Document {
	doc := settings.NewDocument()
	doc.Servers["notes"] = settings.ServerConfig{
		Name: "notes", Owner: "alice", Transport: settings.TransportSSE,
		URL: "http://localhost:3001/sse", Enabled: true, KeepAliveIntervalMs: 15000,
	}
	doc.Servers["weather"] = settings.ServerConfig{
		Name: "weather", Owner: settings.OwnerPublic, Transport: settings.TransportHTTP,
		URL: "https://weather.example/mcp", Enabled: true,
	}
	doc.Servers["disabled"] = settings.ServerConfig{
		Name: "disabled", Owner: "alice", Transport: settings.TransportSSE,
		URL: "http://localhost:3009/sse", Enabled: false,
	}
	doc.Groups = []settings.Group{
		{ID: "g1", Name: "tools", Members: []settings.GroupMember{{ServerName: "notes"}, {ServerName: "weather"}}},
	}
	return doc
}

func TestBaseURLPortElision(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"https default port", Options{Protocol: "https", Domain: "hub.example", Port: 443}, "https://hub.example"},
		{"http default port", Options{Protocol: "http", Domain: "hub.example", Port: 80}, "http://hub.example"},
		{"https custom port", Options{Protocol: "https", Domain: "hub.example", Port: 8443}, "https://hub.example:8443"},
		{"zero port", Options{Protocol: "https", Domain: "hub.example"}, "https://hub.example"},
		{"protocol defaults to http", Options{Domain: "localhost", Port: 3000}, "http://localhost:3000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.opts.BaseURL(); got != tt.want {
				t.Errorf("BaseURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerateAllServers(t *testing.T) {
	set := Generate(generatorDocument(), Options{Protocol: "https", Domain: "hub.example"})

	if len(set) != 2 {
		t.Fatalf("expected 2 descriptors (disabled excluded), got %d", len(set))
	}

	notes, ok := set["notes"]
	if !ok {
		t.Fatal("missing notes descriptor")
	}
	if notes.URL != "https://hub.example/sse/notes" {
		t.Errorf("notes URL = %q", notes.URL)
	}
	if notes.KeepAliveIntervalMs != 15000 {
		t.Errorf("notes keep-alive = %d, want server-configured 15000", notes.KeepAliveIntervalMs)
	}
	if notes.Owner != "alice" {
		t.Errorf("notes owner = %q", notes.Owner)
	}

	weather := set["weather"]
	if weather.KeepAliveIntervalMs != DefaultKeepAliveMs {
		t.Errorf("weather keep-alive = %d, want default %d", weather.KeepAliveIntervalMs, DefaultKeepAliveMs)
	}
}

func TestGenerateGroup(t *testing.T) {
	set := Generate(generatorDocument(), Options{Protocol: "https", Domain: "hub.example", Group: "tools"})

	if len(set) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(set))
	}
	d := set["tools"]
	if d.URL != "https://hub.example/sse/tools" {
		t.Errorf("group URL = %q", d.URL)
	}
}

func TestGenerateGroupByID(t *testing.T) {
	set := Generate(generatorDocument(), Options{Domain: "localhost", Group: "g1"})

	// Lookup by ID still names the descriptor after the group.
	if _, ok := set["tools"]; !ok {
		t.Fatalf("expected descriptor named tools, got %v", set)
	}
}

func TestGenerateUnknownGroupYieldsEmptySet(t *testing.T) {
	set := Generate(generatorDocument(), Options{Domain: "localhost", Group: "no-such-group"})

	if len(set) != 0 {
		t.Errorf("expected empty set for unknown group, got %v", set)
	}
}

func TestGenerateUnifiedScenario(t *testing.T) {
	set := Generate(generatorDocument(), Options{Protocol: "https", Domain: "hub.example", Port: 443, Unified: true})

	if len(set) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(set))
	}
	d := set["mcpgate"]
	if d.Type != "sse" {
		t.Errorf("type = %q, want sse", d.Type)
	}
	if d.URL != "https://hub.example/sse" {
		t.Errorf("url = %q, want https://hub.example/sse", d.URL)
	}
	if d.KeepAliveIntervalMs != 60000 {
		t.Errorf("keepAliveIntervalMs = %d, want 60000", d.KeepAliveIntervalMs)
	}
	if d.Owner != "admin" {
		t.Errorf("owner = %q, want admin", d.Owner)
	}

	res := Validate(set)
	if !res.Valid || len(res.Errors) != 0 {
		t.Errorf("expected zero errors, got %v", res.Errors)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("expected exactly one warning (missing auth), got %v", res.Warnings)
	}
}

func TestGenerateUnifiedCustomEndpoint(t *testing.T) {
	set := Generate(generatorDocument(), Options{Domain: "localhost", Port: 3000, Unified: true, CustomEndpoint: "/mcp/stream"})

	if got := set["mcpgate"].URL; got != "http://localhost:3000/mcp/stream" {
		t.Errorf("url = %q", got)
	}
}

func TestGenerateStampsAuthAndHeaders(t *testing.T) {
	set := Generate(generatorDocument(), Options{
		Domain:  "localhost",
		Unified: true,
		APIKey:  "mcp_testkey",
		Headers: map[string]string{"X-Team": "platform"},
	})

	d := set["mcpgate"]
	if d.Auth != "mcp_testkey" {
		t.Errorf("auth = %q", d.Auth)
	}
	if d.Headers["X-Team"] != "platform" {
		t.Errorf("headers = %v", d.Headers)
	}
}
