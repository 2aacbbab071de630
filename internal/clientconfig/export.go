// ABOUTME: Lossless serialization of descriptor sets to JSON, TOML, and env lines
// ABOUTME: Every format parses back into the descriptor set it was exported from

package clientconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Format selects an export serialization.
type Format string

// Supported export formats.
const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
	FormatEnv  Format = "env"
)

// ParseFormat normalizes a format string from a query parameter or flag.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatJSON, "":
		return FormatJSON, nil
	case FormatTOML:
		return FormatTOML, nil
	case FormatEnv:
		return FormatEnv, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// ContentType returns the MIME type for serving the format over HTTP.
func (f Format) ContentType() string {
	switch f {
	case FormatTOML:
		return "application/toml"
	case FormatEnv:
		return "text/plain; charset=utf-8"
	default:
		return "application/json"
	}
}

// fileDocument is the on-disk shape shared by JSON and TOML exports,
// matching the mcpServers layout MCP clients expect.
type fileDocument struct {
	MCPServers Set `json:"mcpServers" toml:"mcpServers"`
}

// Export serializes the set deterministically in the given format.
func Export(set Set, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(fileDocument{MCPServers: set}, "", "  ")
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(fileDocument{MCPServers: set}); err != nil {
			return nil, fmt.Errorf("encoding toml: %w", err)
		}
		return buf.Bytes(), nil
	case FormatEnv:
		return exportEnv(set)
	}
	return nil, fmt.Errorf("unknown export format %q", format)
}

// Parse deserializes data exported by Export back into a descriptor set.
func Parse(data []byte, format Format) (Set, error) {
	switch format {
	case FormatJSON:
		var doc fileDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing json: %w", err)
		}
		return doc.MCPServers, nil
	case FormatTOML:
		var doc fileDocument
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing toml: %w", err)
		}
		return doc.MCPServers, nil
	case FormatEnv:
		return parseEnv(data)
	}
	return nil, fmt.Errorf("unknown export format %q", format)
}

// envFields in descending suffix length so parsing can match the field
// part of MCP_{NAME}_{FIELD} unambiguously against folded names.
var envFields = []string{"KEEP_ALIVE_INTERVAL_MS", "HEADERS", "OWNER", "NAME", "TYPE", "AUTH", "URL"}

// envFold maps a logical name onto the environment naming scheme:
// non-alphanumeric runs become underscores and letters are uppercased.
// The fold is lossy, so the exact name rides along in the NAME field.
func envFold(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func exportEnv(set Set) ([]byte, error) {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)

	// Distinct names that fold to the same token would merge into one
	// record on parse, losing a descriptor. Refuse to export that.
	folded := make(map[string]string, len(names))
	for _, name := range names {
		token := envFold(name)
		if prev, ok := folded[token]; ok {
			return nil, fmt.Errorf("names %q and %q both fold to %s in env export", prev, name, token)
		}
		folded[token] = name
	}

	var buf bytes.Buffer
	for _, name := range names {
		d := set[name]
		prefix := "MCP_" + envFold(name) + "_"
		fmt.Fprintf(&buf, "%sNAME=%s\n", prefix, name)
		if d.Type != "" {
			fmt.Fprintf(&buf, "%sTYPE=%s\n", prefix, d.Type)
		}
		fmt.Fprintf(&buf, "%sURL=%s\n", prefix, d.URL)
		if d.KeepAliveIntervalMs != 0 {
			fmt.Fprintf(&buf, "%sKEEP_ALIVE_INTERVAL_MS=%d\n", prefix, d.KeepAliveIntervalMs)
		}
		if d.Owner != "" {
			fmt.Fprintf(&buf, "%sOWNER=%s\n", prefix, d.Owner)
		}
		if d.Auth != "" {
			fmt.Fprintf(&buf, "%sAUTH=%s\n", prefix, d.Auth)
		}
		if len(d.Headers) > 0 {
			headers, err := json.Marshal(d.Headers)
			if err != nil {
				return nil, fmt.Errorf("encoding headers for %s: %w", name, err)
			}
			fmt.Fprintf(&buf, "%sHEADERS=%s\n", prefix, headers)
		}
	}
	return buf.Bytes(), nil
}

func parseEnv(data []byte) (Set, error) {
	type record struct {
		name string
		desc Descriptor
	}
	records := make(map[string]*record)

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || !strings.HasPrefix(key, "MCP_") {
			return nil, fmt.Errorf("malformed env line %q", line)
		}
		rest := strings.TrimPrefix(key, "MCP_")

		var field, token string
		for _, f := range envFields {
			if strings.HasSuffix(rest, "_"+f) {
				field = f
				token = strings.TrimSuffix(rest, "_"+f)
				break
			}
		}
		if field == "" || token == "" {
			return nil, fmt.Errorf("unrecognized env key %q", key)
		}

		rec := records[token]
		if rec == nil {
			rec = &record{}
			records[token] = rec
		}
		switch field {
		case "NAME":
			if rec.name != "" && rec.name != value {
				return nil, fmt.Errorf("conflicting NAME values %q and %q under %s", rec.name, value, token)
			}
			rec.name = value
		case "TYPE":
			rec.desc.Type = value
		case "URL":
			rec.desc.URL = value
		case "KEEP_ALIVE_INTERVAL_MS":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid keep-alive in %q: %w", line, err)
			}
			rec.desc.KeepAliveIntervalMs = n
		case "OWNER":
			rec.desc.Owner = value
		case "AUTH":
			rec.desc.Auth = value
		case "HEADERS":
			if err := json.Unmarshal([]byte(value), &rec.desc.Headers); err != nil {
				return nil, fmt.Errorf("invalid headers in %q: %w", line, err)
			}
		}
	}

	out := make(Set, len(records))
	for token, rec := range records {
		name := rec.name
		if name == "" {
			return nil, fmt.Errorf("env export missing NAME field for %s", token)
		}
		out[name] = rec.desc
	}
	return out, nil
}
