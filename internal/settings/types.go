// ABOUTME: Canonical settings document types for servers, groups, users, and variables
// ABOUTME: Defines the root aggregate owned by the settings store plus validation

package settings

import (
	"fmt"
	"strings"

	"github.com/mcpgate/mcpgate/internal/vars"
)

// OwnerPublic is the sentinel owner for servers visible to every user.
const OwnerPublic = "public"

// Transport identifies how the hub reaches a backend server.
type Transport string

// Supported transports.
const (
	TransportStdio Transport = "stdio"
	TransportSSE   Transport = "sse"
	TransportHTTP  Transport = "http"
)

// ServerConfig describes one backend MCP server. Stdio servers carry
// command/args/env; sse and http servers carry a URL. String fields may
// contain ${VAR} tokens resolved at dispatch time.
type ServerConfig struct {
	Name                string            `json:"name" yaml:"name"`
	Owner               string            `json:"owner" yaml:"owner"`
	Transport           Transport         `json:"transport" yaml:"transport"`
	Command             string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args                []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env                 map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL                 string            `json:"url,omitempty" yaml:"url,omitempty"`
	Enabled             bool              `json:"enabled" yaml:"enabled"`
	KeepAliveIntervalMs int               `json:"keepAliveIntervalMs,omitempty" yaml:"keep_alive_interval_ms,omitempty"`
	ToolsFilter         []string          `json:"toolsFilter,omitempty" yaml:"tools_filter,omitempty"`
}

// VisibleTo reports whether the server appears in username's filtered view.
func (s ServerConfig) VisibleTo(username string) bool {
	return s.Owner == OwnerPublic || s.Owner == username
}

// GroupMember references a server within a group, with an optional
// per-group tools filter overriding the server's own.
type GroupMember struct {
	ServerName  string   `json:"serverName" yaml:"server_name"`
	ToolsFilter []string `json:"toolsFilter,omitempty" yaml:"tools_filter,omitempty"`
}

// Group is a named collection of servers exposed as one routing endpoint.
type Group struct {
	ID      string        `json:"id" yaml:"id"`
	Name    string        `json:"name" yaml:"name"`
	Members []GroupMember `json:"members" yaml:"members"`
}

// User is a hub account. PasswordHash is a bcrypt hash and is stripped
// from every non-admin filtered view.
type User struct {
	Username     string `json:"username" yaml:"username"`
	PasswordHash string `json:"-" yaml:"password_hash"`
	IsAdmin      bool   `json:"isAdmin" yaml:"is_admin"`
}

// SavedVariable is a per-user key/value used to template server config.
// Encrypted values are stored opaque and only surface at resolution time.
type SavedVariable struct {
	Key       string `json:"key" yaml:"key"`
	Value     string `json:"value" yaml:"value"`
	Encrypted bool   `json:"encrypted" yaml:"encrypted"`
}

// RoutingConfig holds the edge routing policy.
type RoutingConfig struct {
	EnableGlobalRoute    bool     `json:"enableGlobalRoute" yaml:"enable_global_route"`
	EnableGroupNameRoute bool     `json:"enableGroupNameRoute" yaml:"enable_group_name_route"`
	BearerAuthKey        string   `json:"bearerAuthKey" yaml:"bearer_auth_key"`
	SkipAuth             bool     `json:"skipAuth" yaml:"skip_auth"`
	AllowedOrigins       []string `json:"allowedOrigins,omitempty" yaml:"allowed_origins,omitempty"`
}

// InstallConfig holds package installation policy for stdio servers.
type InstallConfig struct {
	PythonIndexURL string `json:"pythonIndexUrl,omitempty" yaml:"python_index_url,omitempty"`
	NpmRegistry    string `json:"npmRegistry,omitempty" yaml:"npm_registry,omitempty"`
}

// SystemConfig aggregates hub-wide policy.
type SystemConfig struct {
	Routing RoutingConfig `json:"routing" yaml:"routing"`
	Install InstallConfig `json:"install" yaml:"install"`
}

// Document is the root settings aggregate. The settings store owns the
// canonical copy; everything else sees read-only snapshots or filtered
// projections.
type Document struct {
	Servers        map[string]ServerConfig             `json:"mcpServers" yaml:"mcp_servers"`
	Groups         []Group                             `json:"groups" yaml:"groups"`
	Users          []User                              `json:"users" yaml:"users"`
	SavedVariables map[string]map[string]SavedVariable `json:"savedVariables" yaml:"saved_variables"`
	System         SystemConfig                        `json:"systemConfig" yaml:"system_config"`
}

// NewDocument returns an empty document with initialized containers.
func NewDocument() *Document {
	return &Document{
		Servers:        make(map[string]ServerConfig),
		Groups:         []Group{},
		Users:          []User{},
		SavedVariables: make(map[string]map[string]SavedVariable),
	}
}

// DefaultDocument is the conservative document served when the persistence
// backend is unreachable: no servers, no users, all routing disabled.
func DefaultDocument() *Document {
	return NewDocument()
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	out := &Document{
		Servers:        make(map[string]ServerConfig, len(d.Servers)),
		Groups:         make([]Group, 0, len(d.Groups)),
		Users:          make([]User, 0, len(d.Users)),
		SavedVariables: make(map[string]map[string]SavedVariable, len(d.SavedVariables)),
		System:         d.System,
	}
	out.System.Routing.AllowedOrigins = append([]string(nil), d.System.Routing.AllowedOrigins...)
	for name, srv := range d.Servers {
		out.Servers[name] = cloneServer(srv)
	}
	for _, g := range d.Groups {
		ng := Group{ID: g.ID, Name: g.Name, Members: make([]GroupMember, len(g.Members))}
		for i, m := range g.Members {
			ng.Members[i] = GroupMember{ServerName: m.ServerName, ToolsFilter: append([]string(nil), m.ToolsFilter...)}
		}
		out.Groups = append(out.Groups, ng)
	}
	out.Users = append(out.Users, d.Users...)
	for user, kv := range d.SavedVariables {
		nm := make(map[string]SavedVariable, len(kv))
		for k, v := range kv {
			nm[k] = v
		}
		out.SavedVariables[user] = nm
	}
	return out
}

func cloneServer(s ServerConfig) ServerConfig {
	ns := s
	ns.Args = append([]string(nil), s.Args...)
	ns.ToolsFilter = append([]string(nil), s.ToolsFilter...)
	if s.Env != nil {
		ns.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			ns.Env[k] = v
		}
	}
	return ns
}

// FindGroup looks a group up by ID or name. Returns nil if absent.
func (d *Document) FindGroup(idOrName string) *Group {
	for i := range d.Groups {
		if d.Groups[i].ID == idOrName || d.Groups[i].Name == idOrName {
			return &d.Groups[i]
		}
	}
	return nil
}

// FindUser looks a user up by username. Returns nil if absent.
func (d *Document) FindUser(username string) *User {
	for i := range d.Users {
		if d.Users[i].Username == username {
			return &d.Users[i]
		}
	}
	return nil
}

// UserVariables returns username's saved variables as a plain key/value
// map suitable for vars.Resolve. Encrypted values are included: this is
// the point of resolution.
func (d *Document) UserVariables(username string) map[string]string {
	kv := d.SavedVariables[username]
	if len(kv) == 0 {
		return nil
	}
	out := make(map[string]string, len(kv))
	for k, v := range kv {
		out[k] = v.Value
	}
	return out
}

// ValidationError reports a single field-level problem with a document.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates every problem found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return "invalid settings document: " + strings.Join(msgs, "; ")
}

// Validate checks document invariants. It returns every violation rather
// than stopping at the first so callers can report field-level detail.
// A document that fails validation is rejected before any write.
func (d *Document) Validate() ValidationErrors {
	var errs ValidationErrors

	for name, srv := range d.Servers {
		field := "servers." + name
		if srv.Name != "" && srv.Name != name {
			errs = append(errs, ValidationError{field + ".name", fmt.Sprintf("name %q does not match map key", srv.Name)})
		}
		if srv.Owner == "" {
			errs = append(errs, ValidationError{field + ".owner", "owner is required"})
		}
		switch srv.Transport {
		case TransportStdio:
			if srv.Command == "" {
				errs = append(errs, ValidationError{field + ".command", "command is required for stdio transport"})
			}
		case TransportSSE, TransportHTTP:
			if srv.URL == "" {
				errs = append(errs, ValidationError{field + ".url", "url is required for " + string(srv.Transport) + " transport"})
			}
		default:
			errs = append(errs, ValidationError{field + ".transport", fmt.Sprintf("unknown transport %q", srv.Transport)})
		}
	}

	groupIDs := make(map[string]bool, len(d.Groups))
	groupNames := make(map[string]bool, len(d.Groups))
	for i, g := range d.Groups {
		field := fmt.Sprintf("groups[%d]", i)
		if g.ID == "" {
			errs = append(errs, ValidationError{field + ".id", "id is required"})
		} else if groupIDs[g.ID] {
			errs = append(errs, ValidationError{field + ".id", fmt.Sprintf("duplicate group id %q", g.ID)})
		}
		groupIDs[g.ID] = true
		if g.Name == "" {
			errs = append(errs, ValidationError{field + ".name", "name is required"})
		} else if groupNames[g.Name] {
			errs = append(errs, ValidationError{field + ".name", fmt.Sprintf("duplicate group name %q", g.Name)})
		}
		groupNames[g.Name] = true
		for j, m := range g.Members {
			if _, ok := d.Servers[m.ServerName]; !ok {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.members[%d]", field, j),
					Message: fmt.Sprintf("references unknown server %q", m.ServerName),
				})
			}
		}
	}

	usernames := make(map[string]bool, len(d.Users))
	for i, u := range d.Users {
		field := fmt.Sprintf("users[%d]", i)
		if u.Username == "" {
			errs = append(errs, ValidationError{field + ".username", "username is required"})
		} else if usernames[u.Username] {
			errs = append(errs, ValidationError{field + ".username", fmt.Sprintf("duplicate username %q", u.Username)})
		}
		usernames[u.Username] = true
	}

	for user, kv := range d.SavedVariables {
		for key := range kv {
			if !vars.KeyPattern.MatchString(key) {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("savedVariables.%s.%s", user, key),
					Message: "key must match ^[A-Z_][A-Z0-9_]*$",
				})
			}
		}
	}

	return errs
}
