// ABOUTME: Key-wise merge of a partial settings document into the canonical one
// ABOUTME: Servers, groups, and users upsert by unique key; nothing is wholesale-replaced

package settings

// Partial is an incoming write request. Nil or empty sections leave the
// corresponding canonical section untouched, so a writer changing one
// server cannot clobber a concurrent writer changing a different one.
type Partial struct {
	Servers        map[string]ServerConfig             `json:"mcpServers,omitempty"`
	RemoveServers  []string                            `json:"removeServers,omitempty"`
	Groups         []Group                             `json:"groups,omitempty"`
	RemoveGroups   []string                            `json:"removeGroups,omitempty"`
	Users          []User                              `json:"users,omitempty"`
	SavedVariables map[string]map[string]SavedVariable `json:"savedVariables,omitempty"`
	RemoveVars     map[string][]string                 `json:"removeVariables,omitempty"`
	System         *SystemConfig                       `json:"systemConfig,omitempty"`
}

// Empty reports whether the partial carries no changes at all.
func (p *Partial) Empty() bool {
	return len(p.Servers) == 0 && len(p.RemoveServers) == 0 &&
		len(p.Groups) == 0 && len(p.RemoveGroups) == 0 &&
		len(p.Users) == 0 && len(p.SavedVariables) == 0 &&
		len(p.RemoveVars) == 0 && p.System == nil
}

// Merge applies partial on top of a deep copy of base and returns the
// result. Entries merge by unique key: server name, group id, username,
// and (username, key) for saved variables. Two writers touching the same
// key resolve last-write-wins at the persistence boundary; Merge itself
// never mutates base.
func Merge(base *Document, partial *Partial) *Document {
	out := base.Clone()

	for name, srv := range partial.Servers {
		srv.Name = name
		out.Servers[name] = cloneServer(srv)
	}
	for _, name := range partial.RemoveServers {
		delete(out.Servers, name)
	}

	for _, g := range partial.Groups {
		replaced := false
		for i := range out.Groups {
			if out.Groups[i].ID == g.ID {
				out.Groups[i] = g
				replaced = true
				break
			}
		}
		if !replaced {
			out.Groups = append(out.Groups, g)
		}
	}
	for _, id := range partial.RemoveGroups {
		for i := range out.Groups {
			if out.Groups[i].ID == id {
				out.Groups = append(out.Groups[:i], out.Groups[i+1:]...)
				break
			}
		}
	}

	for _, u := range partial.Users {
		replaced := false
		for i := range out.Users {
			if out.Users[i].Username == u.Username {
				// A blank incoming hash keeps the stored one, so callers
				// can flip is_admin without re-supplying the password.
				if u.PasswordHash == "" {
					u.PasswordHash = out.Users[i].PasswordHash
				}
				out.Users[i] = u
				replaced = true
				break
			}
		}
		if !replaced {
			out.Users = append(out.Users, u)
		}
	}

	for user, kv := range partial.SavedVariables {
		existing := out.SavedVariables[user]
		if existing == nil {
			existing = make(map[string]SavedVariable, len(kv))
			out.SavedVariables[user] = existing
		}
		for k, v := range kv {
			v.Key = k
			existing[k] = v
		}
	}
	for user, keys := range partial.RemoveVars {
		for _, k := range keys {
			delete(out.SavedVariables[user], k)
		}
	}

	if partial.System != nil {
		out.System = *partial.System
		out.System.Routing.AllowedOrigins = append([]string(nil), partial.System.Routing.AllowedOrigins...)
	}

	return out
}
