// ABOUTME: Per-caller filtering of the settings document
// ABOUTME: Non-admin callers see only owned/public servers and no user records

package auth

import (
	"github.com/mcpgate/mcpgate/internal/settings"
)

// EncryptedPlaceholder replaces encrypted variable values in filtered
// views. The real value only surfaces at resolution time.
const EncryptedPlaceholder = "********"

// Filter derives the settings view for a caller. Admin callers receive a
// copy of the full document. Non-admin callers receive a projection:
// servers reduced to owned/public entries, users emptied, the routing
// bearer key blanked, saved variables reduced to the caller's own with
// encrypted values masked. Key-authenticated callers are reduced further
// to the servers and groups their key's permission patterns cover. The
// input document is never mutated.
func Filter(doc *settings.Document, caller *Caller) *settings.Document {
	out := doc.Clone()
	if caller != nil && caller.IsAdmin {
		return out
	}

	username := ""
	if caller != nil {
		username = caller.Username
	}

	for name, srv := range out.Servers {
		if !srv.VisibleTo(username) {
			delete(out.Servers, name)
		}
	}

	// Groups survive only if they still reference at least one visible
	// server; members pointing at hidden servers are stripped.
	groups := out.Groups[:0]
	for _, g := range out.Groups {
		members := g.Members[:0]
		for _, m := range g.Members {
			if _, ok := out.Servers[m.ServerName]; ok {
				members = append(members, m)
			}
		}
		g.Members = members
		if len(g.Members) > 0 {
			groups = append(groups, g)
		}
	}
	out.Groups = groups

	// A key grants access to a server either directly through its server
	// patterns or by covering a group that contains it. Everything else
	// drops out of the view, so config generation and settings reads over
	// a scoped key never surface what the key cannot reach.
	if caller != nil && caller.Permissions != nil && !caller.Permissions.Admin {
		viaGroup := make(map[string]bool)
		for _, g := range out.Groups {
			if caller.CanReachGroup(g.Name) {
				for _, m := range g.Members {
					viaGroup[m.ServerName] = true
				}
			}
		}
		for name := range out.Servers {
			if !caller.CanReachServer(name) && !viaGroup[name] {
				delete(out.Servers, name)
			}
		}
		scoped := out.Groups[:0]
		for _, g := range out.Groups {
			if !caller.CanReachGroup(g.Name) {
				continue
			}
			members := g.Members[:0]
			for _, m := range g.Members {
				if _, ok := out.Servers[m.ServerName]; ok {
					members = append(members, m)
				}
			}
			g.Members = members
			if len(g.Members) > 0 {
				scoped = append(scoped, g)
			}
		}
		out.Groups = scoped
	}

	out.Users = []settings.User{}
	out.System.Routing.BearerAuthKey = ""

	own := out.SavedVariables[username]
	out.SavedVariables = make(map[string]map[string]settings.SavedVariable, 1)
	if own != nil {
		masked := make(map[string]settings.SavedVariable, len(own))
		for k, v := range own {
			if v.Encrypted {
				v.Value = EncryptedPlaceholder
			}
			masked[k] = v
		}
		out.SavedVariables[username] = masked
	}

	return out
}
