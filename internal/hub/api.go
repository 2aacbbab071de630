// ABOUTME: HTTP API handlers for login, settings, API keys, variables, and config export
// ABOUTME: Non-admin callers only ever see and touch their own slice of the document

package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mcpgate/mcpgate/internal/auth"
	"github.com/mcpgate/mcpgate/internal/clientconfig"
	"github.com/mcpgate/mcpgate/internal/settings"
	"github.com/mcpgate/mcpgate/internal/store"
)

// LoginRequest is the JSON request body for POST /api/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the JSON response for a successful login.
type LoginResponse struct {
	Token string `json:"token"`
	User  struct {
		Username string `json:"username"`
		IsAdmin  bool   `json:"isAdmin"`
	} `json:"user"`
}

// CreateKeyRequest is the JSON request body for POST /api/keys.
type CreateKeyRequest struct {
	Name        string               `json:"name"`
	Permissions store.KeyPermissions `json:"permissions"`
}

// CreateKeyResponse carries the raw key exactly once.
type CreateKeyResponse struct {
	Key     string `json:"key"`
	KeyHash string `json:"keyHash"`
	Name    string `json:"name"`
}

// KeyResponse is one entry in GET /api/keys. The raw key is never listed.
type KeyResponse struct {
	KeyHash     string               `json:"keyHash"`
	Name        string               `json:"name"`
	Owner       string               `json:"owner"`
	Permissions store.KeyPermissions `json:"permissions"`
	Active      bool                 `json:"active"`
	CreatedAt   string               `json:"createdAt"`
}

// VariableRequest is the JSON request body for PUT /api/variables/{key}.
type VariableRequest struct {
	Value     string `json:"value"`
	Encrypted bool   `json:"encrypted"`
}

// handleLogin handles POST /api/login.
func (h *Hub) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	if h.authSvc.Tokens() == nil {
		h.sendError(w, http.StatusServiceUnavailable, "auth_disabled", "password login requires a configured jwt secret")
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	user, err := h.authSvc.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrBadCredentials) {
		h.sendError(w, http.StatusUnauthorized, "bad_credentials", "invalid username or password")
		return
	}
	if err != nil {
		h.logger.Error("login failed", "error", err)
		h.sendError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	token, err := h.authSvc.Tokens().Generate(user.Username, auth.DefaultSessionTTL)
	if err != nil {
		h.logger.Error("token generation failed", "error", err)
		h.sendError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	var resp LoginResponse
	resp.Token = token
	resp.User.Username = user.Username
	resp.User.IsAdmin = user.IsAdmin
	h.sendJSON(w, http.StatusOK, resp)
}

// handleSettings handles GET and PATCH /api/settings.
func (h *Hub) handleSettings(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		doc, err := h.authSvc.SettingsFor(r.Context(), caller)
		if err != nil {
			h.logger.Error("loading settings failed", "error", err)
			h.sendError(w, http.StatusInternalServerError, "internal", "internal server error")
			return
		}
		h.sendJSON(w, http.StatusOK, doc)

	case http.MethodPatch, http.MethodPost:
		var partial settings.Partial
		if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
			h.sendError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
			return
		}

		if !caller.IsAdmin {
			if msg := checkPartialOwnership(&partial, caller.Username); msg != "" {
				h.sendError(w, http.StatusForbidden, "forbidden", msg)
				return
			}
			if len(partial.RemoveServers) > 0 || len(partial.Servers) > 0 {
				current, err := h.settings.Load(r.Context())
				if err != nil {
					h.sendError(w, http.StatusInternalServerError, "internal", "internal server error")
					return
				}
				for _, name := range partial.RemoveServers {
					if srv, ok := current.Servers[name]; ok && srv.Owner != caller.Username {
						h.sendError(w, http.StatusForbidden, "forbidden", "cannot remove server "+name+" owned by another user")
						return
					}
				}
				for name := range partial.Servers {
					if srv, ok := current.Servers[name]; ok && srv.Owner != caller.Username {
						h.sendError(w, http.StatusForbidden, "forbidden", "cannot overwrite server "+name+" owned by another user")
						return
					}
				}
			}
			// Non-admin saves may only touch servers they own, so stamp
			// the owner rather than trusting the body.
			for name, srv := range partial.Servers {
				srv.Owner = caller.Username
				partial.Servers[name] = srv
			}
		}

		if err := h.savePartial(w, r, &partial); err != nil {
			return
		}
		h.sendJSON(w, http.StatusOK, map[string]bool{"success": true})

	default:
		h.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET or PATCH")
	}
}

// checkPartialOwnership rejects non-admin writes that reach outside the
// caller's own servers and variables. Returns a reason, or "" when allowed.
func checkPartialOwnership(partial *settings.Partial, username string) string {
	if len(partial.Users) > 0 || partial.System != nil || len(partial.Groups) > 0 || len(partial.RemoveGroups) > 0 {
		return "only admins may modify users, groups, or system config"
	}
	for name, srv := range partial.Servers {
		if srv.Owner != "" && srv.Owner != username {
			return "cannot create server " + name + " owned by another user"
		}
	}
	for user := range partial.SavedVariables {
		if user != username {
			return "cannot modify another user's variables"
		}
	}
	for user := range partial.RemoveVars {
		if user != username {
			return "cannot modify another user's variables"
		}
	}
	return ""
}

// savePartial runs a merge-save and translates validation failures into a
// field-level 400. Other handlers reuse it for variable writes.
func (h *Hub) savePartial(w http.ResponseWriter, r *http.Request, partial *settings.Partial) error {
	err := h.settings.Save(r.Context(), partial)
	if err == nil {
		return nil
	}

	var verrs settings.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]map[string]string, len(verrs))
		for i, ve := range verrs {
			details[i] = map[string]string{"field": ve.Field, "message": ve.Message}
		}
		h.sendJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{
				"code":    "validation_failed",
				"message": "settings document is invalid",
				"details": details,
			},
		})
		return err
	}

	h.logger.Error("saving settings failed", "error", err)
	h.sendError(w, http.StatusBadGateway, "backend_unavailable", "could not persist settings")
	return err
}

// handleKeys handles GET (list) and POST (create) /api/keys.
func (h *Hub) handleKeys(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		keys, err := h.authSvc.ListAPIKeys(r.Context(), caller)
		if err != nil {
			h.logger.Error("listing api keys failed", "error", err)
			h.sendError(w, http.StatusInternalServerError, "internal", "internal server error")
			return
		}
		resp := make([]KeyResponse, len(keys))
		for i, k := range keys {
			resp[i] = KeyResponse{
				KeyHash:     k.KeyHash,
				Name:        k.Name,
				Owner:       k.Owner,
				Permissions: k.Permissions,
				Active:      k.Active,
				CreatedAt:   k.CreatedAt.Format(time.RFC3339),
			}
		}
		h.sendJSON(w, http.StatusOK, map[string]any{"keys": resp})

	case http.MethodPost:
		var req CreateKeyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.sendError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
			return
		}
		if req.Name == "" {
			h.sendError(w, http.StatusBadRequest, "bad_request", "name is required")
			return
		}
		if req.Permissions.Admin && !caller.IsAdmin {
			h.sendError(w, http.StatusForbidden, "forbidden", "only admins may create admin keys")
			return
		}

		raw, err := h.authSvc.CreateAPIKey(r.Context(), req.Name, caller.Username, req.Permissions)
		if err != nil {
			h.logger.Error("creating api key failed", "error", err)
			h.sendError(w, http.StatusInternalServerError, "internal", "internal server error")
			return
		}
		h.sendJSON(w, http.StatusCreated, CreateKeyResponse{
			Key:     raw,
			KeyHash: auth.HashKey(raw),
			Name:    req.Name,
		})

	default:
		h.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET or POST")
	}
}

// handleKeyByHash handles DELETE /api/keys/{hash}.
func (h *Hub) handleKeyByHash(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	if r.Method != http.MethodDelete {
		h.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use DELETE")
		return
	}
	hash := strings.TrimPrefix(r.URL.Path, "/api/keys/")
	if hash == "" || strings.Contains(hash, "/") {
		h.sendError(w, http.StatusNotFound, "not_found", "key not found")
		return
	}

	if !caller.IsAdmin {
		key, err := h.backend.GetAPIKeyByHash(r.Context(), hash)
		if errors.Is(err, store.ErrNotFound) || (err == nil && key.Owner != caller.Username) {
			h.sendError(w, http.StatusNotFound, "not_found", "key not found")
			return
		}
		if err != nil {
			h.logger.Error("looking up api key failed", "error", err)
			h.sendError(w, http.StatusInternalServerError, "internal", "internal server error")
			return
		}
	}

	revoked, err := h.authSvc.RevokeAPIKey(r.Context(), hash)
	if err != nil {
		h.logger.Error("revoking api key failed", "error", err)
		h.sendError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]bool{"revoked": revoked})
}

// handleVariables handles GET /api/variables: the caller's saved
// variables with encrypted values masked.
func (h *Hub) handleVariables(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	if r.Method != http.MethodGet {
		h.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	doc, err := h.authSvc.SettingsFor(r.Context(), caller)
	if err != nil {
		h.logger.Error("loading settings failed", "error", err)
		h.sendError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	vars := doc.SavedVariables[caller.Username]
	if vars == nil {
		vars = map[string]settings.SavedVariable{}
	}
	h.sendJSON(w, http.StatusOK, map[string]any{"variables": vars})
}

// handleVariableByKey handles PUT and DELETE /api/variables/{key}.
func (h *Hub) handleVariableByKey(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	key := strings.TrimPrefix(r.URL.Path, "/api/variables/")
	if key == "" || strings.Contains(key, "/") {
		h.sendError(w, http.StatusNotFound, "not_found", "variable not found")
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req VariableRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.sendError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
			return
		}
		partial := settings.Partial{
			SavedVariables: map[string]map[string]settings.SavedVariable{
				caller.Username: {key: {Key: key, Value: req.Value, Encrypted: req.Encrypted}},
			},
		}
		if err := h.savePartial(w, r, &partial); err != nil {
			return
		}
		h.sendJSON(w, http.StatusOK, map[string]bool{"success": true})

	case http.MethodDelete:
		partial := settings.Partial{
			RemoveVars: map[string][]string{caller.Username: {key}},
		}
		if err := h.savePartial(w, r, &partial); err != nil {
			return
		}
		h.sendJSON(w, http.StatusOK, map[string]bool{"success": true})

	default:
		h.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use PUT or DELETE")
	}
}

// handleClientConfig handles GET /api/config?format=json|toml|env with
// optional group= or unified=true mode selectors.
func (h *Hub) handleClientConfig(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	if r.Method != http.MethodGet {
		h.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	format, err := clientconfig.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	doc, err := h.authSvc.SettingsFor(r.Context(), caller)
	if err != nil {
		h.logger.Error("loading settings failed", "error", err)
		h.sendError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	opts := endpointOptions(h.config)
	opts.Group = r.URL.Query().Get("group")
	opts.Unified = r.URL.Query().Get("unified") == "true"
	opts.APIKey = r.URL.Query().Get("key")

	set := clientconfig.Generate(doc, opts)

	if r.URL.Query().Get("validate") == "true" {
		h.sendJSON(w, http.StatusOK, clientconfig.Validate(set))
		return
	}

	data, err := clientconfig.Export(set, format)
	if err != nil {
		h.logger.Error("exporting client config failed", "error", err)
		h.sendError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// sendJSON writes a JSON response with the given status code.
func (h *Hub) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encoding response failed", "error", err)
	}
}

// sendError writes a structured error payload with a stable reason code.
func (h *Hub) sendError(w http.ResponseWriter, status int, code, message string) {
	h.sendJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
