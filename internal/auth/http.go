// ABOUTME: HTTP middleware for authenticating API requests
// ABOUTME: Accepts API keys or session tokens from the Authorization header

package auth

import (
	"context"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer credential from the Authorization header.
// Returns the credential and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Middleware authenticates requests and attaches a Caller to the context.
// API keys (mcp_ prefix) are validated by digest lookup; anything else is
// treated as a session token. Unauthenticated requests get a 401 before
// the handler runs.
func Middleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", errMsg)
				return
			}

			var caller *Caller
			var err error
			if IsRawKey(credential) {
				caller, err = svc.ValidateAPIKey(r.Context(), credential)
			} else {
				caller, err = svc.callerFromToken(r.Context(), credential)
			}
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// RequireAdmin rejects non-admin callers. Must run after Middleware.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := FromContext(r.Context())
			if caller == nil {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
				return
			}
			if !caller.IsAdmin {
				writeAuthError(w, http.StatusForbidden, "forbidden", "admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// callerFromToken verifies a session token and resolves its user against
// the canonical document.
func (s *Service) callerFromToken(ctx context.Context, credential string) (*Caller, error) {
	if s.tokens == nil {
		return nil, ErrInvalidToken
	}
	username, err := s.tokens.Verify(credential)
	if err != nil {
		return nil, err
	}
	return s.CallerFromSession(ctx, username)
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":{"code":"` + code + `","message":"` + message + `"}}`))
}
