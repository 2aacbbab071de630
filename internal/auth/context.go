// ABOUTME: Caller context for tracking identity through request handlers
// ABOUTME: Provides WithCaller/FromContext for propagating auth info via context

package auth

import (
	"context"

	"github.com/mcpgate/mcpgate/internal/store"
)

// Caller holds the authenticated identity extracted from a request.
// Populated by the auth middleware and retrieved from context in handlers.
type Caller struct {
	Username    string
	IsAdmin     bool
	Permissions *store.KeyPermissions // nil for session (password/JWT) callers
}

// CanReachServer reports whether the caller's API key permissions cover
// the named server. Session callers are governed by document filtering
// alone, so they always pass this check.
func (c *Caller) CanReachServer(name string) bool {
	if c.Permissions == nil || c.Permissions.Admin {
		return true
	}
	return matchAny(c.Permissions.Servers, name)
}

// CanReachGroup reports whether the caller's API key permissions cover
// the named group.
func (c *Caller) CanReachGroup(name string) bool {
	if c.Permissions == nil || c.Permissions.Admin {
		return true
	}
	return matchAny(c.Permissions.Groups, name)
}

// callerKey is the key type for storing a Caller in context.Context.
type callerKey struct{}

// WithCaller returns a new context with the Caller attached.
func WithCaller(ctx context.Context, caller *Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// FromContext retrieves the Caller from the context, returning nil if not present.
func FromContext(ctx context.Context) *Caller {
	val := ctx.Value(callerKey{})
	if val == nil {
		return nil
	}
	caller, ok := val.(*Caller)
	if !ok {
		return nil
	}
	return caller
}

// MustFromContext retrieves the Caller from the context, panicking if not present.
func MustFromContext(ctx context.Context) *Caller {
	caller := FromContext(ctx)
	if caller == nil {
		panic("auth: Caller not found in context")
	}
	return caller
}
