// ABOUTME: Store interfaces and data types for hub persistence
// ABOUTME: Defines APIKey types and the Backend interface over the settings document

package store

import (
	"context"
	"errors"
	"time"

	"github.com/mcpgate/mcpgate/internal/settings"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateKey is returned when creating an API key whose hash already exists.
var ErrDuplicateKey = errors.New("api key already exists")

// KeyPermissions scopes what an API key may reach. Patterns follow
// path.Match syntax; an empty list means no access of that kind.
type KeyPermissions struct {
	Servers []string `json:"servers,omitempty"`
	Groups  []string `json:"groups,omitempty"`
	Admin   bool     `json:"admin,omitempty"`
}

// APIKey is the persisted form of an issued key. Only the SHA-256 digest
// of the raw key is stored; the raw value is shown once at creation.
type APIKey struct {
	KeyHash     string
	Name        string
	Owner       string
	Permissions KeyPermissions
	Active      bool
	CreatedAt   time.Time
	RevokedAt   *time.Time
}

// KeyStore defines API key persistence. A revoked key stays in the table
// with Active=false forever; there is no reactivation path.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error)
	RevokeAPIKey(ctx context.Context, hash string) (bool, error)
	ListAPIKeys(ctx context.Context, owner string) ([]*APIKey, error)
}

// Backend is the full persistence surface consumed by the hub.
type Backend interface {
	settings.Backend
	KeyStore
	Close() error
}
