// ABOUTME: Access control service: user authentication, API keys, filtered settings
// ABOUTME: Every read path for non-admin callers goes through Filter here

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/mcpgate/mcpgate/internal/settings"
	"github.com/mcpgate/mcpgate/internal/store"
)

// Auth errors
var (
	ErrBadCredentials = errors.New("invalid username or password")
	ErrInvalidKey     = errors.New("invalid api key")
	ErrKeyRevoked     = errors.New("api key revoked")
)

// KeyPrefix marks raw API keys so middleware can tell them apart from
// session tokens.
const KeyPrefix = "mcp_"

// dummyHash is compared against when a user does not exist, keeping
// authentication timing independent of username validity.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Service implements access control over the settings store and the key
// store. Construct once at startup and share by handle.
type Service struct {
	settings *settings.Store
	keys     store.KeyStore
	tokens   *TokenIssuer
	logger   *slog.Logger
}

// NewService creates the access control service. tokens may be nil when
// no session secret is configured; password logins then fail closed.
func NewService(settingsStore *settings.Store, keys store.KeyStore, tokens *TokenIssuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		settings: settingsStore,
		keys:     keys,
		tokens:   tokens,
		logger:   logger.With("component", "auth"),
	}
}

// Tokens exposes the session token issuer (nil when auth is disabled).
func (s *Service) Tokens() *TokenIssuer {
	return s.tokens
}

// Authenticate verifies a username/password pair against the canonical
// document. A bcrypt comparison runs whether or not the user exists so
// response timing does not reveal valid usernames.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*settings.User, error) {
	doc, err := s.settings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	user := doc.FindUser(username)
	if user == nil || user.PasswordHash == "" {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return nil, ErrBadCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}

	u := *user
	return &u, nil
}

// HashPassword produces a bcrypt hash for storage in the document.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// CreateAPIKey issues a new high-entropy key for username and persists
// only its digest. The raw key is returned exactly once.
func (s *Service) CreateAPIKey(ctx context.Context, name, username string, perms store.KeyPermissions) (string, error) {
	raw, err := generateRawKey()
	if err != nil {
		return "", err
	}

	key := &store.APIKey{
		KeyHash:     HashKey(raw),
		Name:        name,
		Owner:       username,
		Permissions: perms,
		Active:      true,
	}
	if err := s.keys.CreateAPIKey(ctx, key); err != nil {
		return "", fmt.Errorf("persisting api key: %w", err)
	}

	s.logger.Info("api key created", "name", name, "owner", username)
	return raw, nil
}

// ValidateAPIKey resolves a presented raw key to a Caller. The presented
// key is digested and looked up by hash; raw secrets are never compared
// as strings.
func (s *Service) ValidateAPIKey(ctx context.Context, raw string) (*Caller, error) {
	key, err := s.keys.GetAPIKeyByHash(ctx, HashKey(raw))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("looking up api key: %w", err)
	}
	if !key.Active {
		return nil, ErrKeyRevoked
	}

	perms := key.Permissions
	return &Caller{
		Username:    key.Owner,
		IsAdmin:     perms.Admin,
		Permissions: &perms,
	}, nil
}

// RevokeAPIKey permanently deactivates a key by hash.
func (s *Service) RevokeAPIKey(ctx context.Context, hash string) (bool, error) {
	revoked, err := s.keys.RevokeAPIKey(ctx, hash)
	if err != nil {
		return false, err
	}
	if revoked {
		s.logger.Info("api key revoked", "hash", hash)
	}
	return revoked, nil
}

// ListAPIKeys returns the caller's keys, or every key for admins.
func (s *Service) ListAPIKeys(ctx context.Context, caller *Caller) ([]*store.APIKey, error) {
	owner := caller.Username
	if caller.IsAdmin {
		owner = ""
	}
	return s.keys.ListAPIKeys(ctx, owner)
}

// CallerFromSession builds a Caller for a session-authenticated username,
// reading the admin flag from the canonical document.
func (s *Service) CallerFromSession(ctx context.Context, username string) (*Caller, error) {
	doc, err := s.settings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	user := doc.FindUser(username)
	if user == nil {
		return nil, ErrBadCredentials
	}
	return &Caller{Username: user.Username, IsAdmin: user.IsAdmin}, nil
}

// SettingsFor returns the settings view the caller is allowed to see.
// This is the only read path handlers use; there is no unfiltered
// alternate for non-admin callers.
func (s *Service) SettingsFor(ctx context.Context, caller *Caller) (*settings.Document, error) {
	doc, err := s.settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	return Filter(doc, caller), nil
}

// generateRawKey returns a prefixed, URL-safe 256-bit random token.
func generateRawKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating key material: %w", err)
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// HashKey returns the hex SHA-256 digest stored and looked up in place of
// the raw key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// IsRawKey reports whether a bearer credential looks like an API key
// rather than a session token.
func IsRawKey(credential string) bool {
	return strings.HasPrefix(credential, KeyPrefix)
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
