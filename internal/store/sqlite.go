// ABOUTME: SQLite implementation of the persistence backend using modernc.org/sqlite
// ABOUTME: Stores the settings document and API keys with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mcpgate/mcpgate/internal/settings"
)

// SQLiteStore implements Backend using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Backend = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS servers (
		name          TEXT PRIMARY KEY,
		owner         TEXT NOT NULL,
		transport     TEXT NOT NULL,
		command       TEXT NOT NULL DEFAULT '',
		args          TEXT NOT NULL DEFAULT '[]',
		env           TEXT NOT NULL DEFAULT '{}',
		url           TEXT NOT NULL DEFAULT '',
		enabled       INTEGER NOT NULL DEFAULT 1,
		keep_alive_ms INTEGER NOT NULL DEFAULT 0,
		tools_filter  TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS server_groups (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS group_members (
		group_id     TEXT NOT NULL REFERENCES server_groups(id) ON DELETE CASCADE,
		server_name  TEXT NOT NULL,
		tools_filter TEXT NOT NULL DEFAULT '[]',
		position     INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (group_id, server_name)
	);

	CREATE TABLE IF NOT EXISTS users (
		username      TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		is_admin      INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS saved_variables (
		username  TEXT NOT NULL,
		key       TEXT NOT NULL,
		value     TEXT NOT NULL,
		encrypted INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (username, key)
	);

	CREATE TABLE IF NOT EXISTS system_config (
		id     INTEGER PRIMARY KEY CHECK (id = 1),
		config TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS api_keys (
		key_hash    TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		owner       TEXT NOT NULL,
		permissions TEXT NOT NULL,
		active      INTEGER NOT NULL DEFAULT 1,
		created_at  TEXT NOT NULL,
		revoked_at  TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_api_keys_owner ON api_keys(owner);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadDocument assembles the full settings document from the database.
func (s *SQLiteStore) LoadDocument(ctx context.Context) (*settings.Document, error) {
	doc := settings.NewDocument()

	if err := s.loadServers(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.loadGroups(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.loadUsers(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.loadSavedVariables(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.loadSystemConfig(ctx, doc); err != nil {
		return nil, err
	}

	return doc, nil
}

func (s *SQLiteStore) loadServers(ctx context.Context, doc *settings.Document) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, owner, transport, command, args, env, url, enabled, keep_alive_ms, tools_filter
		FROM servers
	`)
	if err != nil {
		return fmt.Errorf("querying servers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var srv settings.ServerConfig
		var argsJSON, envJSON, toolsJSON string
		var enabled int
		if err := rows.Scan(&srv.Name, &srv.Owner, &srv.Transport, &srv.Command,
			&argsJSON, &envJSON, &srv.URL, &enabled, &srv.KeepAliveIntervalMs, &toolsJSON); err != nil {
			return fmt.Errorf("scanning server: %w", err)
		}
		srv.Enabled = enabled != 0
		if err := unmarshalList(argsJSON, &srv.Args); err != nil {
			return fmt.Errorf("decoding args for %q: %w", srv.Name, err)
		}
		if err := unmarshalMap(envJSON, &srv.Env); err != nil {
			return fmt.Errorf("decoding env for %q: %w", srv.Name, err)
		}
		if err := unmarshalList(toolsJSON, &srv.ToolsFilter); err != nil {
			return fmt.Errorf("decoding tools filter for %q: %w", srv.Name, err)
		}
		doc.Servers[srv.Name] = srv
	}
	return rows.Err()
}

func (s *SQLiteStore) loadGroups(ctx context.Context, doc *settings.Document) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM server_groups ORDER BY name`)
	if err != nil {
		return fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	index := make(map[string]int)
	for rows.Next() {
		var g settings.Group
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return fmt.Errorf("scanning group: %w", err)
		}
		index[g.ID] = len(doc.Groups)
		doc.Groups = append(doc.Groups, g)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	memberRows, err := s.db.QueryContext(ctx, `
		SELECT group_id, server_name, tools_filter
		FROM group_members ORDER BY group_id, position
	`)
	if err != nil {
		return fmt.Errorf("querying group members: %w", err)
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var groupID string
		var m settings.GroupMember
		var toolsJSON string
		if err := memberRows.Scan(&groupID, &m.ServerName, &toolsJSON); err != nil {
			return fmt.Errorf("scanning group member: %w", err)
		}
		if err := unmarshalList(toolsJSON, &m.ToolsFilter); err != nil {
			return fmt.Errorf("decoding member tools filter: %w", err)
		}
		if i, ok := index[groupID]; ok {
			doc.Groups[i].Members = append(doc.Groups[i].Members, m)
		}
	}
	return memberRows.Err()
}

func (s *SQLiteStore) loadUsers(ctx context.Context, doc *settings.Document) error {
	rows, err := s.db.QueryContext(ctx, `SELECT username, password_hash, is_admin FROM users ORDER BY username`)
	if err != nil {
		return fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u settings.User
		var isAdmin int
		if err := rows.Scan(&u.Username, &u.PasswordHash, &isAdmin); err != nil {
			return fmt.Errorf("scanning user: %w", err)
		}
		u.IsAdmin = isAdmin != 0
		doc.Users = append(doc.Users, u)
	}
	return rows.Err()
}

func (s *SQLiteStore) loadSavedVariables(ctx context.Context, doc *settings.Document) error {
	rows, err := s.db.QueryContext(ctx, `SELECT username, key, value, encrypted FROM saved_variables`)
	if err != nil {
		return fmt.Errorf("querying saved variables: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var username string
		var v settings.SavedVariable
		var encrypted int
		if err := rows.Scan(&username, &v.Key, &v.Value, &encrypted); err != nil {
			return fmt.Errorf("scanning saved variable: %w", err)
		}
		v.Encrypted = encrypted != 0
		if doc.SavedVariables[username] == nil {
			doc.SavedVariables[username] = make(map[string]settings.SavedVariable)
		}
		doc.SavedVariables[username][v.Key] = v
	}
	return rows.Err()
}

func (s *SQLiteStore) loadSystemConfig(ctx context.Context, doc *settings.Document) error {
	var configJSON string
	err := s.db.QueryRowContext(ctx, `SELECT config FROM system_config WHERE id = 1`).Scan(&configJSON)
	if err == sql.ErrNoRows {
		return nil // fresh database, defaults apply
	}
	if err != nil {
		return fmt.Errorf("querying system config: %w", err)
	}
	if err := json.Unmarshal([]byte(configJSON), &doc.System); err != nil {
		return fmt.Errorf("decoding system config: %w", err)
	}
	return nil
}

// SaveDocument writes the full document in one transaction. The database
// transaction is the serialization point for concurrent writers.
func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *settings.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"group_members", "server_groups", "servers", "users", "saved_variables"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	for name, srv := range doc.Servers {
		argsJSON, err := marshalList(srv.Args)
		if err != nil {
			return fmt.Errorf("encoding args for %q: %w", name, err)
		}
		envJSON, err := marshalMap(srv.Env)
		if err != nil {
			return fmt.Errorf("encoding env for %q: %w", name, err)
		}
		toolsJSON, err := marshalList(srv.ToolsFilter)
		if err != nil {
			return fmt.Errorf("encoding tools filter for %q: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO servers (name, owner, transport, command, args, env, url, enabled, keep_alive_ms, tools_filter)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, name, srv.Owner, string(srv.Transport), srv.Command, argsJSON, envJSON, srv.URL,
			boolToInt(srv.Enabled), srv.KeepAliveIntervalMs, toolsJSON); err != nil {
			return fmt.Errorf("inserting server %q: %w", name, err)
		}
	}

	for _, g := range doc.Groups {
		if _, err := tx.ExecContext(ctx, `INSERT INTO server_groups (id, name) VALUES (?, ?)`, g.ID, g.Name); err != nil {
			return fmt.Errorf("inserting group %q: %w", g.ID, err)
		}
		for pos, m := range g.Members {
			toolsJSON, err := marshalList(m.ToolsFilter)
			if err != nil {
				return fmt.Errorf("encoding member tools filter: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO group_members (group_id, server_name, tools_filter, position)
				VALUES (?, ?, ?, ?)
			`, g.ID, m.ServerName, toolsJSON, pos); err != nil {
				return fmt.Errorf("inserting member of %q: %w", g.ID, err)
			}
		}
	}

	for _, u := range doc.Users {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (username, password_hash, is_admin) VALUES (?, ?, ?)
		`, u.Username, u.PasswordHash, boolToInt(u.IsAdmin)); err != nil {
			return fmt.Errorf("inserting user %q: %w", u.Username, err)
		}
	}

	for username, kv := range doc.SavedVariables {
		for _, v := range kv {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO saved_variables (username, key, value, encrypted) VALUES (?, ?, ?, ?)
			`, username, v.Key, v.Value, boolToInt(v.Encrypted)); err != nil {
				return fmt.Errorf("inserting variable %s/%s: %w", username, v.Key, err)
			}
		}
	}

	systemJSON, err := json.Marshal(doc.System)
	if err != nil {
		return fmt.Errorf("encoding system config: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO system_config (id, config) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET config = excluded.config
	`, string(systemJSON)); err != nil {
		return fmt.Errorf("saving system config: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing document: %w", err)
	}

	s.logger.Debug("document saved", "servers", len(doc.Servers), "groups", len(doc.Groups), "users", len(doc.Users))
	return nil
}

// CreateAPIKey persists a new key record.
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, key *APIKey) error {
	permsJSON, err := json.Marshal(key.Permissions)
	if err != nil {
		return fmt.Errorf("encoding permissions: %w", err)
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (key_hash, name, owner, permissions, active, created_at)
		VALUES (?, ?, ?, ?, 1, ?)
	`, key.KeyHash, key.Name, key.Owner, string(permsJSON), key.CreatedAt.Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting api key: %w", err)
	}

	s.logger.Debug("created api key", "name", key.Name, "owner", key.Owner)
	return nil
}

// GetAPIKeyByHash looks a key up by its digest. Revoked keys are returned
// with Active=false; absent keys yield ErrNotFound.
func (s *SQLiteStore) GetAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key_hash, name, owner, permissions, active, created_at, revoked_at
		FROM api_keys WHERE key_hash = ?
	`, hash)
	return scanAPIKey(row)
}

// RevokeAPIKey permanently deactivates a key. Returns false if no active
// key with the given hash exists. A revoked key is never reactivated.
func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, hash string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET active = 0, revoked_at = ? WHERE key_hash = ? AND active = 1
	`, time.Now().UTC().Format(time.RFC3339), hash)
	if err != nil {
		return false, fmt.Errorf("revoking api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking revocation: %w", err)
	}
	return n > 0, nil
}

// ListAPIKeys returns keys for one owner, or every key when owner is empty.
func (s *SQLiteStore) ListAPIKeys(ctx context.Context, owner string) ([]*APIKey, error) {
	query := `
		SELECT key_hash, name, owner, permissions, active, created_at, revoked_at
		FROM api_keys
	`
	args := []any{}
	if owner != "" {
		query += ` WHERE owner = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (*APIKey, error) {
	var key APIKey
	var permsJSON, createdAt string
	var revokedAt sql.NullString
	var active int

	err := row.Scan(&key.KeyHash, &key.Name, &key.Owner, &permsJSON, &active, &createdAt, &revokedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning api key: %w", err)
	}

	key.Active = active != 0
	if err := json.Unmarshal([]byte(permsJSON), &key.Permissions); err != nil {
		return nil, fmt.Errorf("decoding permissions: %w", err)
	}
	if key.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if revokedAt.Valid {
		t, err := time.Parse(time.RFC3339, revokedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing revoked_at: %w", err)
		}
		key.RevokedAt = &t
	}
	return &key, nil
}

func marshalList(v []string) (string, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func unmarshalList(s string, dst *[]string) error {
	if s == "" || s == "[]" {
		return nil
	}
	return json.Unmarshal([]byte(s), dst)
}

func marshalMap(v map[string]string) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func unmarshalMap(s string, dst *map[string]string) error {
	if s == "" || s == "{}" {
		return nil
	}
	return json.Unmarshal([]byte(s), dst)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
