// Copyright 2025 LoadGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controlplane

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// CredentialStore is the persistent store of user accounts, roles, and agent
// records consumed by the identity and permission resolvers. Absence is
// reported as (nil, nil), never as an error, so callers can map it onto the
// right denial reason themselves.
type CredentialStore interface {
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetActiveRolesForUser(ctx context.Context, userID int64) ([]Role, error)
	GetAgentByKey(ctx context.Context, apiKey string) (*Agent, error)
}

// SQLCredentialStore implements CredentialStore over PostgreSQL. A single
// process-wide *sql.DB is injected at startup and shared by reference; the
// pool handles reconnection, so no call site carries its own retry logic.
type SQLCredentialStore struct {
	db *sql.DB
}

// NewSQLCredentialStore creates a store around an open database handle
func NewSQLCredentialStore(db *sql.DB) *SQLCredentialStore {
	return &SQLCredentialStore{db: db}
}

// GetUserByID looks a user up by primary key.
func (s *SQLCredentialStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	query := `
		SELECT id, username, email, active
		FROM users
		WHERE id = $1
	`

	var u User
	err := s.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Username, &u.Email, &u.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &u, nil
}

// userCredentials is the login lookup result. The hash never leaves the
// store layer.
type userCredentials struct {
	ID           int64
	PasswordHash string
	Active       bool
}

// getUserCredentials looks a user's login record up by username. Unknown
// usernames return (nil, nil) so the login handler can treat them the same
// as a wrong password.
func (s *SQLCredentialStore) getUserCredentials(ctx context.Context, username string) (*userCredentials, error) {
	query := `
		SELECT id, password_hash, active
		FROM users
		WHERE username = $1
	`

	var c userCredentials
	err := s.db.QueryRowContext(ctx, query, username).Scan(&c.ID, &c.PasswordHash, &c.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &c, nil
}

// GetActiveRolesForUser returns the active roles assigned to a user, with
// each role's permission list already normalized to []string.
func (s *SQLCredentialStore) GetActiveRolesForUser(ctx context.Context, userID int64) ([]Role, error) {
	query := `
		SELECT r.id, r.name, r.active, r.permissions
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		AND r.active = true
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var roles []Role
	for rows.Next() {
		var role Role
		var rawPerms []byte
		if err := rows.Scan(&role.ID, &role.Name, &role.Active, &rawPerms); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		role.Permissions = normalizePermissions(rawPerms)
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return roles, nil
}

// normalizePermissions converts the stored permission column into a plain
// list of "resource.action" strings. Historical rows hold either a JSON
// array or a JSON string containing a serialized array; both shapes are
// flattened here so the resolver never branches on representation.
func normalizePermissions(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}

	var perms []string
	if err := json.Unmarshal(raw, &perms); err == nil {
		return perms
	}

	var serialized string
	if err := json.Unmarshal(raw, &serialized); err == nil {
		if err := json.Unmarshal([]byte(serialized), &perms); err == nil {
			return perms
		}
	}

	log.Printf("Warning: unparseable permission column (%d bytes), treating as empty", len(raw))
	return nil
}

// GetAgentByKey looks up an enabled agent by its static API key. Disabled
// agents and unknown keys both return (nil, nil); the resolver deliberately
// cannot tell them apart.
func (s *SQLCredentialStore) GetAgentByKey(ctx context.Context, apiKey string) (*Agent, error) {
	query := `
		SELECT id, name, pool_id, api_key, enabled, api_key_expires_at, last_seen_at
		FROM agents
		WHERE api_key = $1
		AND enabled = true
	`

	var a Agent
	var expiresAt, lastSeen sql.NullTime
	err := s.db.QueryRowContext(ctx, query, apiKey).Scan(
		&a.ID, &a.Name, &a.PoolID, &a.APIKey, &a.Enabled, &expiresAt, &lastSeen,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	if expiresAt.Valid {
		a.KeyExpiresAt = &expiresAt.Time
	}
	if lastSeen.Valid {
		a.LastSeenAt = &lastSeen.Time
	}
	return &a, nil
}

// TouchAgentLastSeen updates an agent's last_seen_at timestamp. Called fire
// and forget from the heartbeat handler; failures are logged, never surfaced.
func (s *SQLCredentialStore) TouchAgentLastSeen(ctx context.Context, agentID int64) {
	query := `
		UPDATE agents
		SET last_seen_at = NOW()
		WHERE id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, agentID); err != nil {
		log.Printf("Warning: failed to update last_seen_at for agent %d: %v", agentID, err)
	}
}

// openCredentialDB opens the credential database with the pool settings the
// control plane uses everywhere.
func openCredentialDB(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}
