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

import "time"

// IdentityKind distinguishes human sessions from machine agents.
type IdentityKind string

const (
	IdentityUser  IdentityKind = "user"
	IdentityAgent IdentityKind = "agent"
)

// Identity is the normalized result of credential verification. It is
// immutable once resolved and scoped to a single request. User identities
// carry a permission matrix resolved from their active roles; agent
// identities carry only pool scope and are never role-checked.
type Identity struct {
	Kind        IdentityKind
	ID          int64
	Username    string
	Email       string
	Permissions PermissionMatrix

	// Agent-only fields
	AgentName string
	PoolID    int64
}

// IsAgent reports whether the identity belongs to a machine agent.
func (id *Identity) IsAgent() bool {
	return id != nil && id.Kind == IdentityAgent
}

// User is an operator account from the credential store.
type User struct {
	ID       int64
	Username string
	Email    string
	Active   bool
}

// Role groups permission strings. Permissions are stored as
// "resource.action" strings; the store normalizes serialized
// representations before they reach the resolver.
type Role struct {
	ID          int64
	Name        string
	Active      bool
	Permissions []string
}

// Agent is a remote node client authenticated by a static API key.
type Agent struct {
	ID           int64
	Name         string
	PoolID       int64
	APIKey       string
	Enabled      bool
	KeyExpiresAt *time.Time
	LastSeenAt   *time.Time
}

// PermissionMatrix maps resource -> action -> granted. Built per request by
// unioning all active roles for a user; never cached across requests.
type PermissionMatrix map[string]map[string]bool

// Has answers a point-in-time authorization question. Absence at either
// level is false, never an error.
func (m PermissionMatrix) Has(resource, action string) bool {
	actions, ok := m[resource]
	if !ok {
		return false
	}
	return actions[action]
}
