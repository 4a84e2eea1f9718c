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
	"fmt"
	"strings"
)

// PermissionResolver expands a user's active roles into a permission matrix.
// Resolution is pure given the store's output: no caching layer sits between
// a role change at the store and the next request's matrix.
type PermissionResolver struct {
	store CredentialStore
}

// NewPermissionResolver creates a resolver backed by the credential store
func NewPermissionResolver(store CredentialStore) *PermissionResolver {
	return &PermissionResolver{store: store}
}

// Resolve builds the resource -> action matrix for a user by unioning the
// permission strings of every active role. Duplicates collapse; a permission
// granted by any role is granted. A user with no active roles resolves to an
// empty matrix that denies every point query.
func (r *PermissionResolver) Resolve(ctx context.Context, userID int64) (PermissionMatrix, error) {
	roles, err := r.store.GetActiveRolesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles for user %d: %w", userID, err)
	}

	matrix := make(PermissionMatrix)
	for _, role := range roles {
		for _, perm := range role.Permissions {
			resource, action, ok := splitPermission(perm)
			if !ok {
				continue
			}
			if matrix[resource] == nil {
				matrix[resource] = make(map[string]bool)
			}
			matrix[resource][action] = true
		}
	}

	return matrix, nil
}

// splitPermission splits "resource.action" on the first dot. Strings without
// a dot, or with an empty side, grant nothing.
func splitPermission(perm string) (resource, action string, ok bool) {
	idx := strings.Index(perm, ".")
	if idx <= 0 || idx == len(perm)-1 {
		return "", "", false
	}
	return perm[:idx], perm[idx+1:], true
}
