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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUnionsActiveRoles(t *testing.T) {
	store := newFakeCredentialStore()
	store.roles[1] = []Role{
		{ID: 10, Name: "viewer", Active: true, Permissions: []string{"cluster.read", "activity.read"}},
		{ID: 11, Name: "deployer", Active: true, Permissions: []string{"cluster.read", "cluster.apply"}},
		{ID: 12, Name: "admin", Active: false, Permissions: []string{"cluster.delete"}},
	}

	resolver := NewPermissionResolver(store)
	matrix, err := resolver.Resolve(context.Background(), 1)

	require.NoError(t, err)
	assert.True(t, matrix.Has("cluster", "read"))
	assert.True(t, matrix.Has("cluster", "apply"))
	assert.True(t, matrix.Has("activity", "read"))

	// Inactive roles contribute nothing.
	assert.False(t, matrix.Has("cluster", "delete"))
}

func TestResolveNoActiveRolesDeniesEverything(t *testing.T) {
	store := newFakeCredentialStore()

	resolver := NewPermissionResolver(store)
	matrix, err := resolver.Resolve(context.Background(), 1)

	require.NoError(t, err)
	assert.NotNil(t, matrix)
	assert.False(t, matrix.Has("cluster", "read"))
	assert.False(t, matrix.Has("", ""))
}

func TestResolveSkipsMalformedPermissionStrings(t *testing.T) {
	store := newFakeCredentialStore()
	store.roles[1] = []Role{
		{ID: 10, Name: "mixed", Active: true, Permissions: []string{
			"cluster.read",
			"nodot",
			".leadingdot",
			"trailingdot.",
			"",
		}},
	}

	resolver := NewPermissionResolver(store)
	matrix, err := resolver.Resolve(context.Background(), 1)

	require.NoError(t, err)
	assert.True(t, matrix.Has("cluster", "read"))
	assert.Len(t, matrix, 1)
}

func TestResolveSplitsOnFirstDot(t *testing.T) {
	store := newFakeCredentialStore()
	store.roles[1] = []Role{
		{ID: 10, Name: "scoped", Active: true, Permissions: []string{"pool.drain.force"}},
	}

	resolver := NewPermissionResolver(store)
	matrix, err := resolver.Resolve(context.Background(), 1)

	require.NoError(t, err)
	assert.True(t, matrix.Has("pool", "drain.force"))
	assert.False(t, matrix.Has("pool.drain", "force"))
}

func TestResolvePropagatesStoreErrors(t *testing.T) {
	store := newFakeCredentialStore()
	store.err = errors.New("connection reset")

	resolver := NewPermissionResolver(store)
	matrix, err := resolver.Resolve(context.Background(), 1)

	assert.Nil(t, matrix)
	assert.Error(t, err)
}

func TestPermissionMatrixHas(t *testing.T) {
	matrix := PermissionMatrix{
		"cluster": {"read": true, "apply": false},
	}

	assert.True(t, matrix.Has("cluster", "read"))
	assert.False(t, matrix.Has("cluster", "apply"))
	assert.False(t, matrix.Has("cluster", "delete"))
	assert.False(t, matrix.Has("pool", "read"))

	var empty PermissionMatrix
	assert.False(t, empty.Has("cluster", "read"))
}
