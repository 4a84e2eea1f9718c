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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
)

// fakeCredentialStore is an in-memory CredentialStore for resolver tests.
type fakeCredentialStore struct {
	users  map[int64]*User
	roles  map[int64][]Role
	agents map[string]*Agent
	err    error
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{
		users:  make(map[int64]*User),
		roles:  make(map[int64][]Role),
		agents: make(map[string]*Agent),
	}
}

func (f *fakeCredentialStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.users[id], nil
}

func (f *fakeCredentialStore) GetActiveRolesForUser(ctx context.Context, userID int64) ([]Role, error) {
	if f.err != nil {
		return nil, f.err
	}
	var active []Role
	for _, role := range f.roles[userID] {
		if role.Active {
			active = append(active, role)
		}
	}
	return active, nil
}

func (f *fakeCredentialStore) GetAgentByKey(ctx context.Context, apiKey string) (*Agent, error) {
	if f.err != nil {
		return nil, f.err
	}
	agent := f.agents[apiKey]
	if agent != nil && !agent.Enabled {
		return nil, nil
	}
	return agent, nil
}

// signTestToken signs an HS256 token with the given claims.
func signTestToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

// validUserClaims returns claims for an unexpired session for the user.
func validUserClaims(userID int64) jwt.MapClaims {
	return jwt.MapClaims{
		"sub": userID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

// testRedis starts a miniredis instance and returns a connected client.
func testRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}
