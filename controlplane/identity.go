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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// placeholderTokens are literal strings some clients send instead of
// omitting the Authorization header. They are treated as no credential.
var placeholderTokens = map[string]bool{
	"":          true,
	"null":      true,
	"undefined": true,
	"None":      true,
}

// IdentityResolver validates bearer tokens and agent API keys and produces a
// normalized Identity or a typed failure. Tokens are verified, never stored.
type IdentityResolver struct {
	store  CredentialStore
	secret []byte
}

// NewIdentityResolver creates a resolver with the shared signing secret
func NewIdentityResolver(store CredentialStore, secret []byte) *IdentityResolver {
	return &IdentityResolver{store: store, secret: secret}
}

// ResolveUser verifies a bearer token and returns the user identity. Every
// failure is a typed AuthError; use ResolveUserPermissive on routes where
// authentication trouble must never block the request.
func (r *IdentityResolver) ResolveUser(ctx context.Context, tokenString string) (*Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if placeholderTokens[tokenString] {
		return nil, authErr(ReasonUnauthenticated, "no bearer token presented")
	}

	// Fast fail before signature verification: a structurally broken token
	// gets a precise diagnostic instead of a generic crypto failure.
	if strings.Count(tokenString, ".") != 2 {
		return nil, authErr(ReasonMalformedToken, "token does not have three segments")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, authErr(ReasonExpired, "token expired")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, authErr(ReasonInvalidSignature, "signature verification failed")
		default:
			return nil, authErr(ReasonMalformedToken, "token rejected: %v", err)
		}
	}
	if !token.Valid {
		return nil, authErr(ReasonInvalidSignature, "token invalid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, authErr(ReasonMalformedToken, "unexpected claims type")
	}

	userID, ok := subjectFromClaims(claims)
	if !ok {
		return nil, authErr(ReasonMalformedToken, "no subject claim")
	}

	user, err := r.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("credential store lookup failed: %w", err)
	}
	if user == nil || !user.Active {
		return nil, authErr(ReasonUnknownSubject, "user %d unknown or inactive", userID)
	}

	return &Identity{
		Kind:     IdentityUser,
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
	}, nil
}

// ResolveUserPermissive resolves a user identity on a best-effort basis.
// Any failure, typed or not, yields (nil, nil) so optional-identity routes
// such as activity logging never deny a request over auth trouble.
func (r *IdentityResolver) ResolveUserPermissive(ctx context.Context, tokenString string) (*Identity, error) {
	identity, err := r.ResolveUser(ctx, tokenString)
	if err != nil {
		return nil, nil
	}
	return identity, nil
}

// subjectFromClaims extracts the user id from the "sub" claim, falling back
// to the legacy "user_id" claim older sessions still carry.
func subjectFromClaims(claims jwt.MapClaims) (int64, bool) {
	for _, key := range []string{"sub", "user_id"} {
		switch v := claims[key].(type) {
		case float64:
			return int64(v), true
		case string:
			if id, err := strconv.ParseInt(v, 10, 64); err == nil {
				return id, true
			}
		}
	}
	return 0, false
}

// TokenIssuer signs session tokens for the login endpoint. Issued tokens
// carry the subject id and an expiry derived from the configured lifetime;
// nothing else about the session is persisted.
type TokenIssuer struct {
	secret   []byte
	lifetime time.Duration
}

// NewTokenIssuer creates an issuer with the shared secret and token lifetime
func NewTokenIssuer(secret []byte, lifetime time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, lifetime: lifetime}
}

// Issue signs a session token for the user.
func (t *TokenIssuer) Issue(userID int64) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(t.lifetime).Unix(),
	})

	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ResolveAgent validates a static agent API key. A missing key is not an
// error, it simply means no agent identity is presented. Wrong key, disabled
// agent, and expired key all resolve to no identity rather than distinct
// errors, to avoid leaking which keys exist beyond what rate limiting
// already bounds.
func (r *IdentityResolver) ResolveAgent(ctx context.Context, apiKey string) (*Identity, error) {
	if apiKey == "" {
		return nil, nil
	}

	agent, err := r.store.GetAgentByKey(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("credential store lookup failed: %w", err)
	}
	if agent == nil {
		return nil, nil
	}

	if agent.KeyExpiresAt != nil && agent.KeyExpiresAt.Before(time.Now()) {
		return nil, nil
	}

	return &Identity{
		Kind:      IdentityAgent,
		ID:        agent.ID,
		AgentName: agent.Name,
		PoolID:    agent.PoolID,
	}, nil
}
