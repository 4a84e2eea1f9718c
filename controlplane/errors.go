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
	"errors"
	"fmt"
	"net/http"
	"time"
)

// DenialReason identifies why the admission pipeline rejected a request.
// Every rejection is terminal for the current request; only rate limiting
// advertises a retry.
type DenialReason string

const (
	ReasonUnauthenticated        DenialReason = "unauthenticated"
	ReasonMalformedToken         DenialReason = "malformed_token"
	ReasonExpired                DenialReason = "token_expired"
	ReasonInvalidSignature       DenialReason = "invalid_signature"
	ReasonUnknownSubject         DenialReason = "unknown_or_inactive_subject"
	ReasonInsufficientPermission DenialReason = "insufficient_permission"
	ReasonBlocked                DenialReason = "blocked"
	ReasonRateLimited            DenialReason = "rate_limited"
)

// AuthError is a typed authentication or authorization failure.
type AuthError struct {
	Reason DenialReason
	msg    string
}

func (e *AuthError) Error() string {
	if e.msg != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.msg)
	}
	return string(e.Reason)
}

// Is reports reason equality so callers can use errors.Is with sentinels.
func (e *AuthError) Is(target error) bool {
	var other *AuthError
	if errors.As(target, &other) {
		return e.Reason == other.Reason
	}
	return false
}

func authErr(reason DenialReason, format string, args ...interface{}) *AuthError {
	return &AuthError{Reason: reason, msg: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is checks in tests and callers.
var (
	ErrUnauthenticated        = &AuthError{Reason: ReasonUnauthenticated}
	ErrMalformedToken         = &AuthError{Reason: ReasonMalformedToken}
	ErrExpired                = &AuthError{Reason: ReasonExpired}
	ErrInvalidSignature       = &AuthError{Reason: ReasonInvalidSignature}
	ErrUnknownSubject         = &AuthError{Reason: ReasonUnknownSubject}
	ErrInsufficientPermission = &AuthError{Reason: ReasonInsufficientPermission}
	ErrBlocked                = &AuthError{Reason: ReasonBlocked}
)

// RateLimitError carries the retry-after duration back to the caller.
type RateLimitError struct {
	Class      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for class %s, retry after %s", e.Class, e.RetryAfter)
}

// statusForError maps a denial to its HTTP status code.
func statusForError(err error) int {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return http.StatusTooManyRequests
	}

	var ae *AuthError
	if errors.As(err, &ae) {
		switch ae.Reason {
		case ReasonBlocked, ReasonInsufficientPermission:
			return http.StatusForbidden
		case ReasonRateLimited:
			return http.StatusTooManyRequests
		default:
			return http.StatusUnauthorized
		}
	}

	return http.StatusInternalServerError
}

// isCredentialFailure reports whether the error should feed the abuse
// monitor's failed-attempt counter. Rate limiting and blocks do not count,
// only genuine authentication failures do.
func isCredentialFailure(err error) bool {
	var ae *AuthError
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.Reason {
	case ReasonUnauthenticated, ReasonMalformedToken, ReasonExpired,
		ReasonInvalidSignature, ReasonUnknownSubject:
		return true
	}
	return false
}
