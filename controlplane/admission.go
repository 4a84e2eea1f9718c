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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"loadgate/platform/shared/logger"
)

// AuthMode declares how a route authenticates.
type AuthMode int

const (
	// AuthNone skips identity resolution entirely (health, metrics).
	AuthNone AuthMode = iota
	// AuthStrict requires a valid user bearer token.
	AuthStrict
	// AuthPermissive resolves a user identity when possible but never
	// denies over authentication trouble.
	AuthPermissive
	// AuthAgent requires a valid agent API key.
	AuthAgent
)

// RouteSpec is the explicit per-route admission declaration. Routes state
// their rate class, auth mode, and required permission up front; the
// pipeline reads the declaration instead of handlers wrapping themselves.
type RouteSpec struct {
	Class RateClass
	Auth  AuthMode

	// Resource and Action name the permission a user identity must hold.
	// Empty means no role-based check. Agent routes leave these empty and
	// verify pool scope in the handler against the identity's PoolID.
	Resource string
	Action   string

	// SanitizeBody repairs the known heartbeat malformations before the
	// handler's JSON decoder sees the body.
	SanitizeBody bool

	// ActivityAction, when set, records an activity entry after a 2xx
	// response. The record is dispatched asynchronously and never awaited.
	ActivityAction string
	ResourceType   string
}

// Pipeline orchestrates admission: block check, rate limit, sanitization,
// identity resolution, permission resolution, then the handler. Each stage
// short-circuits on failure, and no stage holds a store handle across a
// stage boundary.
type Pipeline struct {
	abuse    *AbuseMonitor
	limiter  *RateLimiter
	identity *IdentityResolver
	perms    *PermissionResolver
	activity *ActivitySink
	log      *logger.Logger
}

// NewPipeline wires the admission stages together
func NewPipeline(abuse *AbuseMonitor, limiter *RateLimiter, identity *IdentityResolver, perms *PermissionResolver, activity *ActivitySink) *Pipeline {
	return &Pipeline{
		abuse:    abuse,
		limiter:  limiter,
		identity: identity,
		perms:    perms,
		activity: activity,
		log:      logger.New("controlplane"),
	}
}

type contextKey string

const identityContextKey contextKey = "loadgate.identity"

// IdentityFromContext returns the identity the pipeline resolved for this
// request, or nil when the route is unauthenticated or permissive auth
// found nothing.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey).(*Identity)
	return id
}

// Wrap applies the admission pipeline to a handler according to the route's
// declaration.
func (p *Pipeline) Wrap(spec RouteSpec, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.New().String()
		addr := clientAddr(r)

		// Stage 1: block gate. Runs before any other per-request work and
		// never feeds the failure counter itself.
		blocked, err := p.abuse.IsBlocked(r.Context(), addr)
		if err != nil || blocked {
			promBlockedRequests.Inc()
			p.deny(w, r, addr, requestID, ErrBlocked)
			return
		}

		// Stage 2: route-class ceiling.
		if err := p.limiter.Allow(r.Context(), spec.Class, addr); err != nil {
			promRateLimitedRequests.WithLabelValues(string(spec.Class)).Inc()
			p.deny(w, r, addr, requestID, err)
			return
		}

		// Stage 3: heartbeat body repair, before the handler's parser runs.
		if spec.SanitizeBody {
			if err := p.sanitizeRequestBody(r); err != nil {
				p.log.ErrorWithCode("", requestID, "failed to read request body", http.StatusBadRequest, err, nil)
				http.Error(w, "unreadable request body", http.StatusBadRequest)
				return
			}
		}

		// Stage 4: identity resolution per the route's declaration.
		identity, err := p.resolveIdentity(r, spec.Auth)
		if err != nil {
			if isCredentialFailure(err) {
				p.abuse.TrackFailedAttempt(r.Context(), addr)
			}
			p.deny(w, r, addr, requestID, err)
			return
		}

		// Stage 5: role-based permission for user identities. Agents never
		// pass a role check; agent routes verify pool scope in the handler.
		if spec.Resource != "" && spec.Action != "" {
			if err := p.checkPermission(r.Context(), identity, spec.Resource, spec.Action); err != nil {
				p.deny(w, r, addr, requestID, err)
				return
			}
		}

		ctx := context.WithValue(r.Context(), identityContextKey, identity)
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(recorder, r.WithContext(ctx))

		promRequestsTotal.WithLabelValues(outcomeLabel(recorder.status)).Inc()
		promAdmissionDuration.WithLabelValues(r.URL.Path).Observe(float64(time.Since(start).Milliseconds()))

		// Stage 7: activity emission on success, detached from the response.
		if spec.ActivityAction != "" && recorder.status >= 200 && recorder.status < 300 && identity != nil {
			p.activity.Record(
				identity.ID,
				spec.ActivityAction,
				spec.ResourceType,
				"",
				map[string]interface{}{"method": r.Method, "path": r.URL.Path},
				addr,
				r.UserAgent(),
			)
		}
	}
}

// resolveIdentity runs the declared verification path. Permissive mode
// swallows every failure; agent mode maps "no identity" onto an
// authentication failure because the route demands one.
func (p *Pipeline) resolveIdentity(r *http.Request, mode AuthMode) (*Identity, error) {
	switch mode {
	case AuthNone:
		return nil, nil
	case AuthStrict:
		return p.identity.ResolveUser(r.Context(), bearerToken(r))
	case AuthPermissive:
		return p.identity.ResolveUserPermissive(r.Context(), bearerToken(r))
	case AuthAgent:
		identity, err := p.identity.ResolveAgent(r.Context(), r.Header.Get("X-Agent-Key"))
		if err != nil {
			return nil, err
		}
		if identity == nil {
			return nil, authErr(ReasonUnauthenticated, "no valid agent key presented")
		}
		return identity, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %d", mode)
	}
}

// checkPermission resolves the user's matrix and answers the route's point
// query. The matrix is attached to the identity so the handler can make
// finer-grained decisions without another round trip.
func (p *Pipeline) checkPermission(ctx context.Context, identity *Identity, resource, action string) error {
	if identity == nil {
		return authErr(ReasonUnauthenticated, "route requires %s.%s", resource, action)
	}
	if identity.IsAgent() {
		return authErr(ReasonInsufficientPermission, "agents hold no role permissions")
	}

	matrix, err := p.perms.Resolve(ctx, identity.ID)
	if err != nil {
		return fmt.Errorf("permission resolution failed: %w", err)
	}
	identity.Permissions = matrix

	if !matrix.Has(resource, action) {
		return authErr(ReasonInsufficientPermission, "missing %s.%s", resource, action)
	}
	return nil
}

// sanitizeRequestBody swaps the request body for its sanitized form.
func (p *Pipeline) sanitizeRequestBody(r *http.Request) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	_ = r.Body.Close()

	repaired := SanitizeHeartbeatBody(body)
	if !bytes.Equal(repaired, body) {
		p.log.Debug("", "", "repaired heartbeat body", map[string]interface{}{
			"original_prefix": sanitizePreview(body),
		})
	}

	r.Body = io.NopCloser(bytes.NewReader(repaired))
	r.ContentLength = int64(len(repaired))
	return nil
}

// deny writes the terminal response for a rejected request and logs enough
// context for offline forensics. Credentials are never logged.
func (p *Pipeline) deny(w http.ResponseWriter, r *http.Request, addr, requestID string, err error) {
	status := statusForError(err)
	reason := denialReason(err)

	p.log.Denial(addr, r.URL.Path, reason, requestID)
	promAuthFailures.WithLabelValues(reason).Inc()
	promRequestsTotal.WithLabelValues("denied").Inc()

	w.Header().Set("Content-Type", "application/json")
	var rl *RateLimitError
	if errors.As(err, &rl) {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rl.RetryAfter.Seconds())))
	}
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"success": false,
		"error":   reason,
	}
	if rl != nil {
		resp["retry_after_seconds"] = int(rl.RetryAfter.Seconds())
	}
	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		p.log.ErrorWithCode("", requestID, "error encoding denial response", status, encErr, nil)
	}
}

func denialReason(err error) string {
	var ae *AuthError
	if errors.As(err, &ae) {
		return string(ae.Reason)
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return string(ReasonRateLimited)
	}
	return "internal_error"
}

func outcomeLabel(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "success"
	case status >= 400 && status < 500:
		return "client_error"
	default:
		return "server_error"
	}
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

// clientAddr extracts the source address: the first hop of X-Forwarded-For
// when a proxy sits in front, otherwise the connection's remote address.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// statusRecorder captures the handler's status code for the activity stage.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
