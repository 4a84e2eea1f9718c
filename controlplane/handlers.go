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
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"loadgate/platform/shared/logger"
)

// Server holds the downstream collaborators the admitted handlers use.
type Server struct {
	store    *SQLCredentialStore
	clusters *ClusterRepository
	activity *ActivitySink
	issuer   *TokenIssuer
	abuse    *AbuseMonitor
	log      *logger.Logger
}

// NewServer creates the handler set around the shared stores
func NewServer(store *SQLCredentialStore, clusters *ClusterRepository, activity *ActivitySink, issuer *TokenIssuer, abuse *AbuseMonitor) *Server {
	return &Server{
		store:    store,
		clusters: clusters,
		activity: activity,
		issuer:   issuer,
		abuse:    abuse,
		log:      logger.New("controlplane"),
	}
}

// handleLogin exchanges a username and password for a session token. Failed
// logins feed the abuse monitor: they are authentication failures reachable
// from a network address, exactly what escalates to a block.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	addr := clientAddr(r)
	creds, err := s.store.getUserCredentials(r.Context(), req.Username)
	if err != nil {
		s.log.ErrorWithCode("", "", "login lookup failed", http.StatusInternalServerError, err, nil)
		sendErrorResponse(w, "login unavailable", http.StatusInternalServerError)
		return
	}

	// Unknown user and wrong password are indistinguishable to the caller.
	if creds == nil || !creds.Active || hashPassword(req.Password) != creds.PasswordHash {
		s.abuse.TrackFailedAttempt(r.Context(), addr)
		s.log.Denial(addr, r.URL.Path, "invalid credentials", "")
		sendErrorResponse(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := s.issuer.Issue(creds.ID)
	if err != nil {
		s.log.ErrorWithCode("", "", "token signing failed", http.StatusInternalServerError, err, nil)
		sendErrorResponse(w, "login unavailable", http.StatusInternalServerError)
		return
	}

	s.activity.Record(creds.ID, "user.login", "session", "", nil, addr, r.UserAgent())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"token":   token,
	}); err != nil {
		log.Printf("Error encoding login response: %v", err)
	}
}

// hashPassword hashes a password for comparison against the stored value.
func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// HeartbeatRequest is the payload node agents report. The producing client
// is known to emit near-valid JSON; the pipeline repairs the body before
// this struct's decoder runs.
type HeartbeatRequest struct {
	PoolID   int64    `json:"pool_id"`
	NodeName string   `json:"node_name"`
	CPU      *float64 `json:"cpu"`
	Memory   *float64 `json:"mem"`
	Status   string   `json:"status"`
}

// handleHeartbeat ingests an agent heartbeat. The route is agent-auth and
// pool scoped: the reported pool must match the identity's pool, agents
// cannot report for pools they do not belong to.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	if identity == nil || !identity.IsAgent() {
		sendErrorResponse(w, "agent identity required", http.StatusUnauthorized)
		return
	}

	var hb HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		sendErrorResponse(w, "invalid heartbeat body", http.StatusBadRequest)
		return
	}

	if hb.PoolID != identity.PoolID {
		s.log.Denial(clientAddr(r), r.URL.Path, "pool scope mismatch", "")
		sendErrorResponse(w, "pool scope mismatch", http.StatusForbidden)
		return
	}

	// Liveness bookkeeping happens off the request path.
	go s.store.TouchAgentLastSeen(context.Background(), identity.ID)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"success":     true,
		"received_at": time.Now().UTC(),
	}); err != nil {
		log.Printf("Error encoding heartbeat response: %v", err)
	}
}

// handleListClusters returns all managed clusters.
func (s *Server) handleListClusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := s.clusters.List(r.Context())
	if err != nil {
		s.log.ErrorWithCode("", "", "failed to list clusters", http.StatusInternalServerError, err, nil)
		sendErrorResponse(w, "failed to list clusters", http.StatusInternalServerError)
		return
	}
	if clusters == nil {
		clusters = []Cluster{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(clusters); err != nil {
		log.Printf("Error encoding clusters response: %v", err)
	}
}

// handleCreateCluster registers a new cluster record.
func (s *Server) handleCreateCluster(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Address == "" {
		sendErrorResponse(w, "name and address are required", http.StatusBadRequest)
		return
	}

	cluster, err := s.clusters.Create(r.Context(), req.Name, req.Address)
	if err != nil {
		s.log.ErrorWithCode("", "", "failed to create cluster", http.StatusInternalServerError, err, nil)
		sendErrorResponse(w, "failed to create cluster", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(cluster); err != nil {
		log.Printf("Error encoding cluster response: %v", err)
	}
}

// handleDeleteCluster removes a cluster record.
func (s *Server) handleDeleteCluster(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.clusters.Delete(r.Context(), id); err != nil {
		if err == sql.ErrNoRows {
			sendErrorResponse(w, "cluster not found", http.StatusNotFound)
			return
		}
		s.log.ErrorWithCode("", "", "failed to delete cluster", http.StatusInternalServerError, err, nil)
		sendErrorResponse(w, "failed to delete cluster", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleApplyCluster marks a cluster's configuration as applied. This is the
// critical apply operation and runs under the tightest rate class.
func (s *Server) handleApplyCluster(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.clusters.MarkApplied(r.Context(), id); err != nil {
		if err == sql.ErrNoRows {
			sendErrorResponse(w, "cluster not found", http.StatusNotFound)
			return
		}
		s.log.ErrorWithCode("", "", "failed to apply cluster", http.StatusInternalServerError, err, nil)
		sendErrorResponse(w, "failed to apply cluster", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"success":    true,
		"cluster_id": id,
		"applied_at": time.Now().UTC(),
	}); err != nil {
		log.Printf("Error encoding apply response: %v", err)
	}
}

// handleActivity queries the activity log.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	criteria := ActivitySearch{Limit: 100}

	q := r.URL.Query()
	if v := q.Get("user_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			criteria.UserID = id
		}
	}
	criteria.Action = q.Get("action")
	criteria.ResourceType = q.Get("resource_type")
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			criteria.Limit = n
		}
	}

	records, err := s.activity.Search(r.Context(), criteria)
	if err != nil {
		s.log.ErrorWithCode("", "", "failed to search activity log", http.StatusInternalServerError, err, nil)
		sendErrorResponse(w, "failed to search activity log", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		log.Printf("Error encoding activity response: %v", err)
	}
}

// sendErrorResponse writes a JSON error body with the given status.
func sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	}); err != nil {
		log.Printf("Error encoding error response: %v", err)
	}
}
