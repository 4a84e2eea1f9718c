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
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"loadgate/platform/shared/secrets"
	"loadgate/platform/shared/types"
)

// Application readiness state for health checks. The health endpoint
// responds immediately while the slower initialization (database, redis)
// happens behind it.
var appReady atomic.Bool

// Global router and server, shared so routes can be added after the
// listener is already accepting health checks.
var (
	globalRouter *mux.Router
	globalCORS   *cors.Cors
)

// initServerImmediately starts the HTTP server with just /health so load
// balancer health checks pass during initialization. Remaining routes are
// added once initialization completes; the server never restarts.
func initServerImmediately(port string) {
	globalRouter = mux.NewRouter()

	globalCORS = cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	globalRouter.HandleFunc("/health", readinessAwareHealthHandler).Methods("GET")

	go func() {
		handler := globalCORS.Handler(globalRouter)
		log.Printf("LoadGate control plane starting on port %s (status: starting)", port)
		if err := http.ListenAndServe(":"+port, handler); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Give the listener a moment before initialization proceeds
	time.Sleep(50 * time.Millisecond)
}

// readinessAwareHealthHandler returns health status based on initialization state
func readinessAwareHealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	status := "starting"
	if appReady.Load() {
		status = "healthy"
	}
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"service":   "loadgate-controlplane",
		"timestamp": time.Now().UTC(),
	}); err != nil {
		log.Printf("Error encoding health response: %v", err)
	}
}

// initRedis opens the counter/blocklist store connection pool.
func initRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return client, nil
}

// Run is the exported entry point for the control plane service.
func Run() {
	cfg := ConfigFromEnv()
	initServerImmediately(cfg.Port)

	// Resolve the signing secret before anything that verifies tokens.
	// Managed deployments read it from Secrets Manager; self-hosted ones
	// keep it in the environment.
	mode := types.DeploymentModeFromEnv()
	if cfg.JWTSecret == "" && cfg.JWTSecretARN != "" {
		if mode == types.DeploymentModeSelfHosted {
			log.Printf("WARNING: %s set in self-hosted mode, resolving from Secrets Manager anyway", EnvJWTSecretARN)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		src, err := secrets.NewAWSSource(ctx, secrets.AWSSourceOptions{})
		if err != nil {
			cancel()
			log.Fatalf("Failed to create secrets source: %v", err)
		}
		secret, err := secrets.SigningSecret(ctx, src, cfg.JWTSecretARN)
		cancel()
		if err != nil {
			log.Fatalf("Failed to resolve signing secret: %v", err)
		}
		cfg.JWTSecret = secret
	}
	if mode.UsesManagedSecrets() && cfg.JWTSecret == "" {
		log.Fatalf("Managed deployments require %s", EnvJWTSecretARN)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	db, err := openCredentialDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to credential database: %v", err)
	}

	rdb, err := initRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	log.Printf("Redis connected: %s", cfg.RedisURL)

	store := NewSQLCredentialStore(db)
	clusters := NewClusterRepository(db)
	activity := NewActivitySink(db)

	identity := NewIdentityResolver(store, []byte(cfg.JWTSecret))
	perms := NewPermissionResolver(store)
	abuse := NewAbuseMonitor(rdb, cfg.FailedAttemptThreshold, cfg.FailedAttemptWindow, cfg.BlockDuration)
	limiter := NewRateLimiter(rdb, cfg.RateLimits)

	issuer := NewTokenIssuer([]byte(cfg.JWTSecret), cfg.TokenLifetime)

	pipeline := NewPipeline(abuse, limiter, identity, perms, activity)
	server := NewServer(store, clusters, activity, issuer, abuse)

	registerRoutes(globalRouter, pipeline, server)
	appReady.Store(true)
	log.Printf("LoadGate control plane ready on port %s", cfg.Port)

	select {}
}

// registerRoutes declares every route's admission requirements in one place.
func registerRoutes(router *mux.Router, pipeline *Pipeline, server *Server) {
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Login sits under the tight auth-class ceiling; the handler feeds the
	// abuse monitor on bad credentials.
	router.HandleFunc("/api/login", pipeline.Wrap(RouteSpec{
		Class: ClassAuth,
		Auth:  AuthNone,
	}, server.handleLogin)).Methods("POST")

	// Agent heartbeat ingress: the one route whose body is repaired before
	// parsing. Pool scope is verified in the handler against the identity.
	router.HandleFunc("/api/agent/heartbeat", pipeline.Wrap(RouteSpec{
		Class:        ClassDefault,
		Auth:         AuthAgent,
		SanitizeBody: true,
	}, server.handleHeartbeat)).Methods("POST")

	router.HandleFunc("/api/clusters", pipeline.Wrap(RouteSpec{
		Class:          ClassRead,
		Auth:           AuthStrict,
		Resource:       "cluster",
		Action:         "read",
		ActivityAction: "cluster.list",
		ResourceType:   "cluster",
	}, server.handleListClusters)).Methods("GET")

	router.HandleFunc("/api/clusters", pipeline.Wrap(RouteSpec{
		Class:          ClassWrite,
		Auth:           AuthStrict,
		Resource:       "cluster",
		Action:         "create",
		ActivityAction: "cluster.create",
		ResourceType:   "cluster",
	}, server.handleCreateCluster)).Methods("POST")

	router.HandleFunc("/api/clusters/{id}", pipeline.Wrap(RouteSpec{
		Class:          ClassWrite,
		Auth:           AuthStrict,
		Resource:       "cluster",
		Action:         "delete",
		ActivityAction: "cluster.delete",
		ResourceType:   "cluster",
	}, server.handleDeleteCluster)).Methods("DELETE")

	router.HandleFunc("/api/clusters/{id}/apply", pipeline.Wrap(RouteSpec{
		Class:          ClassApply,
		Auth:           AuthStrict,
		Resource:       "cluster",
		Action:         "apply",
		ActivityAction: "cluster.apply",
		ResourceType:   "cluster",
	}, server.handleApplyCluster)).Methods("POST")

	router.HandleFunc("/api/activity", pipeline.Wrap(RouteSpec{
		Class:    ClassRead,
		Auth:     AuthStrict,
		Resource: "activity",
		Action:   "read",
	}, server.handleActivity)).Methods("GET")
}
