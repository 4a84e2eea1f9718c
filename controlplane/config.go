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
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the externally supplied admission pipeline constants. Nothing
// here is derived at runtime; every threshold comes from the environment or
// the rate-limits file.
type Config struct {
	// Port is the HTTP listen port.
	Port string

	// DatabaseURL is the PostgreSQL connection string for the credential
	// store and the activity log.
	DatabaseURL string

	// RedisURL is the counter/blocklist store connection string.
	RedisURL string

	// JWTSecret is the shared signing secret for bearer tokens. Resolved
	// from Secrets Manager when JWTSecretARN is set.
	JWTSecret    string
	JWTSecretARN string

	// TokenLifetime is the session token validity issued by the login
	// collaborator. Verification relies on the token's own expiry claim.
	TokenLifetime time.Duration

	// FailedAttemptThreshold failures within FailedAttemptWindow from one
	// address escalate to a block lasting BlockDuration.
	FailedAttemptThreshold int
	FailedAttemptWindow    time.Duration
	BlockDuration          time.Duration

	// RateLimits are the per-class ceilings, overridable via RATE_LIMITS_FILE.
	RateLimits map[RateClass]ClassLimit
}

// Environment variable names for the admission pipeline.
const (
	EnvPort                   = "PORT"
	EnvDatabaseURL            = "DATABASE_URL"
	EnvRedisURL               = "REDIS_URL"
	EnvJWTSecret              = "JWT_SECRET"
	EnvJWTSecretARN           = "JWT_SECRET_ARN"
	EnvTokenLifetime          = "TOKEN_LIFETIME"
	EnvFailedAttemptThreshold = "FAILED_ATTEMPT_THRESHOLD"
	EnvFailedAttemptWindow    = "FAILED_ATTEMPT_WINDOW"
	EnvBlockDuration          = "BLOCK_DURATION"
	EnvRateLimitsFile         = "RATE_LIMITS_FILE"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Port:                   "8080",
		RedisURL:               "redis://localhost:6379",
		TokenLifetime:          12 * time.Hour,
		FailedAttemptThreshold: 5,
		FailedAttemptWindow:    15 * time.Minute,
		BlockDuration:          time.Hour,
		RateLimits:             DefaultClassLimits(),
	}
}

// ConfigFromEnv creates a configuration from environment variables.
// Invalid values are logged and fall back to defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv(EnvPort); v != "" {
		cfg.Port = v
	}
	cfg.DatabaseURL = os.Getenv(EnvDatabaseURL)
	if v := os.Getenv(EnvRedisURL); v != "" {
		cfg.RedisURL = v
	}
	cfg.JWTSecret = os.Getenv(EnvJWTSecret)
	cfg.JWTSecretARN = os.Getenv(EnvJWTSecretARN)

	if v := os.Getenv(EnvTokenLifetime); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.TokenLifetime = d
		} else {
			log.Printf("WARNING: Invalid %s=%q, using default %s", EnvTokenLifetime, v, cfg.TokenLifetime)
		}
	}

	if v := os.Getenv(EnvFailedAttemptThreshold); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.FailedAttemptThreshold = n
		} else {
			log.Printf("WARNING: Invalid %s=%q, using default %d", EnvFailedAttemptThreshold, v, cfg.FailedAttemptThreshold)
		}
	}

	if v := os.Getenv(EnvFailedAttemptWindow); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.FailedAttemptWindow = d
		} else {
			log.Printf("WARNING: Invalid %s=%q, using default %s", EnvFailedAttemptWindow, v, cfg.FailedAttemptWindow)
		}
	}

	if v := os.Getenv(EnvBlockDuration); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.BlockDuration = d
		} else {
			log.Printf("WARNING: Invalid %s=%q, using default %s", EnvBlockDuration, v, cfg.BlockDuration)
		}
	}

	if path := os.Getenv(EnvRateLimitsFile); path != "" {
		limits, err := LoadRateLimitsFile(path)
		if err != nil {
			log.Printf("WARNING: Failed to load %s: %v, using defaults", path, err)
		} else {
			cfg.RateLimits = limits
		}
	}

	return cfg
}

// rateLimitsFile is the YAML shape of the rate-limits override file:
//
//	classes:
//	  auth:
//	    requests: 10
//	    window: 1m
type rateLimitsFile struct {
	Classes map[string]struct {
		Requests int    `yaml:"requests"`
		Window   string `yaml:"window"`
	} `yaml:"classes"`
}

// LoadRateLimitsFile reads per-class ceilings from a YAML file. Classes not
// present in the file keep their defaults.
func LoadRateLimitsFile(path string) (map[RateClass]ClassLimit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limits file: %w", err)
	}

	var file rateLimitsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rate limits file: %w", err)
	}

	limits := DefaultClassLimits()
	for name, entry := range file.Classes {
		window, err := time.ParseDuration(entry.Window)
		if err != nil || window <= 0 {
			return nil, fmt.Errorf("invalid window %q for class %q", entry.Window, name)
		}
		if entry.Requests <= 0 {
			return nil, fmt.Errorf("invalid request ceiling %d for class %q", entry.Requests, name)
		}
		limits[RateClass(name)] = ClassLimit{Requests: entry.Requests, Window: window}
	}

	return limits, nil
}

// Validate checks that the configuration can actually run a pipeline.
func (c Config) Validate() error {
	if c.JWTSecret == "" && c.JWTSecretARN == "" {
		return fmt.Errorf("either %s or %s must be set", EnvJWTSecret, EnvJWTSecretARN)
	}
	if c.FailedAttemptThreshold <= 0 {
		return fmt.Errorf("failed attempt threshold must be positive")
	}
	if c.BlockDuration <= 0 {
		return fmt.Errorf("block duration must be positive, blocks always expire")
	}
	return nil
}
