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

// Package secrets resolves sensitive configuration (the token signing secret,
// database credentials) from AWS Secrets Manager, with an environment
// fallback for development and self-hosted deployments.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Source retrieves a named secret as a key/value map.
type Source interface {
	GetSecret(ctx context.Context, name string) (map[string]string, error)
}

// AWSSource implements Source using AWS Secrets Manager
type AWSSource struct {
	client *secretsmanager.Client
	cache  map[string]*cacheEntry
	mu     sync.RWMutex
	ttl    time.Duration
	logger *log.Logger
}

type cacheEntry struct {
	value     map[string]string
	expiresAt time.Time
}

// AWSSourceOptions holds options for creating an AWSSource
type AWSSourceOptions struct {
	Region   string
	CacheTTL time.Duration
	Logger   *log.Logger
}

// NewAWSSource creates a new AWS Secrets Manager source
func NewAWSSource(ctx context.Context, opts AWSSourceOptions) (*AWSSource, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[SECRETS] ", log.LstdFlags)
	}

	cfgOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, config.WithRegion(opts.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &AWSSource{
		client: secretsmanager.NewFromConfig(cfg),
		cache:  make(map[string]*cacheEntry),
		ttl:    ttl,
		logger: logger,
	}, nil
}

// GetSecret retrieves a secret from AWS Secrets Manager.
// The secret value is expected to be a JSON object with string values;
// plain-string secrets are returned under the "value" key.
func (s *AWSSource) GetSecret(ctx context.Context, secretARN string) (map[string]string, error) {
	s.mu.RLock()
	entry, exists := s.cache[secretARN]
	s.mu.RUnlock()

	if exists && time.Now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	s.logger.Printf("Fetching secret %s from AWS Secrets Manager", maskARN(secretARN))

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", maskARN(secretARN), err)
	}

	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskARN(secretARN))
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &values); err != nil {
		// Single-value secrets (just the signing secret itself)
		values = map[string]string{"value": *result.SecretString}
	}

	s.mu.Lock()
	s.cache[secretARN] = &cacheEntry{
		value:     values,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()

	return values, nil
}

// Invalidate removes a secret from the cache
func (s *AWSSource) Invalidate(secretARN string) {
	s.mu.Lock()
	delete(s.cache, secretARN)
	s.mu.Unlock()
}

// maskARN masks the secret ARN for logging (shows only last 8 characters)
func maskARN(arn string) string {
	if len(arn) <= 12 {
		return "***"
	}
	return "..." + arn[len(arn)-8:]
}

// EnvSource implements Source using environment variables. The secret name
// is used as a variable prefix: name "SIGNING" reads SIGNING_SECRET,
// SIGNING_ALGORITHM, and so on.
type EnvSource struct{}

// NewEnvSource creates a source that reads from environment variables
func NewEnvSource() *EnvSource {
	return &EnvSource{}
}

// GetSecret retrieves credentials from environment variables
func (s *EnvSource) GetSecret(ctx context.Context, prefix string) (map[string]string, error) {
	fields := []string{
		"SECRET", "ALGORITHM", "USERNAME", "PASSWORD",
		"HOST", "PORT", "DATABASE", "API_KEY",
	}

	values := make(map[string]string)
	for _, field := range fields {
		if v := os.Getenv(prefix + "_" + field); v != "" {
			values[toKey(field)] = v
		}
	}

	if len(values) == 0 {
		return nil, fmt.Errorf("no secret values found for prefix %s", prefix)
	}
	return values, nil
}

func toKey(field string) string {
	switch field {
	case "SECRET":
		return "secret"
	case "ALGORITHM":
		return "algorithm"
	case "USERNAME":
		return "username"
	case "PASSWORD":
		return "password"
	case "HOST":
		return "host"
	case "PORT":
		return "port"
	case "DATABASE":
		return "database"
	case "API_KEY":
		return "api_key"
	default:
		return field
	}
}

// StaticSource is an in-memory Source for tests and local development.
type StaticSource struct {
	mu      sync.RWMutex
	secrets map[string]map[string]string
}

// NewStaticSource creates an empty static source
func NewStaticSource() *StaticSource {
	return &StaticSource{secrets: make(map[string]map[string]string)}
}

// GetSecret retrieves a secret from the static map
func (s *StaticSource) GetSecret(ctx context.Context, name string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.secrets[name]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("secret %s not found", name)
}

// SetSecret stores a secret (for testing/development)
func (s *StaticSource) SetSecret(name string, value map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
}

// SigningSecret resolves the token signing secret. When arn is non-empty the
// source is consulted (AWS in production); otherwise the env fallback applies.
func SigningSecret(ctx context.Context, src Source, arn string) (string, error) {
	if arn != "" && src != nil {
		values, err := src.GetSecret(ctx, arn)
		if err != nil {
			return "", err
		}
		if v, ok := values["value"]; ok && v != "" {
			return v, nil
		}
		if v, ok := values["secret"]; ok && v != "" {
			return v, nil
		}
		return "", fmt.Errorf("secret %s contains no signing secret", maskARN(arn))
	}

	if v := os.Getenv("JWT_SECRET"); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("JWT_SECRET not set and no secret ARN configured")
}
