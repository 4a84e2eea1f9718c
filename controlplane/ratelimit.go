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
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateClass is a named category of routes sharing one throughput ceiling.
type RateClass string

const (
	ClassAuth    RateClass = "auth"
	ClassWrite   RateClass = "write"
	ClassApply   RateClass = "apply"
	ClassRead    RateClass = "read"
	ClassDefault RateClass = "default"
)

// ClassLimit is the ceiling and refill window for one rate class.
type ClassLimit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// DefaultClassLimits are the externally overridable per-class ceilings.
func DefaultClassLimits() map[RateClass]ClassLimit {
	return map[RateClass]ClassLimit{
		ClassAuth:    {Requests: 10, Window: time.Minute},
		ClassWrite:   {Requests: 100, Window: time.Hour},
		ClassApply:   {Requests: 10, Window: time.Hour},
		ClassRead:    {Requests: 500, Window: time.Hour},
		ClassDefault: {Requests: 1000, Window: time.Hour},
	}
}

// RateLimiter applies fixed-window ceilings per source address per route
// class. Windows are enforced in Redis with atomic increment-and-expire so
// replicas share one counter; the limiter never implements its own locking.
type RateLimiter struct {
	rdb    *redis.Client
	limits map[RateClass]ClassLimit
}

// NewRateLimiter creates a limiter with the given per-class ceilings
func NewRateLimiter(rdb *redis.Client, limits map[RateClass]ClassLimit) *RateLimiter {
	if limits == nil {
		limits = DefaultClassLimits()
	}
	return &RateLimiter{rdb: rdb, limits: limits}
}

func rateLimitKey(class RateClass, addr string) string {
	return fmt.Sprintf("ratelimit:%s:%s", class, addr)
}

// Allow counts one request against the address's window for the class. When
// the ceiling is exceeded it returns a RateLimitError carrying the time
// until the window resets. Redis connectivity failure fails closed: a
// ceiling that cannot be evaluated denies.
func (l *RateLimiter) Allow(ctx context.Context, class RateClass, addr string) error {
	limit, ok := l.limits[class]
	if !ok {
		limit = l.limits[ClassDefault]
	}

	key := rateLimitKey(class, addr)

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("Warning: rate limit check unavailable for %s (%s): %v", addr, class, err)
		return &RateLimitError{Class: string(class), RetryAfter: limit.Window}
	}

	if count == 1 {
		if err := l.rdb.Expire(ctx, key, limit.Window).Err(); err != nil {
			log.Printf("Warning: failed to set rate window for %s (%s): %v", addr, class, err)
		}
	}

	if count > int64(limit.Requests) {
		retryAfter := limit.Window
		if ttl, err := l.rdb.TTL(ctx, key).Result(); err == nil && ttl > 0 {
			retryAfter = ttl
		}
		return &RateLimitError{Class: string(class), RetryAfter: retryAfter}
	}

	return nil
}
