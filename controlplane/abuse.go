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

// AbuseMonitor tracks failed authentication attempts per source address and
// escalates to a temporary block once the threshold is reached within the
// tracking window. Counters and blocks live in Redis so escalation state is
// shared across control plane replicas.
//
// Successful authentication does not clear a tracking counter; only window
// expiry does. That is a known hardening gap kept deliberately: clearing on
// success would let an attacker interleave valid credentials to reset the
// counter.
type AbuseMonitor struct {
	rdb       *redis.Client
	threshold int64
	window    time.Duration
	blockTTL  time.Duration
}

// NewAbuseMonitor creates a monitor with externally supplied thresholds
func NewAbuseMonitor(rdb *redis.Client, threshold int, window, blockTTL time.Duration) *AbuseMonitor {
	return &AbuseMonitor{
		rdb:       rdb,
		threshold: int64(threshold),
		window:    window,
		blockTTL:  blockTTL,
	}
}

func failedAttemptKey(addr string) string {
	return fmt.Sprintf("authfail:%s", addr)
}

func blockKey(addr string) string {
	return fmt.Sprintf("authblock:%s", addr)
}

// IsBlocked checks for an active block record for the address. It is the
// first per-request check and must never count as a failed attempt itself.
// Redis connectivity failure fails closed: a gate that cannot be evaluated
// denies rather than silently admitting.
func (m *AbuseMonitor) IsBlocked(ctx context.Context, addr string) (bool, error) {
	n, err := m.rdb.Exists(ctx, blockKey(addr)).Result()
	if err != nil {
		return true, fmt.Errorf("block check unavailable: %w", err)
	}
	return n > 0, nil
}

// TrackFailedAttempt increments the address's failure counter, starting the
// tracking window on the first failure. Reaching the threshold writes a
// block record with its own TTL; the block never depends on the counter's
// remaining lifetime.
func (m *AbuseMonitor) TrackFailedAttempt(ctx context.Context, addr string) {
	key := failedAttemptKey(addr)

	count, err := m.rdb.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("Warning: failed-attempt tracking unavailable for %s: %v", addr, err)
		return
	}

	// The window is fixed from the first failure; later increments must not
	// slide it.
	if count == 1 {
		if err := m.rdb.Expire(ctx, key, m.window).Err(); err != nil {
			log.Printf("Warning: failed to set tracking window for %s: %v", addr, err)
		}
	}

	if count < m.threshold {
		return
	}

	if err := m.rdb.Set(ctx, blockKey(addr), count, m.blockTTL).Err(); err != nil {
		log.Printf("Warning: failed to write block record for %s: %v", addr, err)
		return
	}
	log.Printf("Blocked %s for %s after %d failed authentication attempts", addr, m.blockTTL, count)
}

// FailureCount returns the current tracked failure count for an address.
// Used by admin tooling and tests; absence reads as zero.
func (m *AbuseMonitor) FailureCount(ctx context.Context, addr string) (int64, error) {
	n, err := m.rdb.Get(ctx, failedAttemptKey(addr)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read attempt counter: %w", err)
	}
	return n, nil
}
