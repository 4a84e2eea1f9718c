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

/*
Package controlplane provides the LoadGate control plane service: the
request admission and authorization gateway in front of cluster management.

# Overview

Every inbound request passes through the admission pipeline, in strict
order, each stage short-circuiting on failure:

 1. Block check: addresses with an active block record are denied before
    any other work.
 2. Rate limit: fixed-window ceilings per source address per route class
    (auth, write, apply, read, default).
 3. Payload repair: the agent heartbeat ingress repairs known malformations
    in near-valid JSON bodies before the parser runs.
 4. Identity resolution: user bearer tokens (HS256 sessions) or agent API
    keys, in strict or permissive mode per route.
 5. Permission resolution: a user's active roles expand into a
    resource/action matrix answering the route's declared requirement.
    Agents are pool scoped instead and never pass a role check.
 6. Handler invocation, then asynchronous activity recording on success.

Failed authentication attempts feed an abuse monitor: five failures from
one address within the tracking window escalates to a one-hour block. Both
counters and blocks live in Redis with finite TTLs, so no block from this
subsystem is ever permanent.

# Stores

The credential store (PostgreSQL) holds users, roles, role assignments, and
agent records. The counter/blocklist store (Redis) provides the atomic
increment-and-expire semantics the abuse monitor and rate limiter rely on;
the pipeline never implements its own locking.

# Denial semantics

401 for credential failures (missing, malformed, expired, bad signature,
unknown subject), 403 for blocked addresses and insufficient permissions,
429 with Retry-After for rate limits. Checks that protect the system fail
closed when their store is unreachable; activity recording fails open and
never denies a request.
*/
package controlplane
