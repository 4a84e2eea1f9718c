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
Package logger provides structured JSON logging for LoadGate components.

# Overview

The logger outputs one JSON object per line to stdout, making logs easily
consumable by CloudWatch, ELK, or other log aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (controlplane, activity, etc.)
  - Instance ID and container name (for distributed tracing)
  - Actor (user or agent id, when known)
  - Request ID (for request correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("controlplane")

Log messages with actor and request context:

	log.Info("user-42", "req-456", "cluster created", map[string]interface{}{
	    "method": "POST",
	    "path":   "/api/clusters",
	})

Admission denials have a dedicated helper that records the source address,
route, and reason without ever touching the presented credential:

	log.Denial("203.0.113.9", "/api/clusters", "insufficient permission", reqID)

# Environment Variables

The logger reads these environment variables:

  - INSTANCE_ID: Deployment instance identifier
  - HOSTNAME: Container hostname (auto-detected)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
