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

// Package main is the entry point for the LoadGate control plane service.
//
// The control plane authenticates and authorizes every inbound request
// before it reaches cluster management logic: IP blocking, per-class rate
// limiting, user and agent credential verification, role-based permission
// resolution, and heartbeat payload repair.
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	DATABASE_URL - PostgreSQL connection string
//	REDIS_URL - Redis connection string for counters and blocks
//	JWT_SECRET - Secret for session token validation
//	JWT_SECRET_ARN - AWS Secrets Manager ARN for the signing secret
package main

import (
	"log"

	"github.com/joho/godotenv"

	"loadgate/platform/controlplane"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	controlplane.Run()
}
