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

package types

import "os"

// DeploymentMode represents how the control plane is deployed.
type DeploymentMode string

const (
	// DeploymentModeManaged is the hosted offering: signing material comes
	// from AWS Secrets Manager.
	DeploymentModeManaged DeploymentMode = "managed"
	// DeploymentModeSelfHosted runs inside the operator's own network;
	// secrets come from the environment.
	DeploymentModeSelfHosted DeploymentMode = "selfhosted"
)

// String returns the string representation of the DeploymentMode
func (m DeploymentMode) String() string {
	return string(m)
}

// IsValid returns true if the DeploymentMode is a valid known value
func (m DeploymentMode) IsValid() bool {
	switch m {
	case DeploymentModeManaged, DeploymentModeSelfHosted:
		return true
	default:
		return false
	}
}

// UsesManagedSecrets reports whether signing material should be resolved
// from the cloud secret store rather than the environment.
func (m DeploymentMode) UsesManagedSecrets() bool {
	return m == DeploymentModeManaged
}

// DeploymentModeFromEnv reads DEPLOYMENT_MODE, defaulting to self-hosted.
// An unknown value also falls back to self-hosted: the conservative mode
// that needs no cloud credentials.
func DeploymentModeFromEnv() DeploymentMode {
	mode := DeploymentMode(os.Getenv("DEPLOYMENT_MODE"))
	if !mode.IsValid() {
		return DeploymentModeSelfHosted
	}
	return mode
}
