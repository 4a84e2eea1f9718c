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

import "testing"

func TestDeploymentModeIsValid(t *testing.T) {
	tests := []struct {
		mode  DeploymentMode
		valid bool
	}{
		{DeploymentModeManaged, true},
		{DeploymentModeSelfHosted, true},
		{DeploymentMode("cloud"), false},
		{DeploymentMode(""), false},
	}

	for _, tt := range tests {
		if got := tt.mode.IsValid(); got != tt.valid {
			t.Errorf("IsValid(%q) = %v, want %v", tt.mode, got, tt.valid)
		}
	}
}

func TestDeploymentModeFromEnv(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want DeploymentMode
	}{
		{name: "managed", env: "managed", want: DeploymentModeManaged},
		{name: "selfhosted", env: "selfhosted", want: DeploymentModeSelfHosted},
		{name: "unset defaults to selfhosted", env: "", want: DeploymentModeSelfHosted},
		{name: "unknown defaults to selfhosted", env: "onprem", want: DeploymentModeSelfHosted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DEPLOYMENT_MODE", tt.env)
			if got := DeploymentModeFromEnv(); got != tt.want {
				t.Errorf("DeploymentModeFromEnv() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUsesManagedSecrets(t *testing.T) {
	if !DeploymentModeManaged.UsesManagedSecrets() {
		t.Error("managed mode should use managed secrets")
	}
	if DeploymentModeSelfHosted.UsesManagedSecrets() {
		t.Error("self-hosted mode should not use managed secrets")
	}
}
