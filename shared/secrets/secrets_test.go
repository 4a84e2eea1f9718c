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

package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigningSecretFromSource(t *testing.T) {
	src := NewStaticSource()
	src.SetSecret("arn:aws:secretsmanager:us-east-1:123456789012:secret:signing", map[string]string{
		"value": "from-source",
	})

	secret, err := SigningSecret(context.Background(), src, "arn:aws:secretsmanager:us-east-1:123456789012:secret:signing")

	require.NoError(t, err)
	assert.Equal(t, "from-source", secret)
}

func TestSigningSecretAcceptsSecretKey(t *testing.T) {
	src := NewStaticSource()
	src.SetSecret("arn", map[string]string{"secret": "aliased"})

	secret, err := SigningSecret(context.Background(), src, "arn")

	require.NoError(t, err)
	assert.Equal(t, "aliased", secret)
}

func TestSigningSecretMissingKeys(t *testing.T) {
	src := NewStaticSource()
	src.SetSecret("arn", map[string]string{"username": "not-a-secret"})

	_, err := SigningSecret(context.Background(), src, "arn")

	assert.Error(t, err)
}

func TestSigningSecretEnvFallback(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")

	secret, err := SigningSecret(context.Background(), nil, "")

	require.NoError(t, err)
	assert.Equal(t, "from-env", secret)
}

func TestSigningSecretNoSourceNoEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := SigningSecret(context.Background(), nil, "")

	assert.Error(t, err)
}

func TestEnvSource(t *testing.T) {
	t.Setenv("SIGNING_SECRET", "abc")
	t.Setenv("SIGNING_ALGORITHM", "HS256")

	src := NewEnvSource()
	values, err := src.GetSecret(context.Background(), "SIGNING")

	require.NoError(t, err)
	assert.Equal(t, "abc", values["secret"])
	assert.Equal(t, "HS256", values["algorithm"])
}

func TestEnvSourceNoValues(t *testing.T) {
	src := NewEnvSource()

	_, err := src.GetSecret(context.Background(), "DEFINITELY_UNSET_PREFIX")

	assert.Error(t, err)
}

func TestMaskARN(t *testing.T) {
	assert.Equal(t, "***", maskARN("short"))
	assert.Equal(t, "...g-secret", maskARN("arn:aws:secretsmanager:us-east-1:123456789012:secret:signing-secret"))
}
