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
	"bytes"
	"regexp"
	"unicode/utf8"
)

// The node agent's heartbeat client emits two classes of near-valid JSON:
// empty values (`"cpu": ,`) and trailing commas (`"mem": 10,}`). Both repairs
// work on the raw text because the body is not yet parseable. Repairs run to
// a fixed point: removing a trailing comma can expose a new empty value when
// the patterns nest, so a single pass is not sufficient.
var (
	emptyValuePattern    = regexp.MustCompile(`:\s*([,}\]])`)
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// maxSanitizePasses bounds the fixed-point loop. Each pass strictly shrinks
// or rewrites the body, so the bound is never reached on real payloads.
const maxSanitizePasses = 16

// sanitizeLogPrefix is the bounded prefix of the original body retained for
// diagnostic logging.
const sanitizeLogPrefix = 256

// SanitizeHeartbeatBody repairs the known malformations in heartbeat
// payloads. Well-formed bodies pass through byte-for-byte; bodies that are
// not valid UTF-8 text are returned untouched so the normal JSON parser
// reports the decoding error.
func SanitizeHeartbeatBody(body []byte) []byte {
	if len(body) == 0 || !utf8.Valid(body) {
		return body
	}

	out := body
	for i := 0; i < maxSanitizePasses; i++ {
		repaired := emptyValuePattern.ReplaceAll(out, []byte(": null$1"))
		repaired = trailingCommaPattern.ReplaceAll(repaired, []byte("$1"))
		if bytes.Equal(repaired, out) {
			return repaired
		}
		out = repaired
	}
	return out
}

// sanitizePreview returns a bounded prefix of the original body for
// diagnostic logging. Never used for anything but logs.
func sanitizePreview(body []byte) string {
	if len(body) <= sanitizeLogPrefix {
		return string(body)
	}
	return string(body[:sanitizeLogPrefix]) + "..."
}
