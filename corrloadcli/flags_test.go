// Copyright 2017 Fortio Authors
//
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

package corrloadcli

import (
	"testing"

	"fortio.org/assert"
)

func TestHeaderFlagListParsesKeyValue(t *testing.T) {
	var h headerFlagList
	assert.NoError(t, h.Set("X-Test: 1"))
	assert.Equal(t, "1", h.values["X-Test"])
}

func TestHeaderFlagListRejectsMissingColon(t *testing.T) {
	var h headerFlagList
	assert.True(t, h.Set("not-a-header") != nil)
}

func TestBuildConfigRequiresRate(t *testing.T) {
	// The -R flag isn't set by the test binary's own args, so BuildConfig
	// must surface Config.Validate's "rate is required" error rather
	// than silently starting a zero-rate run.
	_, err := BuildConfig("http://example.invalid/")
	assert.True(t, err != nil)
}
