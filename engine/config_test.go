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

package engine

import (
	"testing"

	"fortio.org/assert"

	"corrload.dev/corrload/script"
)

func TestValidateConnectionsLessThanThreads(t *testing.T) {
	c := &Config{Connections: 2, Threads: 4, RequestsPerSecond: 100, Hook: script.NewFixed(nil)}
	err := c.Validate()
	assert.True(t, err != nil)
}

func TestValidateMissingRate(t *testing.T) {
	c := &Config{Connections: 4, Threads: 4, Hook: script.NewFixed(nil)}
	err := c.Validate()
	assert.True(t, err != nil)
}

func TestValidateOK(t *testing.T) {
	c := &Config{Connections: 4, Threads: 2, RequestsPerSecond: 100, Hook: script.NewFixed(nil)}
	assert.NoError(t, c.Validate())
}

func TestDefaultWarmupTimeoutFloor(t *testing.T) {
	assert.Equal(t, int64(1000), DefaultWarmupTimeout(1).Milliseconds())
}

func TestDefaultWarmupTimeoutScales(t *testing.T) {
	got := DefaultWarmupTimeout(1000).Milliseconds()
	assert.Equal(t, int64(1000*600_000/350_000), got)
}

func TestConnectionsPerWorkerSplit(t *testing.T) {
	c := &Config{Connections: 10, Threads: 3}
	got := c.ConnectionsPerWorker()
	sum := 0
	for _, n := range got {
		sum += n
	}
	assert.Equal(t, 10, sum)
	assert.Equal(t, 3, len(got))
}

func TestLocalIPRoundRobin(t *testing.T) {
	c := &Config{LocalIPs: []string{"1.1.1.1", "2.2.2.2"}}
	assert.Equal(t, "1.1.1.1", c.LocalIPForWorker(0))
	assert.Equal(t, "2.2.2.2", c.LocalIPForWorker(1))
	assert.Equal(t, "1.1.1.1", c.LocalIPForWorker(2))
}
