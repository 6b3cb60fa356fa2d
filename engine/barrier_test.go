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
)

func TestBarrierReadyOnceAllThreadsEstablished(t *testing.T) {
	b := NewBarrier(3)
	assert.False(t, b.IsReady())
	b.MarkEstablished()
	b.MarkEstablished()
	assert.False(t, b.IsReady())
	b.MarkEstablished()
	assert.True(t, b.IsReady())
}

func TestStopFlag(t *testing.T) {
	s := &StopFlag{}
	assert.False(t, s.Stopped())
	s.Stop()
	assert.True(t, s.Stopped())
}

func TestCountersAdd(t *testing.T) {
	a := &Counters{Complete: 1, Bytes: 10}
	b := &Counters{Complete: 2, Bytes: 20, Reconnect: 1}
	a.Add(b)
	assert.Equal(t, int64(3), a.Complete)
	assert.Equal(t, int64(30), a.Bytes)
	assert.Equal(t, int64(1), a.Reconnect)
}
