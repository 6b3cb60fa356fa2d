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

package pacer

import (
	"testing"

	"fortio.org/assert"
)

func TestExpectedNextStartMonotonicWithNoCompletions(t *testing.T) {
	s := NewState(NewRate(1000), 0)
	first := s.ExpectedNextStart(10)
	second := s.ExpectedNextStart(10)
	assert.Equal(t, first, second)
}

func TestExpectedNextStartIncrementsByOneOverRate(t *testing.T) {
	s := NewState(NewRate(1000), 0) // rho = 0.001 req/us -> 1/rho = 1000us
	a := s.ExpectedNextStart(5)
	b := s.ExpectedNextStart(6)
	assert.Equal(t, int64(1000), b-a)
}

func TestDecideWaitsWhenAheadOfSchedule(t *testing.T) {
	s := NewState(NewRate(1000), 0)
	d := s.Decide(0, 1) // tNext == 1000 > now
	assert.Equal(t, false, d.Send)
	assert.True(t, d.WaitMicros > 0)
	assert.True(t, s.CaughtUp)
}

func TestDecideSendsWhenOnSchedule(t *testing.T) {
	s := NewState(NewRate(1000), 0)
	d := s.Decide(1000, 0) // tNext == 0 <= now
	assert.True(t, d.Send)
}

func TestCatchUpBoundsBurstAfterStall(t *testing.T) {
	s := NewState(NewRate(1000), 0) // 1 req/ms, catch-up 2 req/ms
	// Simulate a long stall: far behind schedule at t=100_000us with 0 complete.
	d := s.Decide(100_000, 0)
	assert.True(t, d.Send) // first behind-schedule send always allowed
	assert.False(t, s.CaughtUp)
	snapshotStart := s.CatchUpStartTime
	snapshotComplete := s.CompleteAtCatchUpStart
	assert.Equal(t, int64(100_000), snapshotStart)
	assert.Equal(t, int64(0), snapshotComplete)

	// Immediately after, with complete=1, catch-up rate (2x) should allow
	// only roughly double-speed sends, not unlimited bursting.
	d2 := s.Decide(100_000, 1)
	if d2.Send {
		t.Fatalf("expected catch-up throughput to pace the second send, got immediate send")
	}
}

func TestCatchUpIdempotentUntilSendOrCaughtUp(t *testing.T) {
	s := NewState(NewRate(1000), 0)
	s.Decide(100_000, 0) // falls behind, caught_up -> false
	startTime := s.CatchUpStartTime
	startComplete := s.CompleteAtCatchUpStart
	// Calling Decide again while still behind must not reset the snapshot.
	s.Decide(100_500, 0)
	assert.Equal(t, startTime, s.CatchUpStartTime)
	assert.Equal(t, startComplete, s.CompleteAtCatchUpStart)
}

func TestCorrectedLatencyNonNegative(t *testing.T) {
	s := NewState(NewRate(1000), 0)
	s.BeginBatch(0, 0)
	lat, ok := s.CorrectedLatency(500, 1)
	assert.True(t, ok)
	assert.True(t, lat >= 0)
}

func TestCorrectedLatencyRecomputesOnNegative(t *testing.T) {
	s := NewState(NewRate(1000), 0)
	// Batch snapshot far in the future relative to now simulates the
	// invariant-broken case the spec calls out.
	s.CompleteAtLastBatchStart = 1000
	lat, ok := s.CorrectedLatency(10, 0)
	if ok {
		assert.True(t, lat >= 0)
	}
}
