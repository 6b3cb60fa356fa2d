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

// Package pacer implements the per-connection "expected next send"
// scheduler with catch-up mode (spec.md §4.5, component E). It is the
// primary defense against coordinated omission: the primary schedule
// stays anchored to the true arrival process, so a stall is fully
// attributed to latency instead of being hidden by the client backing
// off its own send rate.
package pacer // import "corrload.dev/corrload/pacer"

import "fmt"

// Rate holds the primary and catch-up throughputs for one connection,
// expressed in requests per microsecond (ρ and ρ'=2ρ per spec.md).
type Rate struct {
	Primary float64
	CatchUp float64
}

// NewRate builds a Rate from a requests/sec target, deriving the
// catch-up throughput as 2x the primary the way wrk2 always does.
func NewRate(requestsPerSecond float64) Rate {
	primary := requestsPerSecond / 1e6
	return Rate{Primary: primary, CatchUp: 2 * primary}
}

// State is the mutable per-connection pacing state (fields named after
// spec.md §3's Connection pacing state, kept together here because the
// decision logic in §4.5 only ever touches these).
type State struct {
	Rate Rate

	ThreadStart int64 // t0: worker/connection start, microseconds

	CaughtUp               bool
	CatchUpStartTime       int64
	CompleteAtCatchUpStart int64

	CompleteAtLastBatchStart int64
	ActualLatencyStart       int64 // when the current batch's first byte was sent

	LatestShouldSendTime int64
	LatestExpectedStart  int64
}

// NewState creates pacing state anchored at threadStart with caught up
// true (matches a fresh connection: nothing is behind schedule yet).
func NewState(rate Rate, threadStart int64) *State {
	return &State{Rate: rate, ThreadStart: threadStart, CaughtUp: true}
}

// ExpectedNextStart computes T_next = t0 + complete/ρ (spec.md §4.5).
func (s *State) ExpectedNextStart(complete int64) int64 {
	if s.Rate.Primary <= 0 {
		return s.ThreadStart
	}
	return s.ThreadStart + int64(float64(complete)/s.Rate.Primary)
}

// Decision is the pacer's verdict for one Decide call.
type Decision struct {
	// Send is true if the connection should send a request now.
	Send bool
	// WaitMicros is the minimum time to wait before calling Decide
	// again, valid when Send is false.
	WaitMicros int64
}

// Decide implements the pacer decision table of spec.md §4.5 exactly:
// primary schedule first, catch-up throughput bounding the burst size
// of a connection that fell behind.
func (s *State) Decide(now int64, complete int64) Decision {
	tNext := s.ExpectedNextStart(complete)
	if tNext > now {
		s.CaughtUp = true
		return Decision{Send: false, WaitMicros: tNext - now}
	}
	if s.CaughtUp {
		s.CaughtUp = false
		s.CatchUpStartTime = now
		s.CompleteAtCatchUpStart = complete
	}
	tPrimeNext := s.catchUpNext(complete)
	if tPrimeNext > now {
		return Decision{Send: false, WaitMicros: tPrimeNext - now}
	}
	s.LatestShouldSendTime = now
	s.LatestExpectedStart = tNext
	return Decision{Send: true}
}

func (s *State) catchUpNext(complete int64) int64 {
	if s.Rate.CatchUp <= 0 {
		return s.CatchUpStartTime
	}
	delta := complete - s.CompleteAtCatchUpStart
	return s.CatchUpStartTime + int64(float64(delta)/s.Rate.CatchUp)
}

// BeginBatch records the bookkeeping a connection takes on the first
// byte of a new send (spec.md §4.5 Batch accounting).
func (s *State) BeginBatch(now int64, complete int64) {
	s.CompleteAtLastBatchStart = complete
	s.ActualLatencyStart = now
}

// CorrectedLatency computes the expected-start-anchored latency for a
// completed response. now is the completion time; complete is the
// current completion counter (post-increment, i.e. after this response
// is counted). Per spec.md §4.5: if the naive computation using the
// batch-start snapshot would be negative, recompute from the current
// completion count; a still-negative result means the invariants have
// been broken externally and must not be recorded (spec.md §9 Open
// Question, resolved as: do not record).
func (s *State) CorrectedLatency(now int64, complete int64) (latencyMicros int64, ok bool) {
	expectedStart := s.ThreadStart + int64(float64(s.CompleteAtLastBatchStart)/s.Rate.Primary)
	latency := now - expectedStart
	if latency >= 0 {
		return latency, true
	}
	expectedStart = s.ExpectedNextStart(complete)
	latency = now - expectedStart
	if latency >= 0 {
		return latency, true
	}
	return 0, false
}

// Validate returns an error describing the first broken invariant, for
// use in property tests and defensive assertions; it never mutates s.
func (s *State) Validate() error {
	if !s.CaughtUp && s.CatchUpStartTime == 0 {
		return fmt.Errorf("pacer: caught_up false but catch_up_start_time never set")
	}
	return nil
}
