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

// Package clock is the monotonic microsecond time source every other
// component schedules against. All pacing/timeout math in this repo is
// done in microseconds; milliseconds only show up at the event loop's
// timer boundary.
package clock // import "corrload.dev/corrload/clock"

import "time"

// Source returns monotonic microseconds since an arbitrary epoch.
// Tests substitute a fake Source to drive the pacer/state machine
// deterministically without sleeping.
type Source interface {
	NowMicros() int64
}

// processStart is Real's epoch; time.Since measures from it with Go's
// monotonic clock reading, so wall-clock steps do not move Real.
var processStart = time.Now()

// Real is the Source backed by time.Since(processStart); the zero value
// is ready to use.
type Real struct{}

// NowMicros implements Source.
func (Real) NowMicros() int64 {
	return time.Since(processStart).Microseconds()
}

// MicrosToDuration converts a microsecond count to a time.Duration.
func MicrosToDuration(us int64) time.Duration {
	return time.Duration(us) * time.Microsecond
}

// DurationToMicros converts a time.Duration to microseconds, truncating.
func DurationToMicros(d time.Duration) int64 {
	return d.Microseconds()
}
