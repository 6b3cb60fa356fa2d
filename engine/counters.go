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

// Counters holds one worker's scalar tallies (spec.md §6 "Per-worker
// counters reported" and §7's error taxonomy). It is only ever touched
// by the single goroutine running that worker's reactor loop -- no
// atomics needed, mirroring spec.md §5's single-mutator invariant.
type Counters struct {
	Complete int64
	Bytes    int64
	Requests int64

	Connect     int64
	Read        int64
	Write       int64
	Timeout     int64
	Status      int64
	Established int64
	Reconnect   int64
}

// Add folds other into c in place, used by the Aggregator to sum
// counters across workers (spec.md §4.9).
func (c *Counters) Add(other *Counters) {
	c.Complete += other.Complete
	c.Bytes += other.Bytes
	c.Requests += other.Requests
	c.Connect += other.Connect
	c.Read += other.Read
	c.Write += other.Write
	c.Timeout += other.Timeout
	c.Status += other.Status
	c.Established += other.Established
	c.Reconnect += other.Reconnect
}
