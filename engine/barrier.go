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

import "sync/atomic"

// Barrier is the process-wide soft synchronization point that makes
// all workers leave WARMUP approximately together (spec.md §4.8,
// component H). Besides it, the only cross-worker mutable state is the
// global stop flag and the mutex-guarded SampleStats (spec.md §5).
type Barrier struct {
	threads      int64
	readyThreads int64
	isReady      int32
}

// NewBarrier creates a Barrier for the given number of workers.
func NewBarrier(threads int) *Barrier {
	return &Barrier{threads: int64(threads)}
}

// MarkEstablished is called exactly once per worker, the moment its
// errors.established count reaches its connection count. It atomically
// increments the ready count and flips IsReady once every worker has
// reported in.
func (b *Barrier) MarkEstablished() {
	n := atomic.AddInt64(&b.readyThreads, 1)
	if n >= b.threads {
		atomic.StoreInt32(&b.isReady, 1)
	}
}

// IsReady reports whether every worker has established all of its
// connections. Polled by each worker's THREAD_SYNC_INTERVAL_MS timer.
func (b *Barrier) IsReady() bool {
	return atomic.LoadInt32(&b.isReady) != 0
}

// StopFlag is the process-wide signal-set, only-read-by-loops flag
// (spec.md §5) set by SIGINT or by any worker's check_stop timer
// observing now >= stop_at.
type StopFlag struct {
	stopped int32
}

// Stop sets the flag; safe to call from a signal handler.
func (s *StopFlag) Stop() { atomic.StoreInt32(&s.stopped, 1) }

// Stopped reports whether Stop has been called.
func (s *StopFlag) Stopped() bool { return atomic.LoadInt32(&s.stopped) != 0 }
