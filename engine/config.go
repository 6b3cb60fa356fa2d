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

// Package engine is the concurrency core: the Connection state
// machine, the Worker event loop, the cross-worker barrier and the
// final Aggregator (spec.md §2 components F, G, H, I). It is the
// tightly-coupled heart of the system, grounded on wrk2's monolithic
// wrk.c (_examples/original_source/src/wrk.c) the way the smaller
// reactor/transport/pacer/histogram packages ground the pieces it
// composes.
package engine // import "corrload.dev/corrload/engine"

import (
	"crypto/tls"
	"fmt"
	"time"

	"corrload.dev/corrload/script"
)

// Config is the fully-resolved, validated set of knobs one run is
// driven by -- the parsed and checked form of the CLI flags in
// spec.md §6.
type Config struct {
	URL string

	Connections int
	Threads     int
	Duration    time.Duration

	RequestsPerSecond float64

	Hook script.Hook

	Timeout time.Duration

	Latency      bool
	ULatency     bool
	BatchLatency bool

	Warmup        bool
	WarmupTimeout time.Duration

	LocalIPs []string

	TLSConfig *tls.Config
}

// Validate checks the boundary behaviors spec.md §8 requires to fail
// fast with a usage error (exit 1 at the CLI boundary) rather than
// starting a broken run.
func (c *Config) Validate() error {
	if c.Connections < c.Threads {
		return fmt.Errorf("connections (%d) must be >= threads (%d)", c.Connections, c.Threads)
	}
	if c.Threads < 1 {
		return fmt.Errorf("threads must be >= 1")
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("--rate is required and must be > 0")
	}
	if c.Hook == nil {
		return fmt.Errorf("internal error: no script hook configured")
	}
	if c.Warmup && c.WarmupTimeout <= 0 {
		c.WarmupTimeout = DefaultWarmupTimeout(c.Connections)
	}
	return nil
}

// DefaultWarmupTimeout implements spec.md §4.7's default: floored at
// 1000ms, else connections*600_000/350_000 ms.
func DefaultWarmupTimeout(connections int) time.Duration {
	ms := connections * 600_000 / 350_000
	if ms < 1000 {
		ms = 1000
	}
	return time.Duration(ms) * time.Millisecond
}

// ConnectionsPerWorker splits Connections as evenly as possible across
// Threads workers, front-loading the remainder onto the first workers
// (matches wrk2's thread/connection split in wrk.c's main()).
func (c *Config) ConnectionsPerWorker() []int {
	base := c.Connections / c.Threads
	rem := c.Connections % c.Threads
	out := make([]int, c.Threads)
	for i := range out {
		out[i] = base
		if i < rem {
			out[i]++
		}
	}
	return out
}

// LocalIPForWorker implements the -i/--local_ip round-robin assignment
// of spec.md §6: worker i picks bind address i mod k.
func (c *Config) LocalIPForWorker(i int) string {
	if len(c.LocalIPs) == 0 {
		return ""
	}
	return c.LocalIPs[i%len(c.LocalIPs)]
}
