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
	"fmt"
	"sync"

	"fortio.org/log"

	"corrload.dev/corrload/clock"
)

// Run validates cfg, resolves the target once, spawns one Worker
// goroutine per thread, waits for them all to finish (deadline,
// forced stop, or fatal error) and returns the joined RunSummary
// (spec.md §2 data flow: "On shutdown, G merges into I").
//
// stop, if non-nil, is closed by the caller (e.g. on SIGINT) to end
// the run early; Run always returns once every worker has stopped.
func Run(cfg *Config, stop <-chan struct{}) (*RunSummary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clk := clock.Real{}
	u, err := cfg.Hook.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	addr, err := cfg.Hook.Resolve(u.Host, u.Port)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", u.Host, err)
	}

	barrier := NewBarrier(cfg.Threads)
	stopFlag := &StopFlag{}
	sampleStats := &SampleStats{}

	perWorker := cfg.ConnectionsPerWorker()
	workers := make([]*Worker, cfg.Threads)
	for i := 0; i < cfg.Threads; i++ {
		localAddr := cfg.LocalIPForWorker(i)
		w, err := NewWorker(i, cfg, cfg.Hook, addr, localAddr, perWorker[i], barrier, stopFlag, sampleStats, clk)
		if err != nil {
			return nil, fmt.Errorf("spawn worker %d: %w", i, err)
		}
		workers[i] = w
	}

	if stop != nil {
		go func() {
			<-stop
			log.Infof("stop requested, winding down run")
			stopFlag.Stop()
		}()
	}

	var wg sync.WaitGroup
	wg.Add(len(workers))
	for _, w := range workers {
		w := w
		go func() {
			defer wg.Done()
			w.Run()
		}()
	}
	wg.Wait()

	return Join(workers, sampleStats, clk.NowMicros()), nil
}
