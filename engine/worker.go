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
	"time"

	"fortio.org/log"
	"golang.org/x/sys/unix"

	"corrload.dev/corrload/clock"
	"corrload.dev/corrload/histogram"
	"corrload.dev/corrload/pacer"
	"corrload.dev/corrload/reactor"
	"corrload.dev/corrload/script"
	"corrload.dev/corrload/transport"
)

// phase is the Worker's INIT -> WARMUP|NORMAL -> NORMAL state (spec.md
// §4.7); transitions are monotonically non-decreasing (invariant 7).
type phase int

const (
	phaseInit phase = iota
	phaseWarmup
	phaseNormal
)

const (
	calibrateDelay      = 10 * time.Second
	threadSyncInterval  = 1 * time.Second
	stopCheckInterval   = 2 * time.Second
)

// SampleStats is the shared, mutex-guarded periodic requests/sec
// series every worker appends to at calibration interval (spec.md §4.7
// Calibration, §5 "sample-stats container").
type SampleStats struct {
	mu      sync.Mutex
	samples []float64
}

// Append records one interval's requests/sec.
func (s *SampleStats) Append(v float64) {
	s.mu.Lock()
	s.samples = append(s.samples, v)
	s.mu.Unlock()
}

// Snapshot returns a copy of the samples recorded so far.
func (s *SampleStats) Snapshot() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.samples))
	copy(out, s.samples)
	return out
}

// Worker owns one event loop and a fixed array of connections (spec.md
// §3, component G). It is the direct analogue of wrk2's per-thread
// struct thread in wrk.c.
type Worker struct {
	id     int
	config *Config
	hook   script.Hook
	clk    clock.Source

	loop        *reactor.Loop
	connections []*Connection

	phase            phase
	start            int64 // clock micros at worker creation
	stopAt           int64
	phaseNormalStart int64

	counters   Counters
	histograms *histogram.Pair

	rate pacer.Rate

	barrier               *Barrier
	stopFlag              *StopFlag
	establishedAllOnce    sync.Once
	sampleStats           *SampleStats
	lastSampleComplete    int64
	calibrated            bool

	addr      script.Addr
	localAddr string

	staticReqOnce sync.Once
	staticReqBuf  []byte
	staticReqErr  error
}

// NewWorker creates a Worker with connCount connections targeting the
// already-resolved addr, none of them connected yet.
func NewWorker(id int, config *Config, hook script.Hook, addr script.Addr, localAddr string,
	connCount int, barrier *Barrier, stopFlag *StopFlag, sampleStats *SampleStats, clk clock.Source,
) (*Worker, error) {
	loop, err := reactor.New(10 + 3*connCount)
	if err != nil {
		return nil, fmt.Errorf("worker %d: reactor: %w", id, err)
	}
	now := clk.NowMicros()
	w := &Worker{
		id:          id,
		config:      config,
		hook:        hook,
		clk:         clk,
		loop:        loop,
		start:       now,
		stopAt:      now + clock.DurationToMicros(config.Duration),
		histograms:  histogram.NewPair(),
		rate:        pacer.NewRate(config.RequestsPerSecond / float64(config.Threads)),
		barrier:     barrier,
		stopFlag:    stopFlag,
		sampleStats: sampleStats,
		addr:        addr,
		localAddr:   localAddr,
	}
	w.connections = make([]*Connection, connCount)
	for i := range w.connections {
		w.connections[i] = newConnection(w, i)
	}
	return w, nil
}

func (w *Worker) clockNow() int64 { return w.clk.NowMicros() }

// staticRequest lazily renders the one shared request buffer used by
// every connection when the Hook reports IsStatic (spec.md §9
// "Ownership of the request buffer").
func (w *Worker) staticRequest() ([]byte, error) {
	w.staticReqOnce.Do(func() {
		w.staticReqBuf, w.staticReqErr = w.hook.Request()
	})
	return w.staticReqBuf, w.staticReqErr
}

// dial builds a fresh Transport (plain TCP or TLS, per config) for one
// connection attempt.
func (w *Worker) dial() (transport.Transport, error) {
	if w.config.TLSConfig != nil {
		cfg := w.config.TLSConfig.Clone()
		return transport.NewTLS("tcp", w.addr.Address, cfg)
	}
	sa, err := sockaddrFromHostPort(w.addr.Address)
	if err != nil {
		return nil, err
	}
	var localSA unix.Sockaddr
	if w.localAddr != "" {
		localSA, err = sockaddrFromHostPort(w.localAddr + ":0")
		if err != nil {
			log.Warnf("worker %d: bad local_ip %q: %v", w.id, w.localAddr, err)
			localSA = nil
		}
	}
	return transport.NewTCP(sa, localSA)
}

// onConnectionEstablished fires the cross-worker barrier exactly once
// per worker, the moment every one of its connections is up (spec.md
// §4.8).
func (w *Worker) onConnectionEstablished() {
	if w.counters.Established < int64(len(w.connections)) {
		return
	}
	w.establishedAllOnce.Do(func() {
		w.barrier.MarkEstablished()
	})
}

// Run drives the worker to completion: INIT, optional WARMUP, NORMAL,
// until the stop flag or deadline fires (spec.md §4.7).
func (w *Worker) Run() {
	w.armCheckStop()
	if w.config.Warmup {
		w.phase = phaseWarmup
		w.armWarmupTimeout()
		w.armThreadSync()
	} else {
		w.phase = phaseNormal
		w.phaseNormalStart = w.clockNow()
		w.armCalibration()
	}
	for _, c := range w.connections {
		c.arm()
	}
	w.loop.Run()
	for _, c := range w.connections {
		c.Close()
	}
	_ = w.loop.Close()
}

func (w *Worker) armWarmupTimeout() {
	w.loop.CreateTimeEvent(w.config.WarmupTimeout, func() (time.Duration, bool) {
		if w.phase == phaseWarmup {
			w.toNormal()
		}
		return 0, false
	})
}

func (w *Worker) armThreadSync() {
	w.loop.CreateTimeEvent(threadSyncInterval, func() (time.Duration, bool) {
		if w.phase != phaseWarmup {
			return 0, false
		}
		if w.barrier.IsReady() {
			w.toNormal()
			return 0, false
		}
		return threadSyncInterval, true
	})
}

func (w *Worker) toNormal() {
	if w.phase == phaseNormal {
		return
	}
	w.phase = phaseNormal
	w.phaseNormalStart = w.clockNow()
	for _, c := range w.connections {
		c.release()
	}
	w.armCalibration()
}

func (w *Worker) armCalibration() {
	w.loop.CreateTimeEvent(calibrateDelay, func() (time.Duration, bool) {
		w.calibrate()
		return 0, false
	})
}

// calibrate implements spec.md §4.7's one-shot calibration: derive the
// sampling interval from the current P90 latency, then reset the
// histograms so steady-state latency measurement starts clean.
//
// w.counters.Complete must NOT be reset here: it is the pacer's
// completion gate (Decide/CorrectedLatency read it every send and
// completion), anchored to the per-connection pacer.State.ThreadStart
// set once in enterReady. Zeroing it would make every connection's
// ExpectedNextStart fall calibrateDelay seconds in the past, so Decide
// would see every connection as behind schedule and burst at the
// catch-up rate until Complete climbed back -- breaking the run's rate
// law for the rest of the run. wrk2's own calibrate resets histograms
// and its sampling counter but never thread->complete; only the
// dedicated sampling baseline is reset here, matching that.
func (w *Worker) calibrate() {
	p90 := w.histograms.Corrected.ValueAtPercentile(90)
	intervalMs := p90 * 2 / 1000
	if intervalMs < 10 {
		intervalMs = 10
	}
	w.histograms.Reset()
	w.lastSampleComplete = w.counters.Complete
	w.calibrated = true
	interval := time.Duration(intervalMs) * time.Millisecond
	w.loop.CreateTimeEvent(interval, func() (time.Duration, bool) {
		w.sampleRate(interval)
		return interval, true
	})
}

func (w *Worker) sampleRate(interval time.Duration) {
	delta := w.counters.Complete - w.lastSampleComplete
	w.lastSampleComplete = w.counters.Complete
	rate := float64(delta) / interval.Seconds()
	w.sampleStats.Append(rate)
}

func (w *Worker) armCheckStop() {
	w.loop.CreateTimeEvent(stopCheckInterval, func() (time.Duration, bool) {
		if w.stopFlag.Stopped() || w.clockNow() >= w.stopAt {
			w.loop.Stop()
			return 0, false
		}
		return stopCheckInterval, true
	})
}
