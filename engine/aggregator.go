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
	"github.com/google/uuid"

	"corrload.dev/corrload/histogram"
)

// RunSummary is the final, joined result of a run (spec.md §4.9,
// component I).
type RunSummary struct {
	// RunID identifies this run in logs, the same correlation role
	// fhttp.FastClient.generateUUID's per-connection ID plays for a
	// single request, applied here at run granularity instead.
	RunID string

	Counters Counters

	Histograms *histogram.Pair

	RuntimeMicros int64
	RequestsPerSec float64
	BytesPerSec    float64

	SampleStats []float64
}

// Join implements the Aggregator: merges every worker's histograms and
// counters, and picks the earliest observed phase_normal_start as the
// measurement window's start (spec.md §4.9 steps 1-3).
func Join(workers []*Worker, sampleStats *SampleStats, now int64) *RunSummary {
	sum := &RunSummary{RunID: uuid.New().String(), Histograms: histogram.NewPair()}
	var start int64
	haveNormalStart := false
	for _, w := range workers {
		sum.Counters.Add(&w.counters)
		sum.Histograms.Merge(w.histograms)
		if w.phaseNormalStart != 0 {
			if !haveNormalStart || w.phaseNormalStart < start {
				start = w.phaseNormalStart
			}
			haveNormalStart = true
		}
	}
	if !haveNormalStart && len(workers) > 0 {
		start = workers[0].start
	}
	runtime := now - start
	if runtime <= 0 {
		runtime = 1
	}
	sum.RuntimeMicros = runtime
	seconds := float64(runtime) / 1e6
	sum.RequestsPerSec = float64(sum.Counters.Complete) / seconds
	sum.BytesPerSec = float64(sum.Counters.Bytes) / seconds
	if sampleStats != nil {
		sum.SampleStats = sampleStats.Snapshot()
	}
	return sum
}

// Percentiles renders the corrected (and, if uncorrected is true, also
// the uncorrected) latency spectrum at the given percentiles.
func (r *RunSummary) Percentiles(percentiles []float64, uncorrected bool) (corrected, unc []histogram.PercentileSpectrum) {
	corrected = histogram.Percentiles(r.Histograms.Corrected, percentiles)
	if uncorrected {
		unc = histogram.Percentiles(r.Histograms.Uncorrected, percentiles)
	}
	return corrected, unc
}
