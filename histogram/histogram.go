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

// Package histogram wraps github.com/HdrHistogram/hdrhistogram-go into
// the pair of corrected/uncorrected latency recorders each Worker owns
// (spec.md §4.4, component D). The fixed range and precision
// (1µs..86_400_000_000µs, 3 significant digits) match wrk2's
// hdr_histogram configuration in
// _examples/original_source/src/wrk.h/wrk.c.
package histogram // import "corrload.dev/corrload/histogram"

import (
	"fmt"

	hdr "github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// MinValueMicros is the lowest recordable latency, 1 microsecond.
	MinValueMicros = 1
	// MaxValueMicros is the highest recordable latency, 24h in microseconds.
	MaxValueMicros = 86_400_000_000
	// SignificantFigures is the precision kept across the whole range.
	SignificantFigures = 3
)

// Pair is the two histograms a Worker owns: Corrected anchors expected
// latency to the scheduled send time; Uncorrected measures actual
// send-to-response latency and cannot reveal coordinated omission.
type Pair struct {
	Corrected   *hdr.Histogram
	Uncorrected *hdr.Histogram
}

// NewPair allocates a fresh Corrected/Uncorrected pair.
func NewPair() *Pair {
	return &Pair{
		Corrected:   newOne(),
		Uncorrected: newOne(),
	}
}

func newOne() *hdr.Histogram {
	return hdr.New(MinValueMicros, MaxValueMicros, SignificantFigures)
}

// Reset clears both histograms in place (used at calibration time,
// spec.md §4.7) without reallocating.
func (p *Pair) Reset() {
	p.Corrected.Reset()
	p.Uncorrected.Reset()
}

// RecordCorrected records a non-negative latency in microseconds.
// Negative inputs are a caller bug (spec.md invariant 8: any computed
// latency that would be negative must be recomputed upstream, never
// recorded) and are rejected rather than clamped silently.
func (p *Pair) RecordCorrected(latencyMicros int64) error {
	if latencyMicros < 0 {
		return fmt.Errorf("histogram: refusing to record negative corrected latency %dus", latencyMicros)
	}
	return p.Corrected.RecordValue(latencyMicros)
}

// RecordUncorrected records an actual send-to-response latency.
func (p *Pair) RecordUncorrected(latencyMicros int64) error {
	if latencyMicros < 0 {
		return fmt.Errorf("histogram: refusing to record negative uncorrected latency %dus", latencyMicros)
	}
	return p.Uncorrected.RecordValue(latencyMicros)
}

// Merge folds other's counts into p bucketwise, associatively and
// commutatively over workers (spec.md §8 property 5).
func (p *Pair) Merge(other *Pair) {
	p.Corrected.Merge(other.Corrected)
	p.Uncorrected.Merge(other.Uncorrected)
}

// PercentileSpectrum is one point of a rendered percentile curve.
type PercentileSpectrum struct {
	Percentile float64
	ValueMicros int64
}

// Percentiles evaluates h at each of the given percentiles (0-100).
func Percentiles(h *hdr.Histogram, percentiles []float64) []PercentileSpectrum {
	out := make([]PercentileSpectrum, 0, len(percentiles))
	for _, p := range percentiles {
		out = append(out, PercentileSpectrum{Percentile: p, ValueMicros: h.ValueAtPercentile(p)})
	}
	return out
}
