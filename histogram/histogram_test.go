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

package histogram

import (
	"testing"

	"fortio.org/assert"
)

func TestRecordAndPercentile(t *testing.T) {
	p := NewPair()
	for _, v := range []int64{100, 200, 300, 400, 500} {
		assert.NoError(t, p.RecordCorrected(v))
	}
	specs := Percentiles(p.Corrected, []float64{50})
	assert.Equal(t, 1, len(specs))
	assert.True(t, specs[0].ValueMicros >= 200 && specs[0].ValueMicros <= 400)
}

func TestRecordNegativeRejected(t *testing.T) {
	p := NewPair()
	err := p.RecordCorrected(-1)
	assert.Error(t, err)
}

func TestMergeIsAdditive(t *testing.T) {
	a := NewPair()
	b := NewPair()
	assert.NoError(t, a.RecordCorrected(1000))
	assert.NoError(t, b.RecordCorrected(2000))
	a.Merge(b)
	assert.Equal(t, int64(2), a.Corrected.TotalCount())
}

func TestReset(t *testing.T) {
	p := NewPair()
	assert.NoError(t, p.RecordCorrected(500))
	p.Reset()
	assert.Equal(t, int64(0), p.Corrected.TotalCount())
}
