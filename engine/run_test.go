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
	"testing"
	"time"

	"fortio.org/assert"

	"corrload.dev/corrload/internal/testserver"
	"corrload.dev/corrload/script"
)

func TestRunSteadyStateAgainstEchoServer(t *testing.T) {
	srv, err := testserver.New()
	assert.NoError(t, err)
	defer srv.Close()

	cfg := &Config{
		URL:               fmt.Sprintf("http://%s/", srv.Addr()),
		Connections:       4,
		Threads:           2,
		Duration:          300 * time.Millisecond,
		RequestsPerSecond: 50,
		Hook:              script.NewFixed(nil),
		Latency:           true,
	}
	summary, err := Run(cfg, nil)
	assert.NoError(t, err)
	assert.True(t, summary.Counters.Complete > 0)
	assert.Equal(t, int64(0), summary.Counters.Status)
}

func TestRunReconnectsAfterForcedClose(t *testing.T) {
	srv, err := testserver.New()
	assert.NoError(t, err)
	srv.CloseAfterReply = true
	defer srv.Close()

	cfg := &Config{
		URL:               fmt.Sprintf("http://%s/", srv.Addr()),
		Connections:       2,
		Threads:           1,
		Duration:          300 * time.Millisecond,
		RequestsPerSecond: 20,
		Hook:              script.NewFixed(nil),
	}
	summary, err := Run(cfg, nil)
	assert.NoError(t, err)
	assert.True(t, summary.Counters.Complete > 0)
	assert.True(t, summary.Counters.Reconnect > 0)
}

func TestRunStopChannelEndsRunEarly(t *testing.T) {
	srv, err := testserver.New()
	assert.NoError(t, err)
	defer srv.Close()

	cfg := &Config{
		URL:               fmt.Sprintf("http://%s/", srv.Addr()),
		Connections:       2,
		Threads:           1,
		Duration:          5 * time.Second,
		RequestsPerSecond: 20,
		Hook:              script.NewFixed(nil),
	}
	stop := make(chan struct{})
	start := time.Now()
	go func() {
		time.Sleep(150 * time.Millisecond)
		close(stop)
	}()
	_, err = Run(cfg, stop)
	assert.NoError(t, err)
	// The stop flag is only observed on armCheckStop's stopCheckInterval
	// poll, not the instant it's set, so the run can take up to roughly
	// one more interval to wind down; allow comfortable margin above
	// that instead of asserting near the boundary.
	assert.True(t, time.Since(start) < stopCheckInterval+1*time.Second)
}
