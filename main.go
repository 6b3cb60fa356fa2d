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

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"

	"fortio.org/cli"
	"fortio.org/log"
	"fortio.org/version"

	"corrload.dev/corrload/corrloadcli"
	"corrload.dev/corrload/engine"
)

func main() {
	cli.ProgramName = "corrload"
	cli.ArgsHelp = "url"
	cli.MinArgs = 1
	cli.MaxArgs = 1
	cli.Main()
	log.Infof("corrload %s starting", version.Short())

	cfg, err := corrloadcli.BuildConfig(flag.Arg(0))
	if err != nil {
		cli.ErrUsage("%v", err)
	}

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		close(stop)
	}()

	summary, err := engine.Run(cfg, stop)
	if err != nil {
		log.Fatalf("run failed: %v", err)
	}

	fmt.Printf("run %s complete: %d  errors(connect/read/write/timeout/status): %d/%d/%d/%d/%d  reconnects: %d\n",
		summary.RunID, summary.Counters.Complete,
		summary.Counters.Connect, summary.Counters.Read, summary.Counters.Write,
		summary.Counters.Timeout, summary.Counters.Status, summary.Counters.Reconnect)
	fmt.Printf("requests/sec: %.2f  bytes/sec: %.2f  runtime: %dus\n",
		summary.RequestsPerSec, summary.BytesPerSec, summary.RuntimeMicros)

	if cfg.Latency {
		percentiles := []float64{50, 75, 90, 99, 99.9, 99.99}
		corrected, uncorrected := summary.Percentiles(percentiles, cfg.ULatency)
		fmt.Println("corrected latency percentiles (us):")
		for _, p := range corrected {
			fmt.Printf("  p%-6.2f %d\n", p.Percentile, p.ValueMicros)
		}
		if cfg.ULatency {
			fmt.Println("uncorrected latency percentiles (us):")
			for _, p := range uncorrected {
				fmt.Printf("  p%-6.2f %d\n", p.Percentile, p.ValueMicros)
			}
		}
	}
}
