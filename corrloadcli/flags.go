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

// Package corrloadcli wires the CLI flags of spec.md §6 to an
// engine.Config, the way bincommon/commonflags.go wires fortio's own
// flags to fhttp.HTTPOptions/periodic.RunnerOptions.
package corrloadcli // import "corrload.dev/corrload/corrloadcli"

import (
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"fortio.org/dflag"
	"fortio.org/log"

	"corrload.dev/corrload/config"
	"corrload.dev/corrload/engine"
	"corrload.dev/corrload/script"
)

// warmupTimeoutDefault lets CORRLOAD_WARMUP_TIMEOUT override the
// --warmup_timeout flag's default before it's registered, the
// env-seeded-default pattern config.New exists for (component N,
// SPEC_FULL.md §2). The env var must be read before warmupTimeoutFlag's
// initializer runs, so it happens here rather than in an init() func.
var warmupTimeoutDefault = newWarmupTimeoutDefault()

func newWarmupTimeoutDefault() config.Config[time.Duration] {
	d := config.New(0*time.Second,
		"Override the default WARMUP timeout (0 = spec default, connections*600000/350000 ms floored at 1s)")
	if v := os.Getenv("CORRLOAD_WARMUP_TIMEOUT"); v != "" {
		if err := d.Set(v); err != nil {
			log.Warnf("invalid CORRLOAD_WARMUP_TIMEOUT=%q: %v", v, err)
		}
	}
	return d
}

// -- repeatable -H header flag, same pattern as bincommon's headersFlagList.
type headerFlagList struct {
	values map[string]string
}

func (f *headerFlagList) String() string { return "" }

func (f *headerFlagList) Set(value string) error {
	k, v, ok := strings.Cut(value, ":")
	if !ok {
		return fmt.Errorf("invalid -H value %q, want key:value", value)
	}
	if f.values == nil {
		f.values = map[string]string{}
	}
	f.values[strings.TrimSpace(k)] = strings.TrimSpace(v)
	return nil
}

var (
	connectionsFlag  = flag.Int("c", 10, "Total number of `connections` to keep open across all threads")
	threadsFlag      = flag.Int("t", 2, "Number of worker `threads`")
	durationFlag     = flag.Duration("d", 10*time.Second, "Total run `duration`")
	scriptFlag       = flag.String("s", "", "`Path` to a script hook file (grol); default is a fixed GET request")
	headersFlags     headerFlagList
	timeoutFlag      = flag.Duration("T", 0, "Per-request `timeout`; 0 disables")
	rateFlag         = flag.Float64("R", 0, "Required: target aggregate requests/sec (`rate`)")
	latencyFlag      = flag.Bool("L", false, "Print corrected latency percentiles")
	uLatencyFlag     = flag.Bool("U", false, "Also print uncorrected latency percentiles (implies -L)")
	batchLatencyFlag = flag.Bool("B", false, "Record only the last response of each pipelined batch")
	warmupFlag       = flag.Bool("W", false, "Enable the WARMUP phase before measurement starts")
	localIPFlag      = flag.String("i", "", "Comma-separated `list` of bind-source addresses, round-robined across threads")
	insecureFlag     = flag.Bool("k", false, "Do not verify certs for https targets")

	// WarmupTimeout is a dynamic flag (fortio.org/dflag) so a long-running
	// operator process could retune it between runs without a restart,
	// the same rationale bincommon's ConnectionReuseRange dflag uses.
	warmupTimeoutFlag = dflag.Flag("warmup_timeout",
		dflag.New(warmupTimeoutDefault.Get(), warmupTimeoutDefault.Usage()))
)

func init() {
	flag.Var(&headersFlags, "H", "Additional request `header` (key:value); repeatable")
}

// BuildConfig assembles an engine.Config from the parsed flags and the
// single positional URL argument, after cli.Main() has already run
// flag.Parse() and validated the argument count (spec.md §6).
func BuildConfig(url string) (*engine.Config, error) {
	var hook script.Hook
	if *scriptFlag != "" {
		g, err := script.NewGrol(*scriptFlag, headersFlags.values)
		if err != nil {
			return nil, fmt.Errorf("loading -s script: %w", err)
		}
		hook = g
	} else {
		hook = script.NewFixed(headersFlags.values)
	}

	cfg := &engine.Config{
		URL:               url,
		Connections:       *connectionsFlag,
		Threads:           *threadsFlag,
		Duration:          *durationFlag,
		RequestsPerSecond: *rateFlag,
		Hook:              hook,
		Timeout:           *timeoutFlag,
		Latency:           *latencyFlag || *uLatencyFlag,
		ULatency:          *uLatencyFlag,
		BatchLatency:      *batchLatencyFlag,
		Warmup:            *warmupFlag,
		WarmupTimeout:     warmupTimeoutFlag.Get(),
	}
	if *localIPFlag != "" {
		for _, ip := range strings.Split(*localIPFlag, ",") {
			ip = strings.TrimSpace(ip)
			if ip != "" {
				cfg.LocalIPs = append(cfg.LocalIPs, ip)
			}
		}
	}
	if strings.HasPrefix(strings.ToLower(url), "https://") {
		cfg.TLSConfig = &tls.Config{InsecureSkipVerify: *insecureFlag} //nolint:gosec // -k is an explicit opt-in
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.LogVf("config: %+v", cfg)
	return cfg, nil
}
