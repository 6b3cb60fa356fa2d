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

package script

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"fortio.org/log"
	"grol.io/grol/eval"
	"grol.io/grol/repl"
)

// Grol adapts grol.io/grol -- the teacher's own embeddable scripting
// language (see grol/grol.go in the pack) -- as the non-trivial Hook
// implementation behind -s. The script file is expected to
// define request(), response(status, body), verify_request(),
// is_static() and want_response() top level functions; each call into
// Hook evaluates a one-line invocation against the loaded program
// state and reads back whatever that invocation printed, the same
// print-the-result idiom grol's own REPL uses (repl.Options{ShowEval:
// true} in grol/grol.go).
type Grol struct {
	state  *eval.State
	fixed  *Fixed // delegate for URL parsing / resolution, not script concerns
	opts   repl.Options
}

// NewGrol loads scriptPath and returns a ready Hook, or an error if the
// script fails to evaluate at load time.
func NewGrol(scriptPath string, headers map[string]string) (*Grol, error) {
	f, err := os.Open(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("open script %s: %w", scriptPath, err)
	}
	defer f.Close()
	st := eval.NewState()
	opts := repl.Options{ShowEval: false}
	var sink bytes.Buffer
	if errs := repl.EvalAll(st, f, &sink, opts); len(errs) > 0 {
		return nil, fmt.Errorf("loading script %s: %v", scriptPath, errs)
	}
	return &Grol{state: st, fixed: NewFixed(headers), opts: repl.Options{ShowEval: true}}, nil
}

// eval runs one expression against the already-loaded program state
// and returns whatever it printed, trimmed.
func (g *Grol) eval(expr string) (string, error) {
	var out bytes.Buffer
	if errs := repl.EvalAll(g.state, strings.NewReader(expr+"\n"), &out, g.opts); len(errs) > 0 {
		return "", fmt.Errorf("eval %q: %v", expr, errs)
	}
	return strings.TrimSpace(out.String()), nil
}

// ParseURL delegates to the Fixed implementation: URL parsing is a
// pure utility concern, not something scripts need to override.
func (g *Grol) ParseURL(raw string) (URL, error) { return g.fixed.ParseURL(raw) }

// Resolve delegates to Fixed, same reasoning as ParseURL.
func (g *Grol) Resolve(host, service string) (Addr, error) { return g.fixed.Resolve(host, service) }

// VerifyRequest calls the script's verify_request() if defined, else
// falls back to pipeline depth 1.
func (g *Grol) VerifyRequest() int {
	out, err := g.eval("verify_request()")
	if err != nil {
		log.Warnf("grol verify_request(): %v, defaulting to pipeline depth 1", err)
		return 1
	}
	n, err := strconv.Atoi(out)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// IsStatic calls the script's is_static().
func (g *Grol) IsStatic() bool {
	out, err := g.eval("is_static()")
	if err != nil {
		return false
	}
	return out == "true"
}

// WantResponse calls the script's want_response().
func (g *Grol) WantResponse() bool {
	out, err := g.eval("want_response()")
	if err != nil {
		return false
	}
	return out == "true"
}

// Request calls the script's request() and expects it to print the
// request bytes as a string literal.
func (g *Grol) Request() ([]byte, error) {
	out, err := g.eval("request()")
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// Response calls the script's response(status, body) callback for
// side effects (logging, counters); any print output is discarded.
func (g *Grol) Response(status int, _ map[string]string, body []byte) {
	_, err := g.eval(fmt.Sprintf("response(%d, %q)", status, string(body)))
	if err != nil {
		log.Debugf("grol response(): %v", err)
	}
}
