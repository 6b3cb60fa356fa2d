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

// Package script is the narrow bridge to an external request generator
// / response observer (spec.md §6, component J). The engine depends
// only on the Hook interface; it must never assume a particular
// scripting runtime is behind it.
package script // import "corrload.dev/corrload/script"

// URL is the result of parsing the target URL.
type URL struct {
	Scheme string
	Host   string
	Port   string
	Path   string
}

// Addr is a resolved network address to connect to.
type Addr struct {
	Network string // "tcp" or "tcp4"/"tcp6"
	Address string // host:port
}

// Hook is the seven-method capability surface spec.md §6 requires.
// A no-op implementation (Fixed, in this package) must be a drop-in.
type Hook interface {
	// ParseURL validates and parses the target URL.
	ParseURL(raw string) (URL, error)
	// Resolve resolves host/service into a connectable address. The
	// core stops the whole run on failure (spec.md §7).
	Resolve(host, service string) (Addr, error)
	// VerifyRequest returns how many requests to pack per pipelined
	// batch.
	VerifyRequest() int
	// IsStatic reports whether the request bytes can be fetched once
	// and shared across every connection of a worker (true), or must
	// be recreated on every send (false).
	IsStatic() bool
	// WantResponse reports whether the header/body parser callbacks
	// should be armed at all; when false, no status-code counting
	// happens either (see SPEC_FULL.md Supplemented Features #4).
	WantResponse() bool
	// Request produces one request payload.
	Request() ([]byte, error)
	// Response delivers one completed response to the script. It is
	// only called when WantResponse is true; status is the parsed HTTP
	// status code.
	Response(status int, headers map[string]string, body []byte)
}
