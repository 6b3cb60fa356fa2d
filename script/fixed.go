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
	"fmt"
	"net"
	"net/url"
	"strings"

	"fortio.org/log"
)

// Fixed is the required drop-in, no-op Hook: one fixed request per
// connection, pipeline depth 1. NewFixed sets Parse, so WantResponse is
// true by default: status codes are counted and Response logs each
// response at debug level. It is the default when no -s script is
// given (spec.md §9 Design Notes).
type Fixed struct {
	Method  string
	Path    string
	Host    string
	Headers map[string]string
	Body    []byte
	Pipeline int
	Parse    bool
}

// NewFixed builds the default Fixed hook: a plain GET of "/" with the
// given extra headers. ParseURL later sets Path and Host from the
// target URL.
func NewFixed(headers map[string]string) *Fixed {
	return &Fixed{
		Method:   "GET",
		Path:     "/",
		Headers:  headers,
		Pipeline: 1,
		Parse:    true,
	}
}

// ParseURL implements Hook using net/url, the standard library parser
// the rest of this codebase's teacher also falls back to (fhttp's
// ChangeURL does the same, see fhttp/http_client.go in the pack).
func (f *Fixed) ParseURL(raw string) (URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URL{}, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return URL{}, fmt.Errorf("unsupported scheme %q (only http/https)", u.Scheme)
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	f.Host = u.Host
	f.Path = path
	return URL{Scheme: u.Scheme, Host: host, Port: port, Path: path}, nil
}

// Resolve implements Hook using net.LookupIP, the same DNS path the
// teacher's fnet.Resolve uses (fnet/network.go in the pack) — stripped
// down to the single "first answer" policy since round-robin DNS
// selection across connections is an external collaborator concern
// spec.md §1 explicitly pushes out of scope.
func (f *Fixed) Resolve(host, service string) (Addr, error) {
	ip := net.ParseIP(strings.Trim(host, "[]"))
	if ip == nil {
		addrs, err := net.LookupIP(host)
		if err != nil {
			return Addr{}, fmt.Errorf("resolve %s: %w", host, err)
		}
		if len(addrs) == 0 {
			return Addr{}, fmt.Errorf("resolve %s: no addresses", host)
		}
		ip = addrs[0]
	}
	port, err := net.LookupPort("tcp", service)
	if err != nil {
		return Addr{}, fmt.Errorf("resolve port %s: %w", service, err)
	}
	network := "tcp4"
	if ip.To4() == nil {
		network = "tcp6"
	}
	return Addr{Network: network, Address: net.JoinHostPort(ip.String(), fmt.Sprint(port))}, nil
}

// VerifyRequest implements Hook.
func (f *Fixed) VerifyRequest() int {
	if f.Pipeline < 1 {
		return 1
	}
	return f.Pipeline
}

// IsStatic implements Hook: the fixed request never changes, so it is
// safe to share one buffer read-only across every connection of a
// worker (spec.md §9 Design Notes, ownership of the request buffer).
func (f *Fixed) IsStatic() bool { return true }

// WantResponse implements Hook.
func (f *Fixed) WantResponse() bool { return f.Parse }

// Request implements Hook, rendering a minimal HTTP/1.1 request line
// plus headers and an optional body.
func (f *Fixed) Request() ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", f.Method, f.Path)
	fmt.Fprintf(&b, "Host: %s\r\n", f.Host)
	for k, v := range f.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	if len(f.Body) > 0 {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(f.Body))
	}
	b.WriteString("\r\n")
	if len(f.Body) > 0 {
		b.WriteString(string(f.Body))
	}
	return []byte(b.String()), nil
}

// Response implements Hook: the no-op default just logs at debug
// level, matching the teacher's terse/guarded logging idiom.
func (f *Fixed) Response(status int, _ map[string]string, body []byte) {
	if log.LogDebug() {
		log.Debugf("fixed hook: response status=%d bodylen=%d", status, len(body))
	}
}
