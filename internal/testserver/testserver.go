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

// Package testserver is an in-process HTTP/1.1 target for the
// scenario tests of spec.md §8, playing the part fhttp's EchoHandler
// (fhttp/http_server.go) plays for fortio's own httprunner tests, but
// small enough to script delay/stall/close behavior per connection.
package testserver // import "corrload.dev/corrload/internal/testserver"

import (
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"fortio.org/log"
)

// Server is a bare-bones HTTP/1.1 responder. Unlike fhttp's EchoServer
// it never touches net/http: the scenario tests need to control the
// raw bytes and timing on the wire, not application-level handlers.
type Server struct {
	ln              net.Listener
	Delay           time.Duration // fixed delay before writing each response
	Stall           bool          // if true, never responds to any request
	CloseAfterReply bool          // if true, close the connection after one response
	Requests        int64         // atomic count of fully-read requests
}

// New starts a Server listening on an ephemeral loopback port.
func New() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("testserver listen: %w", err)
	}
	s := &Server{ln: ln}
	go s.acceptLoop()
	return s, nil
}

// Addr returns the "host:port" the server is listening on.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

func (s *Server) acceptLoop() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serve(c)
	}
}

// serve handles one connection, looping over however many pipelined
// requests arrive until the peer closes it or Close is configured.
func (s *Server) serve(c net.Conn) {
	defer c.Close()
	buf := make([]byte, 0, 4096)
	read := make([]byte, 4096)
	for {
		req, rest, ok := splitRequest(buf)
		if !ok {
			n, err := c.Read(read)
			if n > 0 {
				buf = append(buf, read[:n]...)
			}
			if err != nil {
				return
			}
			continue
		}
		buf = rest
		atomic.AddInt64(&s.Requests, 1)
		if s.Stall {
			continue // never respond; peer will see a read timeout
		}
		if s.Delay > 0 {
			time.Sleep(s.Delay)
		}
		if err := writeResponse(c, req); err != nil {
			log.LogVf("testserver write error: %v", err)
			return
		}
		if s.CloseAfterReply {
			return
		}
	}
}

// splitRequest finds one complete, header-only HTTP request (GET/HEAD,
// no body) at the front of buf, per spec.md §8's use of GET-only
// scenario traffic, and returns the remaining unconsumed bytes.
func splitRequest(buf []byte) (req, rest []byte, ok bool) {
	const sep = "\r\n\r\n"
	idx := indexOf(buf, sep)
	if idx < 0 {
		return nil, buf, false
	}
	end := idx + len(sep)
	return buf[:end], buf[end:], true
}

func indexOf(buf []byte, sep string) int {
	n := len(sep)
	for i := 0; i+n <= len(buf); i++ {
		if string(buf[i:i+n]) == sep {
			return i
		}
	}
	return -1
}

func writeResponse(w io.Writer, _ []byte) error {
	const body = "ok"
	resp := fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\nConnection: keep-alive\r\n\r\n%s", len(body), body)
	_, err := io.WriteString(w, resp)
	return err
}
