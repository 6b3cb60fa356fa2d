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

package transport

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// TCP is a raw non-blocking socket transport: connect succeeds as
// soon as the kernel reports the socket writable with no SO_ERROR
// (spec.md §4.2), the direct translation of wrk2's net.c
// (_examples/original_source/src/net.h).
type TCP struct {
	fd          int
	addr        unix.Sockaddr
	localAddr   unix.Sockaddr // optional bind-source address
	connecting  bool
	closed      bool
}

// NewTCP creates (but does not connect) a non-blocking TCP socket
// targeting addr, optionally bound to localAddr (the -i/--local_ip
// worker-to-source assignment, spec.md §6).
func NewTCP(addr unix.Sockaddr, localAddr unix.Sockaddr) (*TCP, error) {
	domain := unix.AF_INET
	if _, ok := addr.(*unix.SockaddrInet6); ok {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set nonblock: %w", err)
	}
	if localAddr != nil {
		if err := unix.Bind(fd, localAddr); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("bind %v: %w", localAddr, err)
		}
	}
	return &TCP{fd: fd, addr: addr, localAddr: localAddr}, nil
}

// FD implements Transport.
func (t *TCP) FD() int { return t.fd }

// Readable implements Transport: a raw socket has no internal buffer
// beyond the kernel's, which EPOLLIN readiness already reflects.
func (t *TCP) Readable() int { return 0 }

// Connect implements Transport.
func (t *TCP) Connect() Result {
	if t.closed {
		return errRes(ErrClosed)
	}
	if !t.connecting {
		t.connecting = true
		err := unix.Connect(t.fd, t.addr)
		if err == nil {
			return ok(0)
		}
		if err == unix.EINPROGRESS {
			return retry(Hint{WantWrite: true})
		}
		return errRes(fmt.Errorf("connect: %w", err))
	}
	// Second+ call: the fd reported writable, check SO_ERROR.
	soErr, err := unix.GetsockoptInt(t.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return errRes(fmt.Errorf("getsockopt(SO_ERROR): %w", err))
	}
	if soErr != 0 {
		return errRes(fmt.Errorf("connect: %w", unix.Errno(soErr)))
	}
	return ok(0)
}

// Read implements Transport.
func (t *TCP) Read(buf []byte) Result {
	if t.closed {
		return errRes(ErrClosed)
	}
	n, err := unix.Read(t.fd, buf)
	if err == nil {
		if n == 0 {
			return errRes(fmt.Errorf("read: %w", ErrEOF))
		}
		return ok(n)
	}
	if err == unix.EAGAIN {
		return retry(Hint{WantRead: true})
	}
	return errRes(fmt.Errorf("read: %w", err))
}

// Write implements Transport.
func (t *TCP) Write(buf []byte) Result {
	if t.closed {
		return errRes(ErrClosed)
	}
	n, err := unix.Write(t.fd, buf)
	if err == nil {
		return ok(n)
	}
	if err == unix.EAGAIN {
		return retry(Hint{WantWrite: true})
	}
	return errRes(fmt.Errorf("write: %w", err))
}

// Close implements Transport.
func (t *TCP) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return unix.Close(t.fd)
}

// ErrEOF signals a clean peer close observed by a zero-length read.
var ErrEOF = fmt.Errorf("transport: connection closed by peer")
