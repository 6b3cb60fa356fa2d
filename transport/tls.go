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
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"fortio.org/log"
)

// jobKind identifies which operation a TLS bridge goroutine is
// currently executing against the blocking *tls.Conn.
type jobKind int

const (
	jobNone jobKind = iota
	jobConnect
	jobRead
	jobWrite
)

// TLS bridges crypto/tls's blocking, non-resumable Conn onto the
// reactor's RETRY-based non-blocking contract.
//
// crypto/tls cannot resume a partially completed handshake across
// calls -- once Handshake (or a read/write mid-handshake) fails, the
// error is cached forever on the *tls.Conn. That rules out driving it
// directly from epoll readiness the way the plain TCP transport is.
// Instead, one goroutine per connection performs the blocking dial,
// handshake, Read and Write calls; only that goroutine ever touches
// the *tls.Conn. Completion is signalled to the connection's owning
// reactor loop through a self-pipe, registered as an ordinary Readable
// file event -- so the loop goroutine still never blocks, and still is
// the only goroutine that mutates Connection state (spec.md invariant
// 1), even though the actual socket work happens elsewhere.
//
// Callers must not reuse or mutate a buffer passed to Write while a
// Retry is outstanding for that call: the bridge goroutine may still be
// reading out of it. A buffer passed to Read is only ever used as the
// bridge goroutine's own scratch space -- the bytes it decrypts are
// copied into whatever buffer the caller passes on the call that
// observes completion, which may be a different slice than the one
// that started the job (the reactor-driven caller is not required to
// hand back the same buffer across a Retry).
type TLS struct {
	network, address string
	config           *tls.Config

	pipeR, pipeW *os.File
	reqCh        chan job

	mu        sync.Mutex
	pending   jobKind
	result    Result
	resultBuf []byte // scratch buffer doRead filled; valid with a completed jobRead
	have      bool

	conn   *tls.Conn
	closed bool
	once   sync.Once
	doneCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

type job struct {
	kind jobKind
	buf  []byte
}

// NewTLS creates a TLS transport that will dial network/address and
// perform a TLS handshake using config once Connect is driven to
// completion.
func NewTLS(network, address string, config *tls.Config) (*TLS, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("self-pipe: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &TLS{
		network: network,
		address: address,
		config:  config,
		pipeR:   r,
		pipeW:   w,
		reqCh:   make(chan job, 1),
		doneCh:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go t.run()
	return t, nil
}

// FD implements Transport: the self-pipe's read end, not the raw
// socket -- see the type-level doc comment.
func (t *TLS) FD() int { return int(t.pipeR.Fd()) }

// Readable implements Transport. The bridge issues exactly one
// blocking tls.Conn.Read per job and hands back precisely what it
// returned, so there is never buffered-but-unreported data to report
// here; any further available bytes simply cost one more round trip
// through the reactor instead of an inline drain loop.
func (t *TLS) Readable() int { return 0 }

func (t *TLS) run() {
	defer close(t.doneCh)
	for j := range t.reqCh {
		var res Result
		switch j.kind {
		case jobConnect:
			res = t.doConnect()
		case jobRead:
			res = t.doRead(j.buf)
		case jobWrite:
			res = t.doWrite(j.buf)
		case jobNone:
			// unreachable, jobs are only ever submitted with a concrete kind.
		}
		t.mu.Lock()
		t.result = res
		if j.kind == jobRead {
			t.resultBuf = j.buf
		}
		t.have = true
		t.mu.Unlock()
		if _, err := t.pipeW.Write([]byte{1}); err != nil {
			log.Debugf("tls bridge: wakeup write failed (connection likely closing): %v", err)
		}
	}
}

func (t *TLS) doConnect() Result {
	var d net.Dialer
	c, err := d.DialContext(t.ctx, t.network, t.address)
	if err != nil {
		return errRes(fmt.Errorf("dial: %w", err))
	}
	tlsConn := tls.Client(c, t.config)
	if err := tlsConn.Handshake(); err != nil {
		c.Close()
		return errRes(fmt.Errorf("tls handshake: %w", err))
	}
	t.conn = tlsConn
	return ok(0)
}

func (t *TLS) doRead(buf []byte) Result {
	n, err := t.conn.Read(buf)
	if err != nil {
		if err == io.EOF {
			return errRes(ErrEOF)
		}
		return errRes(fmt.Errorf("tls read: %w", err))
	}
	return ok(n)
}

func (t *TLS) doWrite(buf []byte) Result {
	n, err := t.conn.Write(buf)
	if err != nil {
		return errRes(fmt.Errorf("tls write: %w", err))
	}
	return ok(n)
}

// poll drains the self-pipe wakeup byte (if any) and either returns a
// completed result matching kind, or starts a new job and returns
// Retry.
func (t *TLS) poll(kind jobKind, buf []byte) Result {
	if t.closed {
		return errRes(ErrClosed)
	}
	t.mu.Lock()
	if t.have && t.pending == kind {
		res := t.result
		src := t.resultBuf
		t.have = false
		t.pending = jobNone
		t.resultBuf = nil
		t.mu.Unlock()
		t.drainWakeByte()
		if kind == jobRead && res.Status == OK && res.N > 0 {
			res.N = copy(buf, src[:res.N])
		}
		return res
	}
	if t.pending != jobNone {
		t.mu.Unlock()
		return retry(Hint{WantRead: true})
	}
	t.pending = kind
	t.mu.Unlock()
	t.reqCh <- job{kind: kind, buf: buf}
	return retry(Hint{WantRead: true})
}

func (t *TLS) drainWakeByte() {
	var b [1]byte
	_, _ = t.pipeR.Read(b[:])
}

// Connect implements Transport.
func (t *TLS) Connect() Result { return t.poll(jobConnect, nil) }

// Read implements Transport.
func (t *TLS) Read(buf []byte) Result { return t.poll(jobRead, buf) }

// Write implements Transport.
func (t *TLS) Write(buf []byte) Result { return t.poll(jobWrite, buf) }

// Close implements Transport.
func (t *TLS) Close() error {
	var err error
	t.once.Do(func() {
		t.closed = true
		t.cancel()
		if t.conn != nil {
			err = t.conn.Close()
		}
		close(t.reqCh)
		<-t.doneCh
		t.pipeR.Close()
		t.pipeW.Close()
	})
	return err
}
