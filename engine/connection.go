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
	"time"

	"fortio.org/log"

	"corrload.dev/corrload/pacer"
	"corrload.dev/corrload/reactor"
	"corrload.dev/corrload/transport"
)

// connState is the per-connection lifecycle state of spec.md §4.6.
type connState int

const (
	stateNew connState = iota
	stateConnecting
	stateHeld
	stateReady
	stateSending
	stateAwaitingResponse
)

func (s connState) String() string {
	switch s {
	case stateNew:
		return "NEW"
	case stateConnecting:
		return "CONNECTING"
	case stateHeld:
		return "HELD"
	case stateReady:
		return "READY"
	case stateSending:
		return "SENDING"
	case stateAwaitingResponse:
		return "AWAITING_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// Connection is one of a Worker's fixed array of long-lived sockets
// (spec.md §3). Only the goroutine running the owning Worker's reactor
// loop ever touches one -- invariant 1, "no cross-worker mutation".
type Connection struct {
	index  int
	worker *Worker

	transport transport.Transport
	state     connState

	parser *responseParser

	requestBuf []byte // owned buffer when Hook.IsStatic() is false
	written    int
	pending    int
	pipeline   int

	isConnected bool
	hasPending  bool

	pacer *pacer.State

	connectMask  reactor.Mask
	timeoutTimer int64
	established  bool
}

func newConnection(w *Worker, index int) *Connection {
	return &Connection{
		index:  index,
		worker: w,
		parser: newResponseParser(),
		pacer:  pacer.NewState(w.rate, 0),
	}
}

// arm schedules the initial-connect stagger timer: 5*i ms (spec.md
// §4.6 "Initial connect stagger"), spreading the connect storm across
// the worker's connection array.
func (c *Connection) arm() {
	delay := time.Duration(5*c.index) * time.Millisecond
	c.worker.loop.CreateTimeEvent(delay, func() (time.Duration, bool) {
		c.connect()
		return 0, false
	})
}

func (c *Connection) connect() {
	c.state = stateConnecting
	var err error
	c.transport, err = c.worker.dial()
	if err != nil {
		log.Errf("worker %d conn %d: dial setup: %v", c.worker.id, c.index, err)
		c.worker.counters.Connect++
		c.scheduleReconnect()
		return
	}
	c.pacer = pacer.NewState(c.worker.rate, c.worker.clockNow())
	c.driveConnect()
}

func (c *Connection) driveConnect() {
	res := c.transport.Connect()
	switch res.Status {
	case transport.OK:
		c.onConnected()
	case transport.Retry:
		c.subscribeExact(hintMask(res.Hint), c.driveConnectCallback)
	case transport.Error:
		log.Debugf("worker %d conn %d: connect error: %v", c.worker.id, c.index, res.Err)
		c.worker.counters.Connect++
		c.scheduleReconnect()
	}
}

func (c *Connection) driveConnectCallback(_ int, _ reactor.Mask) {
	c.driveConnect()
}

func hintMask(h transport.Hint) reactor.Mask {
	var m reactor.Mask
	if h.WantRead {
		m |= reactor.Readable
	}
	if h.WantWrite {
		m |= reactor.Writable
	}
	return m
}

// subscribeExact re-subscribes the reactor to exactly mask, never a
// superset (spec.md §9: re-subscribing a superset busy-loops during a
// TLS handshake retry).
func (c *Connection) subscribeExact(mask reactor.Mask, cb reactor.FileCallback) {
	c.connectMask = mask
	_ = c.worker.loop.SetFileEvent(c.transport.FD(), mask, cb)
}

func (c *Connection) onConnected() {
	c.isConnected = true
	if !c.established {
		c.established = true
		c.worker.counters.Established++
		c.worker.onConnectionEstablished()
	}
	if c.worker.phase == phaseWarmup {
		c.state = stateHeld
		return
	}
	c.enterReady()
}

// release is called by the Worker when transitioning WARMUP -> NORMAL:
// every HELD connection starts being polled (spec.md §4.7).
func (c *Connection) release() {
	if c.state == stateHeld {
		c.enterReady()
	}
}

func (c *Connection) enterReady() {
	c.state = stateReady
	c.pacer.ThreadStart = c.worker.clockNow()
	mask := reactor.Readable | reactor.Writable
	c.subscribeExact(mask, c.onEvent)
}

func (c *Connection) onEvent(_ int, ready reactor.Mask) {
	if ready&reactor.Writable != 0 {
		c.onWritable()
	}
	if ready&reactor.Readable != 0 {
		c.onReadable()
	}
}

func (c *Connection) onWritable() {
	switch c.state {
	case stateReady:
		now := c.worker.clockNow()
		complete := c.worker.counters.Complete
		d := c.pacer.Decide(now, complete)
		if !d.Send {
			// Nothing to send yet: dropping WRITABLE here is required,
			// not optional -- the socket's send buffer is empty so
			// epoll keeps reporting EPOLLOUT level-triggered, and with
			// no delay timer armed this would spin onWritable->Decide
			// every loop iteration (spec.md §4.2/§9 busy-loop case).
			// wrk2 handles the same shape in socket_writeable.
			c.subscribeExact(reactor.Readable, c.onEvent)
			c.armSendDelay(d.WaitMicros)
			return
		}
		c.beginBatch(now, complete)
	case stateSending:
		c.flush()
	}
}

// armSendDelay re-subscribes WRITABLE once waitMicros has elapsed, so
// the connection wakes up again right around its next scheduled send
// instead of spinning on EPOLLOUT in the meantime.
func (c *Connection) armSendDelay(waitMicros int64) {
	if waitMicros < 1 {
		waitMicros = 1
	}
	c.worker.loop.CreateTimeEvent(time.Duration(waitMicros)*time.Microsecond, func() (time.Duration, bool) {
		if c.state == stateReady {
			c.subscribeExact(reactor.Readable|reactor.Writable, c.onEvent)
		}
		return 0, false
	})
}

func (c *Connection) beginBatch(now, complete int64) {
	c.pipeline = c.worker.hook.VerifyRequest()
	if c.pipeline < 1 {
		c.pipeline = 1
	}
	c.pending = c.pipeline
	c.hasPending = true
	c.pacer.BeginBatch(now, complete)
	buf, err := c.requestBytes()
	if err != nil {
		log.Errf("worker %d conn %d: request hook: %v", c.worker.id, c.index, err)
		c.worker.counters.Write++
		c.scheduleReconnect()
		return
	}
	full := buf
	for i := 1; i < c.pipeline; i++ {
		full = append(full, buf...)
	}
	c.requestBuf = full
	c.written = 0
	c.state = stateSending
	if c.worker.config.Timeout > 0 {
		c.armTimeout()
	}
	c.flush()
}

func (c *Connection) requestBytes() ([]byte, error) {
	if c.worker.hook.IsStatic() {
		return c.worker.staticRequest()
	}
	return c.worker.hook.Request()
}

func (c *Connection) flush() {
	for c.written < len(c.requestBuf) {
		res := c.transport.Write(c.requestBuf[c.written:])
		switch res.Status {
		case transport.OK:
			c.written += res.N
		case transport.Retry:
			c.subscribeExact(reactor.Readable|hintMask(res.Hint), c.onEvent)
			return
		case transport.Error:
			log.Debugf("worker %d conn %d: write error: %v", c.worker.id, c.index, res.Err)
			c.worker.counters.Write++
			c.scheduleReconnect()
			return
		}
	}
	c.worker.counters.Requests += int64(c.pipeline)
	c.state = stateAwaitingResponse
	c.subscribeExact(reactor.Readable, c.onEvent)
}

func (c *Connection) onReadable() {
	readBuf := make([]byte, 16*1024)
	for {
		res := c.transport.Read(readBuf)
		switch res.Status {
		case transport.OK:
			c.worker.counters.Bytes += int64(res.N)
			c.consume(readBuf[:res.N])
			if c.transport.Readable() <= 0 {
				return
			}
		case transport.Retry:
			c.subscribeExact(reactor.Readable|hintMask(res.Hint), c.onEvent)
			return
		case transport.Error:
			log.Debugf("worker %d conn %d: read error: %v", c.worker.id, c.index, res.Err)
			c.worker.counters.Read++
			c.scheduleReconnect()
			return
		}
		if c.state != stateAwaitingResponse {
			return
		}
	}
}

func (c *Connection) consume(chunk []byte) {
	for c.state == stateAwaitingResponse {
		if !c.parser.Feed(chunk) {
			return
		}
		c.completeOneResponse()
		leftover := c.parser.Leftover()
		keepAlive := c.parser.KeepAlive()
		c.parser.reset(leftover)
		if !keepAlive {
			c.worker.counters.Read++
			c.scheduleReconnect()
			return
		}
		if c.pending > 0 {
			if len(leftover) == 0 {
				return
			}
			// reset already buffered the leftover bytes; feed nothing new.
			chunk = nil
			continue
		}
		c.onBatchDone()
		return
	}
}

func (c *Connection) completeOneResponse() {
	status := c.parser.StatusCode()
	if c.worker.hook.WantResponse() {
		c.worker.hook.Response(status, nil, c.parser.Body())
		if status >= 400 {
			c.worker.counters.Status++
		}
	}
	c.pending--
	c.hasPending = c.pending > 0
	c.worker.counters.Complete++

	now := c.worker.clockNow()
	last := c.pending == 0 || !c.worker.config.BatchLatency
	if last {
		if lat, ok := c.pacer.CorrectedLatency(now, c.worker.counters.Complete); ok {
			if err := c.worker.histograms.RecordCorrected(lat); err != nil {
				log.Debugf("record corrected: %v", err)
			}
		} else {
			log.LogVf("worker %d conn %d: negative corrected latency suppressed", c.worker.id, c.index)
		}
	}
	uncLat := now - c.pacer.ActualLatencyStart
	if uncLat >= 0 {
		if err := c.worker.histograms.RecordUncorrected(uncLat); err != nil {
			log.Debugf("record uncorrected: %v", err)
		}
	}
}

func (c *Connection) onBatchDone() {
	c.disarmTimeout()
	c.hasPending = false
	c.state = stateReady
	c.subscribeExact(reactor.Readable|reactor.Writable, c.onEvent)
}

func (c *Connection) armTimeout() {
	c.timeoutTimer = c.worker.loop.CreateTimeEvent(c.worker.config.Timeout, func() (time.Duration, bool) {
		if c.state == stateSending || c.state == stateAwaitingResponse {
			c.worker.counters.Timeout++
			c.scheduleReconnect()
		}
		return 0, false
	})
}

func (c *Connection) disarmTimeout() {
	if c.timeoutTimer != 0 {
		c.worker.loop.DeleteTimeEvent(c.timeoutTimer)
		c.timeoutTimer = 0
	}
}

// scheduleReconnect tears down the current transport and reconnects,
// incrementing errors.reconnect (spec.md §4.6 "Terminal transitions").
func (c *Connection) scheduleReconnect() {
	c.disarmTimeout()
	if c.transport != nil {
		_ = c.worker.loop.DeleteFileEvent(c.transport.FD())
		_ = c.transport.Close()
	}
	c.isConnected = false
	c.hasPending = false
	c.pending = 0
	c.parser.reset(nil)
	c.worker.counters.Reconnect++
	c.connect()
}

// Close tears the connection down at worker termination.
func (c *Connection) Close() {
	c.disarmTimeout()
	if c.transport != nil {
		_ = c.worker.loop.DeleteFileEvent(c.transport.FD())
		_ = c.transport.Close()
	}
}
