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

// Package reactor is a single-threaded file-descriptor-readiness and
// timed-event dispatcher, one instance per worker. It is the Go/epoll
// translation of wrk2's ae.c event loop: no priorities, file events are
// all dispatched before the loop sleeps again, and timers fire at
// best-effort (not-before) precision.
package reactor // import "corrload.dev/corrload/reactor"

import (
	"container/heap"
	"time"

	"fortio.org/log"
	"golang.org/x/sys/unix"
)

// Mask is the set of readiness events a file can be subscribed to.
type Mask uint8

const (
	// Readable means the fd has data available to read (or a listening
	// socket has a pending connection).
	Readable Mask = 1 << iota
	// Writable means the fd can accept a write without blocking (or a
	// connecting socket has finished connecting).
	Writable
)

// FileCallback is invoked when a subscribed fd becomes ready for the
// Mask bit(s) it reports in `ready`.
type FileCallback func(fd int, ready Mask)

// TimeCallback is invoked when a timer fires. Returning ok=false
// (NOMORE) removes the timer; returning ok=true re-arms it after
// nextDelay.
type TimeCallback func() (nextDelay time.Duration, ok bool)

// Loop is a single-threaded epoll + timer-heap reactor. It must only
// ever be driven from the goroutine that calls Run; all of its state
// is unsynchronized by design (matches the teacher's single-threaded
// event loop invariant — no cross-worker mutation).
type Loop struct {
	epfd      int
	files     map[int]*fileEntry
	timers    timerHeap
	nextTimer int64
	stop      bool
	// maxEvents bounds the epoll_wait batch, sized by the worker at
	// construction (10 + 3*connections per spec.md §5).
	maxEvents int
}

type fileEntry struct {
	fd   int
	mask Mask
	cb   FileCallback
}

type timerEntry struct {
	id       int64
	deadline time.Time
	cb       TimeCallback
	index    int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x interface{}) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// New creates a Loop with its own epoll instance. maxEvents bounds the
// per-iteration epoll_wait batch size (spec.md §5: 10 + 3*connections).
func New(maxEvents int) (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	if maxEvents < 1 {
		maxEvents = 1
	}
	return &Loop{
		epfd:      epfd,
		files:     make(map[int]*fileEntry),
		maxEvents: maxEvents,
	}, nil
}

func toEpollEvents(m Mask) uint32 {
	var e uint32
	if m&Readable != 0 {
		e |= unix.EPOLLIN
	}
	if m&Writable != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

// CreateFileEvent subscribes fd to mask, invoking cb on readiness.
// Creating an event with a mask already partially subscribed is
// idempotent on the new bits (spec.md §4.3) — the union of old and
// new mask is what ends up registered.
func (l *Loop) CreateFileEvent(fd int, mask Mask, cb FileCallback) error {
	entry, exists := l.files[fd]
	if exists {
		newMask := entry.mask | mask
		entry.cb = cb
		if newMask == entry.mask {
			return nil
		}
		entry.mask = newMask
		ev := unix.EpollEvent{Events: toEpollEvents(newMask), Fd: int32(fd)}
		return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	}
	entry = &fileEntry{fd: fd, mask: mask, cb: cb}
	l.files[fd] = entry
	ev := unix.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// SetFileEvent replaces the subscription mask for fd exactly (no
// union). Used by the TLS/connect retry path where the readiness mask
// must be the exact set the last RETRY hinted, never a superset
// (spec.md §9 Design Notes): re-subscribing a superset busy-loops.
func (l *Loop) SetFileEvent(fd int, mask Mask, cb FileCallback) error {
	entry, exists := l.files[fd]
	if !exists {
		if mask == 0 {
			return nil
		}
		return l.CreateFileEvent(fd, mask, cb)
	}
	if mask == 0 {
		return l.DeleteFileEvent(fd)
	}
	entry.mask = mask
	entry.cb = cb
	ev := unix.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// DeleteFileEvent unsubscribes fd entirely.
func (l *Loop) DeleteFileEvent(fd int) error {
	if _, exists := l.files[fd]; !exists {
		return nil
	}
	delete(l.files, fd)
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// CreateTimeEvent arms a one-shot/re-arming timer, firing after delay.
func (l *Loop) CreateTimeEvent(delay time.Duration, cb TimeCallback) int64 {
	l.nextTimer++
	id := l.nextTimer
	heap.Push(&l.timers, &timerEntry{id: id, deadline: time.Now().Add(delay), cb: cb})
	return id
}

// DeleteTimeEvent removes a pending timer by id, if still armed.
func (l *Loop) DeleteTimeEvent(id int64) {
	for i, e := range l.timers {
		if e.id == id {
			heap.Remove(&l.timers, i)
			return
		}
	}
}

// Stop causes the next loop iteration to exit after processing
// already-ready events.
func (l *Loop) Stop() {
	l.stop = true
}

// Close releases the epoll fd. Call after Run returns.
func (l *Loop) Close() error {
	return unix.Close(l.epfd)
}

// Run drives the loop until Stop is called. Ordering within a tick is
// unspecified beyond "every ready file event is dispatched before the
// loop sleeps again" (spec.md §4.3).
func (l *Loop) Run() {
	events := make([]unix.EpollEvent, l.maxEvents)
	for !l.stop {
		timeout := l.nextTimeout()
		n, err := unix.EpollWait(l.epfd, events, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			log.Errf("epoll_wait: %v", err)
			continue
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			entry, ok := l.files[fd]
			if !ok {
				continue
			}
			var ready Mask
			if events[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				ready |= Readable
			}
			if events[i].Events&unix.EPOLLOUT != 0 {
				ready |= Writable
			}
			ready &= entry.mask
			if ready != 0 {
				entry.cb(fd, ready)
			}
		}
		l.fireTimers()
	}
}

// nextTimeout returns the epoll_wait timeout in ms for the earliest
// pending timer, or -1 (block indefinitely) if none are armed.
func (l *Loop) nextTimeout() int {
	if len(l.timers) == 0 {
		return -1
	}
	d := time.Until(l.timers[0].deadline)
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms > int64(1<<31-1) {
		return 1<<31 - 1
	}
	return int(ms)
}

func (l *Loop) fireTimers() {
	now := time.Now()
	for len(l.timers) > 0 && !l.timers[0].deadline.After(now) {
		e := heap.Pop(&l.timers).(*timerEntry)
		delay, ok := e.cb()
		if ok {
			e.deadline = time.Now().Add(delay)
			heap.Push(&l.timers, e)
		}
	}
}
