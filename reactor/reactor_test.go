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

package reactor

import (
	"os"
	"testing"
	"time"

	"fortio.org/assert"
)

func TestFileEventFiresOnWrite(t *testing.T) {
	r, w, err := os.Pipe()
	assert.NoError(t, err)
	defer r.Close()
	defer w.Close()

	loop, err := New(16)
	assert.NoError(t, err)
	defer loop.Close()

	fired := make(chan Mask, 1)
	err = loop.CreateFileEvent(int(r.Fd()), Readable, func(fd int, ready Mask) {
		buf := make([]byte, 16)
		_, _ = os.NewFile(uintptr(fd), "r").Read(buf) //nolint: errcheck // test only
		fired <- ready
		loop.Stop()
	})
	assert.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = w.Write([]byte("hi"))
	}()

	done := make(chan struct{})
	go func() {
		loop.Run()
		close(done)
	}()

	select {
	case m := <-fired:
		assert.Equal(t, Readable, m)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for file event")
	}
	<-done
}

func TestTimeEventOneShot(t *testing.T) {
	loop, err := New(16)
	assert.NoError(t, err)
	defer loop.Close()

	count := 0
	loop.CreateTimeEvent(5*time.Millisecond, func() (time.Duration, bool) {
		count++
		loop.Stop()
		return 0, false
	})
	loop.Run()
	assert.Equal(t, 1, count)
}

func TestTimeEventRearms(t *testing.T) {
	loop, err := New(16)
	assert.NoError(t, err)
	defer loop.Close()

	count := 0
	loop.CreateTimeEvent(2*time.Millisecond, func() (time.Duration, bool) {
		count++
		if count >= 3 {
			loop.Stop()
			return 0, false
		}
		return 2 * time.Millisecond, true
	})
	loop.Run()
	assert.Equal(t, 3, count)
}

func TestSetFileEventExactMask(t *testing.T) {
	r, w, err := os.Pipe()
	assert.NoError(t, err)
	defer r.Close()
	defer w.Close()

	loop, err := New(16)
	assert.NoError(t, err)
	defer loop.Close()

	err = loop.CreateFileEvent(int(r.Fd()), Readable|Writable, func(int, Mask) {})
	assert.NoError(t, err)
	err = loop.SetFileEvent(int(r.Fd()), Readable, func(int, Mask) {})
	assert.NoError(t, err)
	assert.Equal(t, Readable, loop.files[int(r.Fd())].mask)
}
