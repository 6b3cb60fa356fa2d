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
	"testing"

	"fortio.org/assert"
)

func TestResponseParserContentLength(t *testing.T) {
	p := newResponseParser()
	msg := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nConnection: keep-alive\r\n\r\nhello"
	assert.True(t, p.Feed([]byte(msg)))
	assert.Equal(t, 200, p.StatusCode())
	assert.True(t, p.KeepAlive())
	assert.Equal(t, "hello", string(p.Body()))
}

func TestResponseParserSplitAcrossFeeds(t *testing.T) {
	p := newResponseParser()
	part1 := "HTTP/1.1 200 OK\r\nContent-Le"
	part2 := "ngth: 3\r\n\r\nabc"
	assert.False(t, p.Feed([]byte(part1)))
	assert.True(t, p.Feed([]byte(part2)))
	assert.Equal(t, "abc", string(p.Body()))
}

func TestResponseParserChunked(t *testing.T) {
	p := newResponseParser()
	msg := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	assert.True(t, p.Feed([]byte(msg)))
	assert.Equal(t, "Wikipedia", string(p.Body()))
}

func TestResponseParserConnectionClose(t *testing.T) {
	p := newResponseParser()
	msg := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nhi"
	assert.True(t, p.Feed([]byte(msg)))
	assert.False(t, p.KeepAlive())
}

func TestResponseParserLeftoverPipelined(t *testing.T) {
	p := newResponseParser()
	first := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"
	second := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"
	assert.True(t, p.Feed([]byte(first+second)))
	left := p.Leftover()
	assert.Equal(t, second, string(left))
	p.reset(left)
	assert.True(t, p.Feed(nil))
	assert.Equal(t, "ok", string(p.Body()))
}
