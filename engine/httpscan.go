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

// Byte-scanning helpers adapted from fhttp.FoldFind / fhttp.ParseDecimal /
// fhttp.ParseChunkSize (fhttp/http_utils.go in the pack). Copied rather
// than imported: the fhttp package drags in fnet and stats for its
// server/UI/forwarder halves that this engine has no use for, so only
// the three leaf parsing routines are carried over, unexported since
// responseParser is their only caller.

const foldUpperMask = ^byte('a' - 'A')

// foldFind is a case-insensitive byte search, the same XOR/mask trick
// fhttp.FoldFind uses to avoid a per-byte toUpper() call.
func foldFind(haystack, needle []byte) (bool, int) {
	idx := 0
	needleLen := len(needle)
	haystackLen := len(haystack)
	if needleLen == 0 {
		return true, 0
	}
	if needleLen > haystackLen {
		return false, -1
	}
	needleOffset := 0
	for {
		h := haystack[idx]
		n := needle[needleOffset]
		xor := h ^ n
		if (xor&foldUpperMask) != 0 || ((h < 32 || n < 32) && xor != 0) {
			idx -= needleOffset - 1
			needleOffset = 0
			if idx >= haystackLen {
				return false, -1
			}
			continue
		}
		if needleOffset == needleLen-1 {
			return true, idx - needleOffset
		}
		needleOffset++
		idx++
		if idx >= haystackLen {
			return false, -1
		}
	}
}

// parseDecimal extracts the first positive integer in inp, skipping
// leading spaces and stopping at the first non-digit.
func parseDecimal(inp []byte) int64 {
	res := int64(-1)
	for _, b := range inp {
		if b == ' ' && res == -1 {
			continue
		}
		if b < '0' || b > '9' {
			break
		}
		digit := int64(b - '0')
		if res == -1 {
			res = digit
		} else {
			res = 10*res + digit
		}
	}
	return res
}

func foldToUpper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}

// parseChunkSize reads one "<hex-size>\r\n" chunk header from the start
// of inp and returns the offset of the chunk data plus the parsed
// size, or (off, -1) if the line isn't complete yet.
func parseChunkSize(inp []byte) (int64, int64) {
	res := int64(-1)
	off := int64(0)
	end := int64(len(inp))
	inDigits := true
	for {
		if off >= end {
			return off, -1
		}
		if inDigits {
			b := foldToUpper(inp[off])
			var digit int64
			switch {
			case b >= 'A' && b <= 'F':
				digit = 10 + int64(b-'A')
			case b >= '0' && b <= '9':
				digit = int64(b - '0')
			default:
				inDigits = false
				if res == -1 {
					return off, -1
				}
				continue
			}
			if res == -1 {
				res = digit
			} else {
				res = 16*res + digit
			}
		} else if inp[off] == '\r' {
			off++
			if off >= end {
				return off, -1
			}
			if inp[off] == '\n' {
				return off + 1, res
			}
		}
		off++
	}
}
