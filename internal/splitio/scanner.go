// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package splitio scans a byte slice into LF-terminated lines without
// copying, for dissector/httpdissector's request/header-line parsing.
package splitio

import (
	"bytes"
)

var (
	CharCRLF = []byte("\r\n")
	CharCR   = []byte("\r")
	CharLF   = []byte("\n")
)

// Scanner walks buf one line at a time, each line retaining its trailing
// "\r\n" or "\n" so callers can tell which terminator a line used. Unlike
// *bufio.Scanner, it never copies buf, which matters on the ingest path
// where a dissector reparses the same TCP payload on every packet.
type Scanner struct {
	lineStart, lineEnd int
	buf                []byte
}

// NewScanner returns a Scanner over b. b is not copied and must outlive
// the Scanner.
func NewScanner(b []byte) *Scanner {
	return &Scanner{
		buf: b,
	}
}

// Scan advances to the next line, returning false once buf is exhausted.
func (s *Scanner) Scan() bool {
	s.lineStart = s.lineEnd
	if s.lineStart == len(s.buf) {
		return false
	}

	if idx := bytes.IndexByte(s.buf[s.lineStart:], CharLF[0]); idx == -1 {
		s.lineEnd = len(s.buf)
	} else {
		s.lineEnd = s.lineStart + idx + 1
	}
	return true
}

// Bytes returns the current line, including its terminator. The slice
// aliases buf; callers that need to retain it must copy.
func (s *Scanner) Bytes() []byte {
	return s.buf[s.lineStart:s.lineEnd]
}
