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

// Package source defines the pull-based packet source contract the ingest
// driver reads from. Unlike the teacher's callback-driven sniffer.Sniffer,
// a Source is polled: the driver decides when to ask for the next packet,
// so it stays in full control of sampling and shutdown timing (§5).
package source

import (
	"github.com/pkg/errors"
)

// Result classifies the outcome of one GetPacket call.
type Result uint8

const (
	// ResultPacket means Packet was filled in and is ready to ingest.
	ResultPacket Result = iota
	// ResultTimeout means no packet arrived within the source's poll
	// interval; the caller should treat this as an idle tick.
	ResultTimeout
	// ResultEOF means the source is exhausted (end of a pcap file) and
	// will never produce another packet.
	ResultEOF
	// ResultError means GetPacket failed; the accompanying error explains
	// why.
	ResultError
)

// ErrSourceClosed is returned by GetPacket once Close has been called.
var ErrSourceClosed = errors.New("source: closed")

// Source is a pull-based packet feed. Exactly one goroutine may call
// GetPacket at a time; Close may be called concurrently with GetPacket to
// unblock it.
type Source interface {
	// GetPacket blocks until a packet is available, the poll interval
	// elapses, the source is exhausted, or an error occurs, and fills pkt
	// on ResultPacket.
	GetPacket(pkt *Packet) (Result, error)

	// Close releases the underlying handle. Safe to call more than once.
	Close() error
}

// Packet is the raw capture handed to the caller, who is responsible for
// decoding it into a flow.Packet. Keeping this decode step outside the
// Source interface keeps Source engine-agnostic (pcap today, something
// else tomorrow) the way the teacher keeps sniffer.Sniffer decode-agnostic
// via its OnL4Packet callback.
type Packet struct {
	Timestamp int64 // unix nanoseconds
	Data      []byte
}
