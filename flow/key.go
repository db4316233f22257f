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

package flow

import (
	"bytes"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/valyala/bytebufferpool"
)

// endpoint is one side of a flow: an address plus a port.
type endpoint struct {
	ip   IP
	port uint16
}

// FlowKey is the direction-independent fingerprint used to locate a flow:
// the unordered pair of endpoints plus the transport protocol. Two packets
// that belong to opposite directions of the same conversation canonicalize
// to the same FlowKey.
type FlowKey struct {
	version  IPVersion
	proto    Proto
	a, b     endpoint // a is always the lexicographically smaller endpoint
}

// newFlowKey canonicalizes pkt's 5-tuple into a FlowKey and reports whether
// the packet's source endpoint was reordered into slot B (i.e. the packet
// travels in the "reversed" direction relative to the key's canonical form).
func newFlowKey(pkt *Packet) (FlowKey, bool) {
	src := endpoint{ip: pkt.SrcIP, port: pkt.SrcPort}
	dst := endpoint{ip: pkt.DstIP, port: pkt.DstPort}

	key := FlowKey{version: pkt.IPVersion, proto: pkt.IPProto}
	if endpointLess(src, dst, pkt.IPVersion) {
		key.a, key.b = src, dst
		return key, false
	}
	key.a, key.b = dst, src
	return key, true
}

// endpointLess orders two endpoints lexicographically on ip∥port, the
// deterministic rule §4.3 calls for when canonicalizing a packet's key.
func endpointLess(x, y endpoint, v IPVersion) bool {
	xb := x.ip.NetIP(v)
	yb := y.ip.NetIP(v)
	if c := bytes.Compare(xb, yb); c != 0 {
		return c < 0
	}
	return x.port < y.port
}

// canonicalBytes renders key into the direction-independent byte string
// that gets hashed to pick a cache line and compared on collision.
func (key FlowKey) canonicalBytes(buf *bytebufferpool.ByteBuffer) {
	buf.Reset()
	buf.WriteByte(byte(key.version))
	buf.WriteByte(byte(key.proto))

	var portBuf [2]byte
	av := key.a.ip.NetIP(key.version)
	bv := key.b.ip.NetIP(key.version)
	buf.Write(av)
	binary.BigEndian.PutUint16(portBuf[:], key.a.port)
	buf.Write(portBuf[:])
	buf.Write(bv)
	binary.BigEndian.PutUint16(portBuf[:], key.b.port)
	buf.Write(portBuf[:])
}

// hash returns the 64-bit hash of key's canonical form, used to pick a line
// and as the cheap first comparison before a full key comparison (§4.3).
func (key FlowKey) hash() uint64 {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	key.canonicalBytes(buf)
	return xxhash.Sum64(buf.B)
}

// Equal reports whether two FlowKeys identify the same flow.
func (key FlowKey) Equal(other FlowKey) bool {
	return key.version == other.version &&
		key.proto == other.proto &&
		key.a == other.a &&
		key.b == other.b
}
