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

// Package flow implements the bounded, associative flow-aggregation cache:
// Packet ingestion, FlowKey/FlowRecord bookkeeping, the Dissector hook
// protocol and the per-line LRU FlowCache that drives them.
package flow

import (
	"net"
	"time"
)

// IPVersion distinguishes IPv4 from IPv6 addresses carried by a Packet.
type IPVersion uint8

const (
	IPv4 IPVersion = 4
	IPv6 IPVersion = 6
)

// IP is a fixed-size address container able to hold either an IPv4 or an
// IPv6 address without an allocation, mirroring the teacher's socket.IPV.
type IP [net.IPv6len]byte

// IPFromNetIP copies a net.IP into a fixed-size IP, recording its version.
func IPFromNetIP(ip net.IP) (IP, IPVersion) {
	var dst IP
	if v4 := ip.To4(); v4 != nil {
		copy(dst[:], v4)
		return dst, IPv4
	}
	copy(dst[:], ip.To16())
	return dst, IPv6
}

// NetIP returns the net.IP view of addr for the given version.
func (addr IP) NetIP(v IPVersion) net.IP {
	if v == IPv4 {
		return net.IP(addr[:net.IPv4len])
	}
	return net.IP(addr[:])
}

func (addr IP) String(v IPVersion) string {
	return addr.NetIP(v).String()
}

// Proto identifies the transport-layer protocol of a Packet, using the IANA
// protocol numbers (TCP=6, UDP=17) so a Proto value doubles as ip_proto.
type Proto uint8

const (
	ProtoTCP Proto = 6
	ProtoUDP Proto = 17
)

// TCP control bits, as carried in the TCP header.
const (
	TCPFlagFIN uint8 = 1 << iota
	TCPFlagSYN
	TCPFlagRST
	TCPFlagPSH
	TCPFlagACK
	TCPFlagURG
)

// Packet is a transient, stack-allocated description of one captured frame.
//
// A Packet never outlives the ingest iteration that produced it: FlowCache
// copies whatever fields it needs into a FlowRecord and dissectors must not
// retain Payload/L3Bytes beyond the hook call.
type Packet struct {
	Timestamp time.Time

	SrcMAC, DstMAC [6]byte
	EtherType      uint16

	IPVersion      IPVersion
	SrcIP, DstIP   IP
	IPProto        Proto
	IPTOS, IPTTL   uint8

	SrcPort, DstPort uint16
	TCPFlags         uint8

	// Payload references the application-layer bytes of this packet.
	Payload []byte
	// L3Bytes references the IP packet, header included: the captured
	// frame with any L2 (Ethernet) header and trailer padding stripped.
	L3Bytes []byte
}

// L3Length is the number of bytes this packet contributes to
// FlowRecord.OctetTotalLength, per L3Bytes.
func (p *Packet) L3Length() uint64 {
	if len(p.L3Bytes) == 0 {
		return uint64(len(p.Payload))
	}
	return uint64(len(p.L3Bytes))
}
