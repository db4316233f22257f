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

package pcapsource

import (
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/flowcap/flowcap/flow"
	"github.com/flowcap/flowcap/source"
)

// Decode turns a raw captured frame into a flow.Packet, decoding Ethernet,
// IPv4/IPv6 and TCP/UDP layers the way sniffer.DecodeIPLayer +
// sniffer.ParseTCPPacket/ParseUDPDatagram do together in the teacher, minus
// the intermediate socket.L4Packet representation this domain has no use
// for. Returns false if raw carries no recognizable IP+TCP/UDP payload.
func Decode(raw source.Packet, pkt *flow.Packet) bool {
	pkt.Timestamp = time.Unix(0, raw.Timestamp)

	var eth layers.Ethernet
	payload := raw.Data
	if err := eth.DecodeFromBytes(raw.Data, gopacket.NilDecodeFeedback); err == nil {
		switch eth.EthernetType {
		case layers.EthernetTypeIPv4, layers.EthernetTypeIPv6:
			copy(pkt.SrcMAC[:], eth.SrcMAC)
			copy(pkt.DstMAC[:], eth.DstMAC)
			pkt.EtherType = uint16(eth.EthernetType)
			payload = eth.Payload
		default:
			return false
		}
	}
	// payload now starts at the IP header only for Ethernet frames with an
	// IPv4/IPv6 EtherType, or for data too short to hold an Ethernet header.
	// Other link layers (Linux "any" cooked captures, raw IP frames) are
	// read as Ethernet and rejected above.
	pkt.L3Bytes = payload

	var ipv4 layers.IPv4
	var ipv6 layers.IPv6
	var l4payload []byte
	var ipProto layers.IPProtocol

	if err := ipv4.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err == nil {
		pkt.IPVersion = flow.IPv4
		pkt.SrcIP, _ = flow.IPFromNetIP(ipv4.SrcIP)
		pkt.DstIP, _ = flow.IPFromNetIP(ipv4.DstIP)
		pkt.IPTOS = ipv4.TOS
		pkt.IPTTL = ipv4.TTL
		ipProto = ipv4.Protocol
		l4payload = ipv4.Payload
		// Drop any Ethernet trailer padding past the IP total length.
		if n := int(ipv4.Length); n > 0 && n < len(payload) {
			pkt.L3Bytes = payload[:n]
		}
	} else if err := ipv6.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err == nil {
		pkt.IPVersion = flow.IPv6
		pkt.SrcIP, _ = flow.IPFromNetIP(ipv6.SrcIP)
		pkt.DstIP, _ = flow.IPFromNetIP(ipv6.DstIP)
		pkt.IPTTL = ipv6.HopLimit
		ipProto = ipv6.NextHeader
		l4payload = ipv6.Payload
		if n := 40 + int(ipv6.Length); ipv6.Length > 0 && n < len(payload) {
			pkt.L3Bytes = payload[:n]
		}
	} else {
		return false
	}

	switch ipProto {
	case layers.IPProtocolTCP:
		var tcp layers.TCP
		if err := tcp.DecodeFromBytes(l4payload, gopacket.NilDecodeFeedback); err != nil {
			return false
		}
		pkt.IPProto = flow.ProtoTCP
		pkt.SrcPort = uint16(tcp.SrcPort)
		pkt.DstPort = uint16(tcp.DstPort)
		pkt.TCPFlags = tcpFlags(&tcp)
		pkt.Payload = tcp.Payload

	case layers.IPProtocolUDP:
		var udp layers.UDP
		if err := udp.DecodeFromBytes(l4payload, gopacket.NilDecodeFeedback); err != nil {
			return false
		}
		pkt.IPProto = flow.ProtoUDP
		pkt.SrcPort = uint16(udp.SrcPort)
		pkt.DstPort = uint16(udp.DstPort)
		pkt.Payload = udp.Payload

	default:
		return false
	}

	return true
}

func tcpFlags(tcp *layers.TCP) uint8 {
	var flags uint8
	if tcp.FIN {
		flags |= flow.TCPFlagFIN
	}
	if tcp.SYN {
		flags |= flow.TCPFlagSYN
	}
	if tcp.RST {
		flags |= flow.TCPFlagRST
	}
	if tcp.PSH {
		flags |= flow.TCPFlagPSH
	}
	if tcp.ACK {
		flags |= flow.TCPFlagACK
	}
	if tcp.URG {
		flags |= flow.TCPFlagURG
	}
	return flags
}
