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
	"net"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcap/flowcap/flow"
	"github.com/flowcap/flowcap/source"
)

func buildTCPFrame(t *testing.T, payload []byte) []byte {
	t.Helper()

	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x1, 0x2, 0x3, 0x4, 0x5, 0x6},
		DstMAC:       net.HardwareAddr{0x6, 0x5, 0x4, 0x3, 0x2, 0x1},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	tcp := layers.TCP{
		SrcPort: 1234,
		DstPort: 80,
		SYN:     true,
		ACK:     true,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(&ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, &eth, &ip, &tcp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func TestDecodeTCPFrame(t *testing.T) {
	frame := buildTCPFrame(t, []byte("hello"))

	var pkt flow.Packet
	ok := Decode(source.Packet{Timestamp: time.Now().UnixNano(), Data: frame}, &pkt)
	require.True(t, ok)

	assert.Equal(t, flow.IPv4, pkt.IPVersion)
	assert.Equal(t, flow.ProtoTCP, pkt.IPProto)
	assert.Equal(t, uint16(1234), pkt.SrcPort)
	assert.Equal(t, uint16(80), pkt.DstPort)
	assert.Equal(t, "10.0.0.1", pkt.SrcIP.String(pkt.IPVersion))
	assert.Equal(t, "10.0.0.2", pkt.DstIP.String(pkt.IPVersion))
	assert.Equal(t, flow.TCPFlagSYN|flow.TCPFlagACK, pkt.TCPFlags)
	assert.Equal(t, []byte("hello"), pkt.Payload)

	// L3Length must exclude the 14-byte Ethernet header: 20-byte IPv4
	// header + 20-byte TCP header + 5-byte payload, not the full frame.
	assert.Equal(t, uint64(45), pkt.L3Length())
	assert.Less(t, int(pkt.L3Length()), len(frame))
}

func TestDecodeRejectsNonIPFrame(t *testing.T) {
	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x1, 0x2, 0x3, 0x4, 0x5, 0x6},
		DstMAC:       net.HardwareAddr{0x6, 0x5, 0x4, 0x3, 0x2, 0x1},
		EthernetType: layers.EthernetTypeARP,
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, &eth, gopacket.Payload([]byte{1, 2, 3})))

	var pkt flow.Packet
	ok := Decode(source.Packet{Data: buf.Bytes()}, &pkt)
	assert.False(t, ok)
}
