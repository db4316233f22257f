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
	"strconv"
	"strings"
	"time"
)

// defaultSnapLen caps a captured frame at the largest IPv4/IPv6 payload
// plus headroom for L2, matching the teacher's socket.MaxIPPacketSize use
// in sniffer/libpcap.
const defaultSnapLen = 65536

const defaultPollTimeout = 500 * time.Millisecond

// Config configures a pcapsource.Source. A File source and an Iface source
// are mutually exclusive, mirroring sniffer.Config's File/Ifaces split.
type Config struct {
	// File, when set, opens a pcap file instead of a live interface.
	File string `config:"file"`

	// Iface is the capture device name, or "any" on Linux.
	Iface string `config:"iface"`

	// Promisc toggles promiscuous mode for live captures.
	Promisc bool `config:"promisc"`

	// Ports restricts capture to traffic touching one of these ports; an
	// empty list captures everything.
	Ports []uint16 `config:"ports"`

	// SnapLen overrides defaultSnapLen when positive.
	SnapLen int `config:"snapLen"`

	// PollTimeout overrides defaultPollTimeout when positive.
	PollTimeout time.Duration `config:"pollTimeout"`
}

func (c *Config) snapLen() int32 {
	if c.SnapLen > 0 {
		return int32(c.SnapLen)
	}
	return defaultSnapLen
}

func (c *Config) pollTimeout() time.Duration {
	if c.PollTimeout > 0 {
		return c.PollTimeout
	}
	return defaultPollTimeout
}

// compileBPFFilter turns Ports into a libpcap filter expression, the same
// "port X or port Y" shape ProtoRule.compileBPFFilter builds in the
// teacher's sniffer/config.go, minus the per-protocol/host rule nesting
// this source has no use for.
func (c *Config) compileBPFFilter() string {
	if len(c.Ports) == 0 {
		return ""
	}

	var parts []string
	for _, port := range c.Ports {
		parts = append(parts, "port "+strconv.Itoa(int(port)))
	}
	return strings.Join(parts, " or ")
}
