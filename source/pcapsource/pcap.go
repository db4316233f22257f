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

// Package pcapsource implements source.Source over libpcap, via
// github.com/gopacket/gopacket/pcap, the way the teacher's sniffer/libpcap
// drives the same library for its own (callback-based) sniffer.
package pcapsource

import (
	"io"
	"sync"

	"github.com/gopacket/gopacket/pcap"
	"github.com/pkg/errors"

	"github.com/flowcap/flowcap/source"
)

// Source is a source.Source backed by a single pcap.Handle, either a live
// interface or an offline file.
type Source struct {
	handle *pcap.Handle

	mut    sync.Mutex
	closed bool
}

// OpenFile opens path for offline replay, the teacher's makeFileHandle path
// in sniffer/libpcap/pcap.go.
func OpenFile(path string, cfg Config) (*Source, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open pcap file (%s) failed", path)
	}
	if err := applyBPFFilter(handle, &cfg); err != nil {
		handle.Close()
		return nil, err
	}
	return &Source{handle: handle}, nil
}

// InitInterface opens cfg.Iface for live capture.
func InitInterface(cfg Config) (*Source, error) {
	if cfg.Iface == "" {
		return nil, errors.New("pcapsource: iface must be set")
	}

	handle, err := pcap.OpenLive(cfg.Iface, cfg.snapLen(), cfg.Promisc, cfg.pollTimeout())
	if err != nil {
		return nil, errors.Wrapf(err, "open iface (%s) failed", cfg.Iface)
	}
	if err := applyBPFFilter(handle, &cfg); err != nil {
		handle.Close()
		return nil, err
	}
	return &Source{handle: handle}, nil
}

func applyBPFFilter(handle *pcap.Handle, cfg *Config) error {
	filter := cfg.compileBPFFilter()
	if filter == "" {
		return nil
	}
	if err := handle.SetBPFFilter(filter); err != nil {
		return errors.Wrapf(err, "set bpf-filter (%s) failed", filter)
	}
	return nil
}

// GetPacket implements source.Source.
func (s *Source) GetPacket(pkt *source.Packet) (source.Result, error) {
	s.mut.Lock()
	if s.closed {
		s.mut.Unlock()
		return source.ResultError, source.ErrSourceClosed
	}
	handle := s.handle
	s.mut.Unlock()

	data, ci, err := handle.ZeroCopyReadPacketData()
	switch {
	case err == nil:
		pkt.Data = data
		pkt.Timestamp = ci.Timestamp.UnixNano()
		return source.ResultPacket, nil

	case errors.Is(err, pcap.NextErrorTimeoutExpired):
		return source.ResultTimeout, nil

	case errors.Is(err, io.EOF), errors.Is(err, pcap.NextErrorNoMorePackets):
		return source.ResultEOF, nil

	default:
		return source.ResultError, err
	}
}

// Close implements source.Source.
func (s *Source) Close() error {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.handle.Close()
	return nil
}
