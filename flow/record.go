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
	"time"

	"github.com/pkg/errors"
)

func newError(format string, args ...any) error {
	format = "flow: " + format
	return errors.Errorf(format, args...)
}

// ErrExtensionExists is returned by FlowRecord.AddExtension when an
// extension of the same kind is already attached: the invariant in §3 is
// "at most one extension of each kind per flow".
var ErrExtensionExists = newError("extension already attached")

// ExtKind tags the application-layer annotation a dissector attaches to a
// FlowRecord. The original design used a linked list of polymorphic
// extension objects; §9's redesign note replaces that with a tagged variant
// kept in a small slice, which is what RecordExt/ExtKind implement here.
type ExtKind uint8

const (
	ExtHTTPRequest ExtKind = iota
	ExtHTTPResponse
	ExtDNS
	ExtSIP
	ExtNTP
	ExtARP
)

func (k ExtKind) String() string {
	switch k {
	case ExtHTTPRequest:
		return "http_request"
	case ExtHTTPResponse:
		return "http_response"
	case ExtDNS:
		return "dns"
	case ExtSIP:
		return "sip"
	case ExtNTP:
		return "ntp"
	case ExtARP:
		return "arp"
	default:
		return "unknown"
	}
}

// RecordExt is one typed annotation attached to a FlowRecord, tagged by
// Kind so Cache and Sink can identify it without a type switch ladder.
type RecordExt struct {
	Kind ExtKind
	Data any
}

// FlowRecord is the aggregated bidirectional record for one flow. It is
// owned exclusively by the FlowCache for as long as it is live; a Dissector
// may only read/mutate the extension(s) it owns via Get/AddExtension.
type FlowRecord struct {
	IPVersion IPVersion
	SrcIP     IP
	DstIP     IP
	SrcPort   uint16
	DstPort   uint16
	IPProto   Proto

	// Reversed records whether the first packet ingested for this flow had
	// its source as the canonical key's B endpoint rather than A.
	Reversed bool

	StartTimestamp time.Time
	EndTimestamp   time.Time

	PktTotalCount    uint64
	OctetTotalLength uint64
	TCPControlBits   uint8
	IPTOS            uint8
	IPTTL            uint8

	extensions []RecordExt
}

// newFlowRecord creates a FlowRecord from the packet that caused a cache
// miss, seeding key fields, timestamps and counts per §3's lifecycle.
func newFlowRecord(pkt *Packet, reversed bool) *FlowRecord {
	return &FlowRecord{
		IPVersion: pkt.IPVersion,
		SrcIP:     pkt.SrcIP,
		DstIP:     pkt.DstIP,
		SrcPort:   pkt.SrcPort,
		DstPort:   pkt.DstPort,
		IPProto:   pkt.IPProto,
		Reversed:  reversed,

		StartTimestamp: pkt.Timestamp,
		EndTimestamp:   pkt.Timestamp,

		PktTotalCount:    1,
		OctetTotalLength: pkt.L3Length(),
		TCPControlBits:   pkt.TCPFlags,
		IPTOS:            pkt.IPTOS,
		IPTTL:            pkt.IPTTL,
	}
}

// applyUpdate folds a same-key packet's fields into the aggregate. Called
// by FlowCache between the pre_update and post_update dissector hooks.
func (r *FlowRecord) applyUpdate(pkt *Packet) {
	r.PktTotalCount++
	r.OctetTotalLength += pkt.L3Length()
	r.TCPControlBits |= pkt.TCPFlags
	r.EndTimestamp = pkt.Timestamp
}

// GetExtension returns the extension of the given kind attached to r, if
// any. Dissectors use this to find the node they own before mutating it.
func (r *FlowRecord) GetExtension(kind ExtKind) (any, bool) {
	for i := range r.extensions {
		if r.extensions[i].Kind == kind {
			return r.extensions[i].Data, true
		}
	}
	return nil, false
}

// AddExtension attaches a new extension of the given kind to r. It fails if
// one of that kind is already attached — the one-per-kind invariant of §3.
func (r *FlowRecord) AddExtension(kind ExtKind, data any) error {
	if _, ok := r.GetExtension(kind); ok {
		return ErrExtensionExists
	}
	r.extensions = append(r.extensions, RecordExt{Kind: kind, Data: data})
	return nil
}

// Extensions returns the live extensions attached to r, in attachment
// order. Callers (sinks) must not retain or mutate the returned slice.
func (r *FlowRecord) Extensions() []RecordExt {
	return r.extensions
}

// reset clears r's extensions and reseeds key/aggregate fields from pkt,
// so a flushed slot's backing FlowRecord is reused for the next flow
// instead of allocating a fresh struct. Eviction and creation on a miss
// allocate a new FlowRecord instead.
func (r *FlowRecord) reset(pkt *Packet, reversed bool) {
	r.IPVersion = pkt.IPVersion
	r.SrcIP = pkt.SrcIP
	r.DstIP = pkt.DstIP
	r.SrcPort = pkt.SrcPort
	r.DstPort = pkt.DstPort
	r.IPProto = pkt.IPProto
	r.Reversed = reversed

	r.StartTimestamp = pkt.Timestamp
	r.EndTimestamp = pkt.Timestamp

	r.PktTotalCount = 1
	r.OctetTotalLength = pkt.L3Length()
	r.TCPControlBits = pkt.TCPFlags
	r.IPTOS = pkt.IPTOS
	r.IPTTL = pkt.IPTTL

	r.extensions = r.extensions[:0]
}
