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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink records every exported record for inspection.
type fakeSink struct {
	flows []*FlowRecord
}

func (s *fakeSink) ExportFlow(record *FlowRecord) error {
	cp := *record
	cp.extensions = append([]RecordExt(nil), record.extensions...)
	s.flows = append(s.flows, &cp)
	return nil
}

// recordingDissector counts hook invocations and lets tests script a
// status to return from a chosen hook.
type recordingDissector struct {
	preExportCalls int
	onPreUpdate    func(record *FlowRecord, pkt *Packet) Status
}

func (d *recordingDissector) PostCreate(*FlowRecord, *Packet) Status { return StatusOK }

func (d *recordingDissector) PreUpdate(record *FlowRecord, pkt *Packet) Status {
	if d.onPreUpdate != nil {
		return d.onPreUpdate(record, pkt)
	}
	return StatusOK
}

func (d *recordingDissector) PostUpdate(*FlowRecord, *Packet) Status { return StatusOK }

func (d *recordingDissector) PreExport(*FlowRecord) { d.preExportCalls++ }

func (d *recordingDissector) Finish() {}

func (d *recordingDissector) AdvertisedExtensionKinds() []ExtKind { return nil }

func (d *recordingDissector) AdvertisedOutputSchema() (string, int) { return "test", 1 }

func (d *recordingDissector) IncludesBasicFlow() bool { return true }

func tcpPacket(t time.Time, srcIP byte, srcPort uint16, dstIP byte, dstPort uint16, length int) *Packet {
	var src, dst IP
	src[0], dst[0] = srcIP, dstIP
	return &Packet{
		Timestamp: t,
		IPVersion: IPv4,
		SrcIP:     src,
		DstIP:     dst,
		IPProto:   ProtoTCP,
		SrcPort:   srcPort,
		DstPort:   dstPort,
		L3Bytes:   make([]byte, length),
	}
}

func newTestCache(t *testing.T, cacheSize, lineSize int, active, inactive time.Duration, dissectors ...Dissector) (*Cache, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	c, err := NewCache(Config{
		CacheSize:       cacheSize,
		LineSize:        lineSize,
		ActiveTimeout:   active,
		InactiveTimeout: inactive,
	}, sink, dissectors)
	require.NoError(t, err)
	return c, sink
}

func TestNewCacheValidatesConfig(t *testing.T) {
	sink := &fakeSink{}
	_, err := NewCache(Config{CacheSize: 10, LineSize: 3}, sink, nil)
	assert.Error(t, err)

	_, err = NewCache(Config{CacheSize: 0, LineSize: 1}, sink, nil)
	assert.Error(t, err)

	_, err = NewCache(Config{CacheSize: 8, LineSize: -1}, sink, nil)
	assert.Error(t, err)

	_, err = NewCache(Config{CacheSize: 8, LineSize: 4}, nil, nil)
	assert.Error(t, err)
}

// Property 3/4: same canonical key, either direction, updates one record.
func TestPutSameFlowBothDirectionsUpdatesSameRecord(t *testing.T) {
	c, sink := newTestCache(t, 32, 32, time.Minute, time.Minute)
	base := time.Unix(1000, 0)

	c.Put(tcpPacket(base, 1, 1000, 2, 2000, 100))
	c.Put(tcpPacket(base.Add(time.Second), 2, 2000, 1, 1000, 200))

	c.Close()
	require.Len(t, sink.flows, 1)
	assert.EqualValues(t, 2, sink.flows[0].PktTotalCount)
	assert.EqualValues(t, 300, sink.flows[0].OctetTotalLength)
}

// Round-trip: the same packet submitted twice yields pkt_total_cnt=2 and
// identical key fields.
func TestPutSamePacketTwice(t *testing.T) {
	c, sink := newTestCache(t, 32, 32, time.Minute, time.Minute)
	pkt := tcpPacket(time.Unix(0, 0), 1, 1000, 2, 2000, 64)

	c.Put(pkt)
	c.Put(pkt)
	c.Close()

	require.Len(t, sink.flows, 1)
	rec := sink.flows[0]
	assert.EqualValues(t, 2, rec.PktTotalCount)
	assert.Equal(t, pkt.SrcIP, rec.SrcIP)
	assert.Equal(t, pkt.DstIP, rec.DstIP)
	assert.Empty(t, rec.extensions)
}

// Property 6: MRU promotion is a permutation with the touched slot at front.
func TestMoveToFrontPreservesSlots(t *testing.T) {
	ln := newLine(4)
	for i := 0; i < 4; i++ {
		ln.insertFront(slot{live: true, hash: uint64(i)})
	}
	// After four inserts-at-front, order is [3,2,1,0].
	require.Equal(t, []uint64{3, 2, 1, 0}, hashesOf(ln))

	ln.moveToFront(2) // touch hash==1
	assert.Equal(t, []uint64{1, 3, 2, 0}, hashesOf(ln))
}

func hashesOf(ln *line) []uint64 {
	out := make([]uint64, ln.count)
	for i := 0; i < ln.count; i++ {
		out[i] = ln.slots[i].hash
	}
	return out
}

// S4 — LRU eviction with cache_size == line_size == 2.
func TestLRUEvictionSingleLine(t *testing.T) {
	c, sink := newTestCache(t, 2, 2, time.Hour, time.Hour)
	base := time.Unix(0, 0)

	c.Put(tcpPacket(base, 1, 1, 10, 10, 10))    // flow A
	c.Put(tcpPacket(base, 2, 2, 20, 20, 10))    // flow B
	c.Put(tcpPacket(base, 3, 3, 30, 30, 10))    // flow C, evicts A (LRU)

	require.Len(t, sink.flows, 1)
	assert.EqualValues(t, 1, sink.flows[0].PktTotalCount)
	assert.Equal(t, byte(1), sink.flows[0].SrcIP[0])

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.LRUEvictions)
	assert.EqualValues(t, 3, stats.Misses)
}

// S3 — inactive timeout: a later, unrelated packet triggers export of a
// flow whose idle gap reaches inactive_timeout, because expiry is lazily
// evaluated on the line it would have landed in.
func TestInactiveTimeoutExpiryOnSameLine(t *testing.T) {
	inactive := 30 * time.Second
	c, sink := newTestCache(t, 2, 2, time.Hour, inactive)

	p1 := tcpPacket(time.Unix(0, 0), 1, 1, 10, 10, 10)
	c.Put(p1)

	p2 := tcpPacket(time.Unix(0, 0).Add(inactive), 1, 1, 99, 99, 10) // different flow, same line (cache_size==line_size)
	c.Put(p2)

	require.Len(t, sink.flows, 1)
	assert.EqualValues(t, 1, sink.flows[0].PktTotalCount)
	assert.Equal(t, byte(10), sink.flows[0].DstIP[0])

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.InactiveTimeouts)
}

// Boundary: active_timeout == 0 forces an export on every put for that key.
func TestZeroActiveTimeoutExportsEveryPut(t *testing.T) {
	c, sink := newTestCache(t, 4, 4, 0, time.Hour)
	base := time.Unix(0, 0)

	c.Put(tcpPacket(base, 1, 1, 2, 2, 10))
	c.Put(tcpPacket(base.Add(time.Nanosecond), 1, 1, 2, 2, 10))
	c.Put(tcpPacket(base.Add(2*time.Nanosecond), 1, 1, 2, 2, 10))

	// Each put expires whatever was there before creating a fresh record;
	// two exports happen before Close, each holding exactly one packet.
	assert.Len(t, sink.flows, 2)
	for _, f := range sink.flows {
		assert.EqualValues(t, 1, f.PktTotalCount)
	}
}

// Property 7 / S6: export_expired(true) drains every live record exactly
// once, regardless of timeouts.
func TestExportExpiredForceDrainsCache(t *testing.T) {
	c, sink := newTestCache(t, 64, 32, time.Hour, time.Hour)
	base := time.Unix(0, 0)
	for i := byte(0); i < 5; i++ {
		c.Put(tcpPacket(base, i, uint16(i)+1, i+100, uint16(i)+101, 10))
	}

	c.ExportExpired(true)
	assert.Len(t, sink.flows, 5)

	// A subsequent force-drain observes no further live records.
	c.ExportExpired(true)
	assert.Len(t, sink.flows, 5)
}

// Property 5: pre_export runs exactly once per record before export_flow.
func TestPreExportCalledOncePerRecord(t *testing.T) {
	rec := &recordingDissector{}
	c, sink := newTestCache(t, 4, 4, time.Hour, time.Hour, rec)

	pkt := tcpPacket(time.Unix(0, 0), 1, 1, 2, 2, 10)
	c.Put(pkt)
	c.Close()

	require.Len(t, sink.flows, 1)
	assert.Equal(t, 1, rec.preExportCalls)
}

// A dissector requesting FLUSH_WITH_REINSERT on the second update causes
// two distinct records to be exported, each with one packet (S2's shape,
// exercised directly against the hook contract rather than the HTTP
// dissector).
func TestPreUpdateFlushWithReinsertSplitsFlow(t *testing.T) {
	flushedOnce := false
	d := &recordingDissector{
		onPreUpdate: func(record *FlowRecord, pkt *Packet) Status {
			if flushedOnce {
				return StatusOK
			}
			flushedOnce = true
			return StatusFlushWithReinsert
		},
	}
	c, sink := newTestCache(t, 4, 4, time.Hour, time.Hour, d)
	base := time.Unix(0, 0)

	c.Put(tcpPacket(base, 1, 1000, 2, 80, 50))
	c.Put(tcpPacket(base.Add(time.Second), 1, 1000, 2, 80, 60))
	c.Close()

	require.Len(t, sink.flows, 2)
	assert.EqualValues(t, 1, sink.flows[0].PktTotalCount)
	assert.EqualValues(t, 1, sink.flows[1].PktTotalCount)
}

// A dissector requesting plain FLUSH still creates a fresh record seeded
// from the triggering packet, but does not replay it through post_create.
func TestPreUpdatePlainFlushDoesNotReinsert(t *testing.T) {
	d := &flushOnceDissector{statusToReturn: StatusFlush}
	c, sink := newTestCache(t, 4, 4, time.Hour, time.Hour, d)
	base := time.Unix(0, 0)

	c.Put(tcpPacket(base, 1, 1000, 2, 80, 50))
	c.Put(tcpPacket(base.Add(time.Second), 1, 1000, 2, 80, 60))
	c.Close()

	require.Len(t, sink.flows, 2)
	assert.Equal(t, 1, d.postCreateCalls)
}

type flushOnceDissector struct {
	recordingDissector
	flushed         bool
	statusToReturn  Status
	postCreateCalls int
}

func (d *flushOnceDissector) PostCreate(record *FlowRecord, pkt *Packet) Status {
	d.postCreateCalls++
	return StatusOK
}

func (d *flushOnceDissector) PreUpdate(record *FlowRecord, pkt *Packet) Status {
	if d.flushed {
		return StatusOK
	}
	d.flushed = true
	return d.statusToReturn
}

// Invariant 1: per-line occupancy never exceeds line_size, and total live
// slots never exceed cache_size.
func TestLineNeverExceedsLineSize(t *testing.T) {
	c, _ := newTestCache(t, 8, 2, time.Hour, time.Hour)
	base := time.Unix(0, 0)
	for i := byte(0); i < 20; i++ {
		c.Put(tcpPacket(base, i, uint16(i)+1, i+50, uint16(i)+51, 10))
	}
	for i := range c.lines {
		assert.LessOrEqual(t, c.lines[i].count, 2)
	}
}
