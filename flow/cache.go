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
	"sync/atomic"
	"time"

	"github.com/flowcap/flowcap/internal/fasttime"
	"github.com/flowcap/flowcap/logger"
)

// Sink is the narrow contract FlowCache needs from an exporter: a place to
// hand a record that just left live state, for any reason. The richer
// exporter.Sink (Init/ExportPacket/Close, used by dissectors and the
// controller) satisfies this interface structurally.
type Sink interface {
	ExportFlow(record *FlowRecord) error
}

// Config holds the construction parameters of §4.3/§6.
type Config struct {
	// CacheSize is the total number of slots across all lines. Must be a
	// positive multiple of LineSize.
	CacheSize int
	// LineSize is the number of slots per line (hash bucket).
	LineSize int
	// ActiveTimeout bounds a flow's age since its first packet.
	ActiveTimeout time.Duration
	// InactiveTimeout bounds the idle gap between a flow's packets.
	InactiveTimeout time.Duration
}

func (c Config) validate() error {
	if c.LineSize <= 0 {
		return newError("line_size must be positive, got %d", c.LineSize)
	}
	if c.CacheSize <= 0 || c.CacheSize%c.LineSize != 0 {
		return newError("cache_size (%d) must be a positive multiple of line_size (%d)", c.CacheSize, c.LineSize)
	}
	if c.ActiveTimeout < 0 || c.InactiveTimeout < 0 {
		return newError("timeouts must not be negative")
	}
	return nil
}

// slot is one entry of a line: either empty (live == false) or holding one
// FlowRecord plus the FlowKey/hash used to find it.
type slot struct {
	live   bool
	hash   uint64
	key    FlowKey
	record *FlowRecord
}

// line is one hash bucket: a fixed-size, MRU-ordered array of slots.
// Invariant: slots[0:count] are live, in most-recently-used-first order;
// slots[count:] are empty. Every insert/evict/remove operation preserves
// this invariant so lookup never has to scan past count.
type line struct {
	slots []slot
	count int
}

func newLine(size int) *line {
	return &line{slots: make([]slot, size)}
}

// find scans the line's live slots, comparing hash first then the full key,
// as §4.3's lookup algorithm specifies.
func (ln *line) find(h uint64, key FlowKey) (int, bool) {
	for i := 0; i < ln.count; i++ {
		if ln.slots[i].hash == h && ln.slots[i].key.Equal(key) {
			return i, true
		}
	}
	return -1, false
}

// moveToFront promotes the slot at pos to position 0, shifting [0,pos)
// down by one. A permutation of the line's prior state with the touched
// slot at the front and no slot lost (testable property 6).
func (ln *line) moveToFront(pos int) {
	if pos == 0 {
		return
	}
	touched := ln.slots[pos]
	copy(ln.slots[1:pos+1], ln.slots[0:pos])
	ln.slots[0] = touched
}

// insertFront makes room at position 0 for a new slot. If the line is
// already full, the current LRU occupant (position line_size-1) is
// returned for the caller to export before it is overwritten.
func (ln *line) insertFront(s slot) (evicted slot, didEvict bool) {
	full := ln.count == len(ln.slots)
	if full {
		evicted = ln.slots[len(ln.slots)-1]
		didEvict = true
	} else {
		ln.count++
	}
	copy(ln.slots[1:], ln.slots[:len(ln.slots)-1])
	ln.slots[0] = s
	return evicted, didEvict
}

// removeAt deletes the slot at pos (used by expiry sweeps), shifting the
// slots after it left by one and shrinking the live prefix.
func (ln *line) removeAt(pos int) {
	copy(ln.slots[pos:ln.count-1], ln.slots[pos+1:ln.count])
	ln.slots[ln.count-1] = slot{}
	ln.count--
}

// Stats is a point-in-time snapshot of Cache's counters (§4.3).
type Stats struct {
	PacketsIngested  uint64
	Hits             uint64
	Misses           uint64
	LRUEvictions     uint64
	InactiveTimeouts uint64
	ActiveTimeouts   uint64
	FlushEvents      uint64
}

type counters struct {
	packets, hits, misses               atomic.Uint64
	lruEvictions, inactiveExp, activeExp atomic.Uint64
	flushEvents                          atomic.Uint64
}

// Cache is the fixed-size, per-line-LRU flow-aggregation cache of §4.3. It
// is driven from a single goroutine: Put and ExportExpired must never be
// called concurrently with each other or with themselves.
type Cache struct {
	lines []line
	cfg   Config

	sink       Sink
	dissectors []Dissector

	stats counters
}

// NewCache constructs a Cache with numLines = cfg.CacheSize/cfg.LineSize
// empty lines. dissectors run in the given order for every hook (§4.1).
func NewCache(cfg Config, sink Sink, dissectors []Dissector) (*Cache, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, newError("sink must not be nil")
	}

	numLines := cfg.CacheSize / cfg.LineSize
	lines := make([]line, numLines)
	for i := range lines {
		lines[i] = *newLine(cfg.LineSize)
	}

	return &Cache{
		lines:      lines,
		cfg:        cfg,
		sink:       sink,
		dissectors: dissectors,
	}, nil
}

// Put ingests one packet. It completes synchronously and never blocks.
// Exporter errors are logged, never propagated: loss is preferred over
// stalling ingest (§4.3 failure semantics).
func (c *Cache) Put(pkt *Packet) {
	c.stats.packets.Add(1)

	key, reversed := newFlowKey(pkt)
	h := key.hash()
	ln := &c.lines[h%uint64(len(c.lines))]

	c.expireLine(ln, pkt.Timestamp)

	if pos, found := ln.find(h, key); found {
		c.putUpdate(ln, pos, pkt)
		return
	}
	c.putCreate(ln, h, key, reversed, pkt)
}

// expireLine applies §4.3's lazy timeout expiry to ln, relative to the
// current packet's timestamp, before any lookup happens on that line.
func (c *Cache) expireLine(ln *line, now time.Time) {
	for i := ln.count - 1; i >= 0; i-- {
		rec := ln.slots[i].record
		inactiveExpired := c.cfg.InactiveTimeout >= 0 && now.Sub(rec.EndTimestamp) >= c.cfg.InactiveTimeout
		activeExpired := c.cfg.ActiveTimeout >= 0 && now.Sub(rec.StartTimestamp) >= c.cfg.ActiveTimeout
		if !inactiveExpired && !activeExpired {
			continue
		}

		c.export(rec)
		if inactiveExpired {
			c.stats.inactiveExp.Add(1)
		}
		if activeExpired {
			c.stats.activeExp.Add(1)
		}
		ln.removeAt(i)
	}
}

// ExportExpired drains flows that have timed out (force=false, reference is
// wall clock) or, with force=true, every live flow regardless of age — the
// shutdown drain of §5.
func (c *Cache) ExportExpired(force bool) {
	now := fasttime.Now()
	for li := range c.lines {
		ln := &c.lines[li]
		for i := ln.count - 1; i >= 0; i-- {
			rec := ln.slots[i].record
			expired := force ||
				now.Sub(rec.EndTimestamp) >= c.cfg.InactiveTimeout ||
				now.Sub(rec.StartTimestamp) >= c.cfg.ActiveTimeout
			if !expired {
				continue
			}
			c.export(rec)
			ln.removeAt(i)
		}
	}
}

// Close drains every live flow and runs each dissector's Finish hook, the
// shutdown sequence of §4.1 step 6 / §5.
func (c *Cache) Close() {
	c.ExportExpired(true)
	for _, d := range c.dissectors {
		d.Finish()
	}
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	return Stats{
		PacketsIngested:  c.stats.packets.Load(),
		Hits:             c.stats.hits.Load(),
		Misses:           c.stats.misses.Load(),
		LRUEvictions:     c.stats.lruEvictions.Load(),
		InactiveTimeouts: c.stats.inactiveExp.Load(),
		ActiveTimeouts:   c.stats.activeExp.Load(),
		FlushEvents:      c.stats.flushEvents.Load(),
	}
}

// putUpdate handles a cache hit: promote to MRU, run pre_update, fold the
// packet's fields into the aggregate, run post_update (§4.3 update path).
func (c *Cache) putUpdate(ln *line, pos int, pkt *Packet) {
	c.stats.hits.Add(1)
	ln.moveToFront(pos)
	record := ln.slots[0].record

	if status := c.runHooks(record, pkt, Dissector.PreUpdate); status != StatusOK {
		c.flush(ln, pkt, status)
		return
	}

	record.applyUpdate(pkt)

	if status := c.runHooks(record, pkt, Dissector.PostUpdate); status != StatusOK {
		c.flush(ln, pkt, status)
		return
	}
}

// putCreate handles a cache miss: evict the LRU occupant if the line is
// full, insert the new record at the front, run post_create (§4.3 miss
// path).
func (c *Cache) putCreate(ln *line, h uint64, key FlowKey, reversed bool, pkt *Packet) {
	c.stats.misses.Add(1)

	record := newFlowRecord(pkt, reversed)
	evicted, didEvict := ln.insertFront(slot{live: true, hash: h, key: key, record: record})
	if didEvict {
		c.export(evicted.record)
		c.stats.lruEvictions.Add(1)
	}

	if status := c.runHooks(record, pkt, Dissector.PostCreate); status != StatusOK {
		c.flush(ln, pkt, status)
	}
}

// flush implements §4.1 step 4: export the record now occupying the front
// of ln, create a fresh record for the triggering packet in its place, and
// for FLUSH_WITH_REINSERT replay the packet through post_create against it.
func (c *Cache) flush(ln *line, pkt *Packet, status Status) {
	c.stats.flushEvents.Add(1)

	front := &ln.slots[0]
	c.export(front.record)

	_, reversed := newFlowKey(pkt)
	front.record.reset(pkt, reversed)
	record := front.record

	if status != StatusFlushWithReinsert {
		return
	}

	if st := c.runHooks(record, pkt, Dissector.PostCreate); st != StatusOK {
		c.flush(ln, pkt, st)
	}
}

// export runs pre_export on every dissector then hands record to the sink.
// Exactly one export_flow is observed per record (testable property 5).
func (c *Cache) export(record *FlowRecord) {
	for _, d := range c.dissectors {
		d.PreExport(record)
	}
	if err := c.sink.ExportFlow(record); err != nil {
		logger.Errorf("flow: export failed: %v", err)
	}
}

// runHooks calls hook(d, record, pkt) for each registered dissector in
// registration order, stopping at the first non-OK status.
func (c *Cache) runHooks(record *FlowRecord, pkt *Packet, hook func(Dissector, *FlowRecord, *Packet) Status) Status {
	for _, d := range c.dissectors {
		if status := hook(d, record, pkt); status != StatusOK {
			return status
		}
	}
	return StatusOK
}
