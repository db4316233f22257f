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

// Package statsdissector implements a passive Dissector that periodically
// logs the flow cache's counters — the optional StatsDissector referenced
// by §4.3's Statistics section.
package statsdissector

import (
	"time"

	"github.com/flowcap/flowcap/flow"
	"github.com/flowcap/flowcap/logger"
)

// statsSource is the narrow view of flow.Cache this dissector needs. It
// lets tests substitute a fake without constructing a whole Cache.
type statsSource interface {
	Stats() flow.Stats
}

// Dissector reports flow.Cache.Stats() at a fixed interval, on its own
// goroutine, until Finish stops it. It never touches FlowRecords: every
// hook except Finish is a no-op.
type Dissector struct {
	source   statsSource
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

// New constructs a stats dissector that logs at the given interval. It must
// be registered with a flow.Cache before that Cache exists, so the source
// of stats (the Cache itself) is supplied later, to Start.
func New(interval time.Duration) *Dissector {
	return &Dissector{
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the periodic logging goroutine, reading stats from source.
// Call it once, after the owning Cache has been constructed with this
// dissector already registered.
func (d *Dissector) Start(source statsSource) {
	d.source = source
	go d.run()
}

func (d *Dissector) run() {
	defer close(d.done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.log()
		case <-d.stop:
			return
		}
	}
}

func (d *Dissector) log() {
	s := d.source.Stats()
	logger.Infof("flow cache stats: packets=%d hits=%d misses=%d lru_evictions=%d "+
		"inactive_timeouts=%d active_timeouts=%d flush_events=%d",
		s.PacketsIngested, s.Hits, s.Misses, s.LRUEvictions,
		s.InactiveTimeouts, s.ActiveTimeouts, s.FlushEvents)
}

func (d *Dissector) PostCreate(*flow.FlowRecord, *flow.Packet) flow.Status { return flow.StatusOK }
func (d *Dissector) PreUpdate(*flow.FlowRecord, *flow.Packet) flow.Status  { return flow.StatusOK }
func (d *Dissector) PostUpdate(*flow.FlowRecord, *flow.Packet) flow.Status { return flow.StatusOK }
func (d *Dissector) PreExport(*flow.FlowRecord)                            {}

// Finish stops the logging goroutine and emits one final snapshot.
func (d *Dissector) Finish() {
	close(d.stop)
	<-d.done
	d.log()
}

func (d *Dissector) AdvertisedExtensionKinds() []flow.ExtKind { return nil }

func (d *Dissector) AdvertisedOutputSchema() (string, int) { return "", 0 }

func (d *Dissector) IncludesBasicFlow() bool { return false }
