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

// Package exporter defines the sink contract the flow cache exports
// through (§4.4) and a name-keyed registry sinks register themselves
// into, in the same style as the teacher's Sinker registry.
package exporter

import (
	"github.com/flowcap/flowcap/flow"
)

// Sink is the full exporter contract (§4.4/§6): Init is called once at
// startup with the registered dissectors and the channel layout decided
// from configuration; ExportFlow/ExportPacket are called from the ingest
// goroutine for the lifetime of the process; Close runs during teardown.
type Sink interface {
	// Init prepares the sink to receive records. channelCount is the
	// number of logical output channels (one per dissector-extension-kind
	// plus, optionally, one for records with no extension); basicFlowChannel
	// is the index of that last channel, or -1 if there is none.
	Init(dissectors []flow.Dissector, channelCount int, basicFlowChannel int) error

	// ExportFlow is called by the cache on every record leaving live
	// state, for any reason.
	ExportFlow(record *flow.FlowRecord) error

	// ExportPacket is called by a stateless dissector (e.g. one that never
	// attaches an extension to a FlowRecord) wishing to emit per-packet
	// telemetry alongside flows.
	ExportPacket(pkt *flow.Packet) error

	Close() error
}

// CreateFunc constructs a Sink from its configuration.
type CreateFunc func(Config) (Sink, error)

var registry = map[string]CreateFunc{}

// Register adds a sink constructor under name, for lookup by Get. Sink
// packages call this from an init() func, mirroring how the teacher's
// protocol decoders and record sinkers register themselves.
func Register(name string, fn CreateFunc) {
	registry[name] = fn
}

// Get returns the constructor registered under name, or nil.
func Get(name string) CreateFunc {
	return registry[name]
}
