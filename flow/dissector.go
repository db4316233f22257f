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

// Status is the outcome of a single Dissector hook call. All dissector
// outcomes are explicit status codes — no hook returns an error; a
// dissector that fails to parse a payload simply leaves the record alone.
type Status uint8

const (
	// StatusOK means continue normally: run the remaining hooks for this
	// packet, if any.
	StatusOK Status = iota

	// StatusFlush means the current flow must be exported immediately and
	// a new flow created for the triggering packet. The new flow is seeded
	// from the packet's fields, but the packet is not replayed through the
	// hooks.
	StatusFlush

	// StatusFlushWithReinsert is StatusFlush, except the triggering packet
	// is replayed through the hook chain against the freshly created flow.
	StatusFlushWithReinsert
)

// Dissector is the protocol-plugin contract. Registration order among the
// dissectors attached to a Cache determines hook invocation order, which is
// part of the contract (§4.1): a dissector that flushes skips the hooks of
// dissectors registered after it for that packet.
//
// A Dissector may read/mutate only the extension(s) it owns, located via
// FlowRecord.GetExtension/AddExtension. Hooks must never retain pkt beyond
// the call: Packet is only valid for the duration of the ingest iteration
// that produced it.
type Dissector interface {
	// PostCreate runs once, right after Cache creates a new FlowRecord for
	// pkt (the record had no live slot for pkt's key).
	PostCreate(record *FlowRecord, pkt *Packet) Status

	// PreUpdate runs before Cache folds pkt's fields into an existing
	// FlowRecord's aggregates. This is where a dissector observes semantic
	// boundaries (e.g. a second HTTP request) and requests a flush.
	PreUpdate(record *FlowRecord, pkt *Packet) Status

	// PostUpdate runs after Cache has folded pkt's fields into record.
	PostUpdate(record *FlowRecord, pkt *Packet) Status

	// PreExport runs once per record, right before it is handed to the
	// exporter sink, for any reason (timeout, eviction, flush, shutdown).
	PreExport(record *FlowRecord)

	// Finish runs once, when the Cache is shut down, so a dissector can
	// report final statistics.
	Finish()

	// AdvertisedExtensionKinds returns the extension kinds this dissector
	// may attach, so a Sink can learn the channel set without inspecting
	// live records.
	AdvertisedExtensionKinds() []ExtKind

	// AdvertisedOutputSchema names and versions the wire shape this
	// dissector's extension(s) contribute to an exported record.
	AdvertisedOutputSchema() (name string, version int)

	// IncludesBasicFlow reports whether records this dissector annotates
	// should also be counted against the sink's "basic flow" channel, as
	// opposed to only the dissector's own extension channel(s).
	IncludesBasicFlow() bool
}
