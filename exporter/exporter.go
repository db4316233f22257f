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

package exporter

import (
	"github.com/flowcap/flowcap/flow"
)

// Exporter fans a single flow.Sink/exporter.Sink contract out to every sink
// enabled in Config, so the cache and the ingest driver never need to know
// how many sinks are actually wired.
type Exporter struct {
	sinks []Sink
}

// New constructs every sink named in cfg whose section is enabled, in a
// fixed order (line, then metric) so channel layouts stay deterministic
// across restarts.
func New(cfg Config) (*Exporter, error) {
	var sinks []Sink

	if cfg.Line.Enabled {
		f := Get("line")
		s, err := f(cfg)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}

	if cfg.Metric.Enabled {
		f := Get("metric")
		s, err := f(cfg)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}

	return &Exporter{sinks: sinks}, nil
}

// Init fans out to every enabled sink.
func (e *Exporter) Init(dissectors []flow.Dissector, channelCount int, basicFlowChannel int) error {
	for _, s := range e.sinks {
		if err := s.Init(dissectors, channelCount, basicFlowChannel); err != nil {
			return err
		}
	}
	return nil
}

// ExportFlow fans record out to every enabled sink. The first error wins;
// the remaining sinks still run, matching the cache's "loss is preferred
// over stalling ingest" policy for exporter failures.
func (e *Exporter) ExportFlow(record *flow.FlowRecord) error {
	var first error
	for _, s := range e.sinks {
		if err := s.ExportFlow(record); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ExportPacket fans pkt out to every enabled sink.
func (e *Exporter) ExportPacket(pkt *flow.Packet) error {
	var first error
	for _, s := range e.sinks {
		if err := s.ExportPacket(pkt); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close closes every enabled sink, collecting the first error but always
// attempting them all.
func (e *Exporter) Close() error {
	var first error
	for _, s := range e.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
