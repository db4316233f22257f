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

// Package linesink implements a newline-delimited-JSON exporter.Sink. Each
// dissector gets its own logical channel (a pubsub.PubSub bus with one
// internal drain goroutine); records with no attached extension go to the
// basic-flow channel, if one was configured.
package linesink

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/flowcap/flowcap/exporter"
	"github.com/flowcap/flowcap/flow"
	"github.com/flowcap/flowcap/internal/json"
	"github.com/flowcap/flowcap/internal/pubsub"
	"github.com/flowcap/flowcap/logger"
)

const Name = "line"

func init() {
	exporter.Register(Name, New)
}

const queueSize = 4096

// flowEnvelope is the wire shape of one exported record. The core does
// not mandate a wire format (§6); this is linesink's own choice.
type flowEnvelope struct {
	Channel          string         `json:"channel"`
	SrcIP            string         `json:"src_ip"`
	DstIP            string         `json:"dst_ip"`
	SrcPort          uint16         `json:"src_port"`
	DstPort          uint16         `json:"dst_port"`
	Proto            uint8          `json:"proto"`
	PktTotalCount    uint64         `json:"pkt_total_count"`
	OctetTotalLength uint64         `json:"octet_total_length"`
	TCPControlBits   uint8          `json:"tcp_control_bits"`
	IPTOS            uint8          `json:"ip_tos"`
	IPTTL            uint8          `json:"ip_ttl"`
	StartTimestamp   time.Time      `json:"start_timestamp"`
	EndTimestamp     time.Time      `json:"end_timestamp"`
	Extensions       map[string]any `json:"extensions,omitempty"`
}

type packetEnvelope struct {
	Timestamp time.Time `json:"timestamp"`
	SrcIP     string    `json:"src_ip"`
	DstIP     string    `json:"dst_ip"`
	SrcPort   uint16    `json:"src_port"`
	DstPort   uint16    `json:"dst_port"`
	Proto     uint8     `json:"proto"`
}

// Sink is a linesink exporter.Sink.
type Sink struct {
	wr      io.WriteCloser
	mut     sync.Mutex
	encoder json.Encoder

	channels         []*pubsub.PubSub
	channelQueues    []pubsub.Queue
	kindToChannel    map[flow.ExtKind]int
	basicFlowChannel int

	packetBus   *pubsub.PubSub
	packetQueue pubsub.Queue

	wg      sync.WaitGroup
	closing atomic.Bool
}

// New constructs a line sink from configuration. It is registered under
// Name and invoked via exporter.Get(Name) by the controller.
func New(cfg exporter.Config) (exporter.Sink, error) {
	cfg.Line.Validate()

	var wr io.WriteCloser
	switch {
	case cfg.Line.Console:
		wr = os.Stdout
	default:
		wr = &lumberjack.Logger{
			Filename:   cfg.Line.Filename,
			MaxSize:    cfg.Line.MaxSize,
			MaxBackups: cfg.Line.MaxBackups,
			MaxAge:     cfg.Line.MaxAge,
			LocalTime:  true,
		}
	}

	return &Sink{
		wr:      wr,
		encoder: json.NewEncoder(wr),
	}, nil
}

// Init builds one pubsub channel per dissector (sharing it across every
// extension kind that dissector advertises) plus, if basicFlowChannel >= 0,
// one additional channel for records carrying no extension at all.
func (s *Sink) Init(dissectors []flow.Dissector, channelCount int, basicFlowChannel int) error {
	s.kindToChannel = make(map[flow.ExtKind]int)
	s.basicFlowChannel = basicFlowChannel
	s.channels = make([]*pubsub.PubSub, channelCount)
	s.channelQueues = make([]pubsub.Queue, channelCount)

	for i := 0; i < channelCount; i++ {
		s.channels[i] = pubsub.New()
		s.channelQueues[i] = s.channels[i].Subscribe(queueSize)
	}

	for i, d := range dissectors {
		for _, kind := range d.AdvertisedExtensionKinds() {
			s.kindToChannel[kind] = i
		}
	}

	s.packetBus = pubsub.New()
	s.packetQueue = s.packetBus.Subscribe(queueSize)

	for i := range s.channelQueues {
		s.wg.Add(1)
		go s.drainFlows(channelName(dissectors, i, s.basicFlowChannel), s.channelQueues[i])
	}
	s.wg.Add(1)
	go s.drainPackets()

	return nil
}

func channelName(dissectors []flow.Dissector, idx, basicFlowChannel int) string {
	if idx == basicFlowChannel {
		return "basic_flow"
	}
	if idx < len(dissectors) {
		name, _ := dissectors[idx].AdvertisedOutputSchema()
		return name
	}
	return "unknown"
}

func (s *Sink) drainFlows(channel string, q pubsub.Queue) {
	defer s.wg.Done()
	for {
		v, ok := q.PopTimeout(time.Second)
		if !ok {
			if s.closed() {
				return
			}
			continue
		}
		env := v.(flowEnvelope)
		env.Channel = channel
		s.encode(env)
	}
}

func (s *Sink) drainPackets() {
	defer s.wg.Done()
	for {
		v, ok := s.packetQueue.PopTimeout(time.Second)
		if !ok {
			if s.closed() {
				return
			}
			continue
		}
		s.encode(v.(packetEnvelope))
	}
}

func (s *Sink) encode(v any) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if err := s.encoder.Encode(v); err != nil {
		logger.Errorf("linesink: encode failed: %v", err)
	}
}

// ExportFlow routes record to the channel owned by the first extension it
// carries that this sink knows about, or the basic-flow channel if it
// carries none.
func (s *Sink) ExportFlow(record *flow.FlowRecord) error {
	env := flowEnvelope{
		SrcIP:            record.SrcIP.String(record.IPVersion),
		DstIP:            record.DstIP.String(record.IPVersion),
		SrcPort:          record.SrcPort,
		DstPort:          record.DstPort,
		Proto:            uint8(record.IPProto),
		PktTotalCount:    record.PktTotalCount,
		OctetTotalLength: record.OctetTotalLength,
		TCPControlBits:   record.TCPControlBits,
		IPTOS:            record.IPTOS,
		IPTTL:            record.IPTTL,
		StartTimestamp:   record.StartTimestamp,
		EndTimestamp:     record.EndTimestamp,
	}

	exts := record.Extensions()
	if len(exts) > 0 {
		env.Extensions = make(map[string]any, len(exts))
		for _, ext := range exts {
			env.Extensions[ext.Kind.String()] = ext.Data
		}
	}

	idx := s.basicFlowChannel
	for _, ext := range exts {
		if ch, ok := s.kindToChannel[ext.Kind]; ok {
			idx = ch
			break
		}
	}
	if idx < 0 || idx >= len(s.channels) {
		return nil
	}
	s.channels[idx].Publish(env)
	return nil
}

// ExportPacket emits per-packet telemetry for stateless dissectors.
func (s *Sink) ExportPacket(pkt *flow.Packet) error {
	s.packetBus.Publish(packetEnvelope{
		Timestamp: pkt.Timestamp,
		SrcIP:     pkt.SrcIP.String(pkt.IPVersion),
		DstIP:     pkt.DstIP.String(pkt.IPVersion),
		SrcPort:   pkt.SrcPort,
		DstPort:   pkt.DstPort,
		Proto:     uint8(pkt.IPProto),
	})
	return nil
}

func (s *Sink) closed() bool {
	return s.closing.Load()
}

// Close stops every drain goroutine and releases the underlying writer.
func (s *Sink) Close() error {
	s.closing.Store(true)
	s.wg.Wait()
	for i, ch := range s.channels {
		ch.Unsubscribe(s.channelQueues[i])
	}
	s.packetBus.Unsubscribe(s.packetQueue)
	return s.wr.Close()
}
