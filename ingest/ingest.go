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

// Package ingest implements the thin driver loop that pulls packets from a
// source.Source, applies sampling, and feeds them to a flow.Cache.
package ingest

import (
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/flowcap/flowcap/flow"
	"github.com/flowcap/flowcap/internal/rescue"
	"github.com/flowcap/flowcap/logger"
	"github.com/flowcap/flowcap/source"
)

// Config controls the ingest driver's own behavior, independent of the
// cache it feeds.
type Config struct {
	// SamplingProbability is an integer in [0,100]; 100 means no sampling
	// and 0 admits no packet.
	SamplingProbability int

	// PacketLimit stops the loop after this many admitted packets. 0 means
	// unlimited.
	PacketLimit uint64

	// Decode turns a raw source.Packet into a flow.Packet. It runs after
	// sampling; returning false drops the packet before it reaches the cache.
	Decode func(raw source.Packet, pkt *flow.Packet) bool
}

func (c *Config) validate() {
	if c.SamplingProbability < 0 || c.SamplingProbability > 100 {
		c.SamplingProbability = 100
	}
}

// Driver runs the pull loop: GetPacket → sample → Cache.Put, responding to
// TIMEOUT with a non-forced expiry sweep and to EOF/stop with a forced one.
type Driver struct {
	src      source.Source
	cache    *flow.Cache
	cfg      Config
	rng      *rand.Rand
	stop     atomic.Bool
	admitted uint64
}

// New seeds the sampling RNG once at construction, per the single-threaded
// model's "re-seed the RNG once at startup" note: the driver never calls
// rand again concurrently with itself.
func New(src source.Source, cache *flow.Cache, cfg Config) *Driver {
	cfg.validate()
	return &Driver{
		src:   src,
		cache: cache,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Stop requests the loop exit after its current iteration.
func (d *Driver) Stop() {
	d.stop.Store(true)
}

// Run drives the loop until Stop is called, the source is exhausted, the
// packet limit is reached, or a source error occurs. It always drains the
// cache via ExportExpired(true) before returning.
func (d *Driver) Run() error {
	defer rescue.HandleCrash()
	defer d.cache.Close()

	var pkt flow.Packet
	var raw source.Packet

	for !d.stop.Load() {
		if d.cfg.PacketLimit > 0 && atomic.LoadUint64(&d.admitted) >= d.cfg.PacketLimit {
			return nil
		}

		result, err := d.src.GetPacket(&raw)
		switch result {
		case source.ResultEOF:
			return nil

		case source.ResultError:
			logger.Errorf("ingest: source error: %v", err)
			return err

		case source.ResultTimeout:
			d.cache.ExportExpired(false)
			continue

		case source.ResultPacket:
			if !d.admit(raw, &pkt) {
				continue
			}
			d.cache.Put(&pkt)
			atomic.AddUint64(&d.admitted, 1)
		}
	}
	return nil
}

// admit decodes raw and applies sampling. Returns false if the packet
// should not reach the cache.
func (d *Driver) admit(raw source.Packet, pkt *flow.Packet) bool {
	if d.cfg.SamplingProbability < 100 {
		if d.rng.Intn(100) >= d.cfg.SamplingProbability {
			return false
		}
	}
	if d.cfg.Decode == nil {
		return false
	}
	return d.cfg.Decode(raw, pkt)
}

// Admitted returns the number of packets fed to the cache so far.
func (d *Driver) Admitted() uint64 {
	return atomic.LoadUint64(&d.admitted)
}
