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

package controller

import (
	"time"

	"github.com/pkg/errors"

	"github.com/flowcap/flowcap/exporter"
	"github.com/flowcap/flowcap/logger"
	"github.com/flowcap/flowcap/server"
	"github.com/flowcap/flowcap/source/pcapsource"
)

// Config is the top-level configuration unpacked from the YAML document the
// agent is started with, one child section per concern (§6).
type Config struct {
	Cache    CacheConfig       `config:"cache"`
	Source   pcapsource.Config `config:"source"`
	Exporter exporter.Config   `config:"exporter"`
	Server   server.Config     `config:"server"`
	Logger   logger.Options    `config:"logger"`

	// Dissectors is the ordered list of dissector names to attach, by
	// registration order (§4.1's "registration order determines hook
	// invocation order"). "http" is the only protocol dissector shipped.
	Dissectors []string `config:"dissectors"`

	// StatsInterval enables the periodic stats dissector when positive.
	StatsInterval time.Duration `config:"statsInterval"`
}

// CacheConfig mirrors flow.Config plus the ingest-only knobs of §6
// (sampling_probability, packet_limit) that the cache itself knows nothing
// about.
type CacheConfig struct {
	CacheSize           int           `config:"cacheSize"`
	LineSize            int           `config:"lineSize"`
	ActiveTimeout       time.Duration `config:"activeTimeout"`
	InactiveTimeout     time.Duration `config:"inactiveTimeout"`
	SamplingProbability int           `config:"samplingProbability"`
	PacketLimit         uint64        `config:"packetLimit"`
}

func (c *CacheConfig) setDefaults() {
	if c.CacheSize <= 0 {
		c.CacheSize = 65536
	}
	if c.LineSize <= 0 {
		c.LineSize = 32
	}
	if c.ActiveTimeout <= 0 {
		c.ActiveTimeout = 300 * time.Second
	}
	if c.InactiveTimeout <= 0 {
		c.InactiveTimeout = 30 * time.Second
	}
	if c.SamplingProbability <= 0 {
		c.SamplingProbability = 100
	}
}

func (c *CacheConfig) validate() error {
	if c.CacheSize%c.LineSize != 0 {
		return errors.Errorf("cacheSize (%d) must be a multiple of lineSize (%d)", c.CacheSize, c.LineSize)
	}
	if c.SamplingProbability < 1 || c.SamplingProbability > 100 {
		return errors.Errorf("samplingProbability (%d) must be in [1,100]", c.SamplingProbability)
	}
	return nil
}
