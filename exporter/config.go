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

// Config is the top-level exporter configuration, decoded from the
// `exporter` section of the ingest driver's YAML config.
type Config struct {
	Line   LineConfig   `config:"line"`
	Metric MetricConfig `config:"metric"`
}

// LineConfig configures the JSON-lines sink (exporter/linesink).
type LineConfig struct {
	Enabled    bool   `config:"enabled"`
	Console    bool   `config:"console"`
	Filename   string `config:"filename"`
	MaxSize    int    `config:"maxSize"`
	MaxBackups int    `config:"maxBackups"`
	MaxAge     int    `config:"maxAge"`
}

func (c *LineConfig) Validate() {
	if c.Filename == "" {
		c.Filename = "flows.log"
	}
	if c.MaxSize <= 0 {
		c.MaxSize = 100
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 7
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 10
	}
}

// MetricConfig configures the Prometheus counters sink
// (exporter/metricsink).
type MetricConfig struct {
	Enabled bool `config:"enabled"`
}
