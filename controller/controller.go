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

// Package controller wires together a packet source, the flow.Cache,
// dissectors, the exporter and the admin/metrics server into one runnable
// agent, the way the teacher's controller package wires sniffer, pipeline
// and exporter.
package controller

import (
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowcap/flowcap/common"
	"github.com/flowcap/flowcap/confengine"
	"github.com/flowcap/flowcap/dissector/httpdissector"
	"github.com/flowcap/flowcap/dissector/statsdissector"
	"github.com/flowcap/flowcap/exporter"
	_ "github.com/flowcap/flowcap/exporter/linesink"
	_ "github.com/flowcap/flowcap/exporter/metricsink"
	"github.com/flowcap/flowcap/flow"
	"github.com/flowcap/flowcap/ingest"
	"github.com/flowcap/flowcap/internal/rescue"
	"github.com/flowcap/flowcap/internal/sigs"
	"github.com/flowcap/flowcap/logger"
	"github.com/flowcap/flowcap/server"
	"github.com/flowcap/flowcap/source"
	"github.com/flowcap/flowcap/source/pcapsource"
)

var (
	uptime = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: common.App,
		Name:      "uptime_seconds",
		Help:      "Seconds since the agent started",
	})

	buildInfoGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "build_info",
			Help:      "Build metadata, always 1, labeled by version/hash/time",
		},
		[]string{"version", "hash", "time"},
	)

	cacheGauges = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "flow_cache_stats",
			Help:      "flow.Cache counters, labeled by counter name",
		},
		[]string{"counter"},
	)
)

func newError(format string, args ...any) error {
	return errors.Errorf("controller: "+format, args...)
}

func newDissector(name string) (flow.Dissector, error) {
	switch name {
	case "http":
		return httpdissector.New(), nil
	default:
		return nil, newError("unknown dissector %q", name)
	}
}

func openSource(cfg pcapsource.Config) (source.Source, error) {
	if cfg.File != "" {
		return pcapsource.OpenFile(cfg.File, cfg)
	}
	return pcapsource.InitInterface(cfg)
}

// Controller owns every long-lived collaborator of a running agent and
// presents the lifecycle the cmd package drives: New, Start, Reload, Stop.
type Controller struct {
	cfg       Config
	buildInfo common.BuildInfo

	src   source.Source
	cache *flow.Cache
	exp   *exporter.Exporter
	svr   *server.Server
	drv   *ingest.Driver
	stats *statsdissector.Dissector

	started time.Time
}

// New assembles a Controller from conf: the source, the flow cache with
// its registered dissectors, the fan-out exporter, and the admin server.
// Nothing runs yet; call Start.
func New(conf *confengine.Config, buildInfo common.BuildInfo) (*Controller, error) {
	var cfg Config
	if err := conf.Unpack(&cfg); err != nil {
		return nil, errors.Wrap(err, "unpack config")
	}
	cfg.Cache.setDefaults()
	if err := cfg.Cache.validate(); err != nil {
		return nil, err
	}

	if opts := cfg.Logger; opts != (logger.Options{}) {
		logger.SetOptions(opts)
	}

	src, err := openSource(cfg.Source)
	if err != nil {
		return nil, errors.Wrap(err, "open source")
	}

	exp, err := exporter.New(cfg.Exporter)
	if err != nil {
		src.Close()
		return nil, errors.Wrap(err, "build exporter")
	}

	names := cfg.Dissectors
	if len(names) == 0 {
		names = []string{"http"}
	}

	var dissectors []flow.Dissector
	for _, name := range names {
		d, err := newDissector(name)
		if err != nil {
			src.Close()
			return nil, err
		}
		dissectors = append(dissectors, d)
	}

	var stats *statsdissector.Dissector
	if cfg.StatsInterval > 0 {
		stats = statsdissector.New(cfg.StatsInterval)
		dissectors = append(dissectors, stats)
	}

	basicFlowChannel := -1
	for _, d := range dissectors {
		if d.IncludesBasicFlow() {
			basicFlowChannel = len(dissectors)
			break
		}
	}
	channelCount := len(dissectors)
	if basicFlowChannel >= 0 {
		channelCount++
	}
	if err := exp.Init(dissectors, channelCount, basicFlowChannel); err != nil {
		src.Close()
		return nil, errors.Wrap(err, "init exporter")
	}

	cache, err := flow.NewCache(flow.Config{
		CacheSize:       cfg.Cache.CacheSize,
		LineSize:        cfg.Cache.LineSize,
		ActiveTimeout:   cfg.Cache.ActiveTimeout,
		InactiveTimeout: cfg.Cache.InactiveTimeout,
	}, exp, dissectors)
	if err != nil {
		src.Close()
		exp.Close()
		return nil, errors.Wrap(err, "build cache")
	}

	if stats != nil {
		stats.Start(cache)
	}

	svr, err := server.New(conf)
	if err != nil {
		src.Close()
		exp.Close()
		return nil, errors.Wrap(err, "build server")
	}

	drv := ingest.New(src, cache, ingest.Config{
		SamplingProbability: cfg.Cache.SamplingProbability,
		PacketLimit:         cfg.Cache.PacketLimit,
		Decode:              pcapsource.Decode,
	})

	return &Controller{
		cfg:       cfg,
		buildInfo: buildInfo,
		src:       src,
		cache:     cache,
		exp:       exp,
		svr:       svr,
		drv:       drv,
		stats:     stats,
	}, nil
}

// Start launches the admin/metrics server and the ingest loop, each on its
// own goroutine, and returns immediately: neither goroutine ever touches
// flow.Cache concurrently with the other (§5).
func (c *Controller) Start() error {
	c.started = time.Now()
	c.setupServer()

	if c.svr != nil {
		go func() {
			defer rescue.HandleCrash()
			if err := c.svr.ListenAndServe(); err != nil && !errors.Is(err, io.EOF) {
				logger.Errorf("controller: server stopped: %v", err)
			}
		}()
	}

	go func() {
		defer rescue.HandleCrash()
		if err := c.drv.Run(); err != nil {
			logger.Errorf("controller: ingest stopped: %v", err)
		}
	}()

	return nil
}

func (c *Controller) setupServer() {
	if c.svr == nil {
		return
	}

	c.svr.RegisterGetRoute("/metrics", func(w http.ResponseWriter, r *http.Request) {
		c.recordMetrics()
		promhttp.Handler().ServeHTTP(w, r)
	})

	c.svr.RegisterPostRoute("/-/logger", func(w http.ResponseWriter, r *http.Request) {
		logger.SetLoggerLevel(r.FormValue("level"))
		_, _ = w.Write([]byte(`{"status": "success"}`))
	})
	c.svr.RegisterPostRoute("/-/reload", func(w http.ResponseWriter, r *http.Request) {
		if err := sigs.SelfReload(); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(err.Error()))
		}
	})
}

func (c *Controller) recordMetrics() {
	uptime.Set(time.Since(c.started).Seconds())
	buildInfoGauge.WithLabelValues(c.buildInfo.Version, c.buildInfo.GitHash, c.buildInfo.Time).Set(1)

	s := c.cache.Stats()
	cacheGauges.WithLabelValues("packets_ingested").Set(float64(s.PacketsIngested))
	cacheGauges.WithLabelValues("hits").Set(float64(s.Hits))
	cacheGauges.WithLabelValues("misses").Set(float64(s.Misses))
	cacheGauges.WithLabelValues("lru_evictions").Set(float64(s.LRUEvictions))
	cacheGauges.WithLabelValues("inactive_timeouts").Set(float64(s.InactiveTimeouts))
	cacheGauges.WithLabelValues("active_timeouts").Set(float64(s.ActiveTimeouts))
	cacheGauges.WithLabelValues("flush_events").Set(float64(s.FlushEvents))
}

// Reload only applies the logger options; the stats interval, cache sizing
// and source selection take effect only on a restart, matching the
// teacher's own narrow Reload ("仅支持重新编译 protocols rule" in spirit).
func (c *Controller) Reload(conf *confengine.Config) error {
	var cfg Config
	if err := conf.Unpack(&cfg); err != nil {
		return errors.Wrap(err, "unpack config")
	}
	if opts := cfg.Logger; opts != (logger.Options{}) {
		logger.SetOptions(opts)
	}
	return nil
}

// Stop drains the ingest loop (which itself drains the cache on exit via
// flow.Cache.Close), then tears down the source and exporter, aggregating
// any teardown errors rather than stopping at the first. The admin server
// is not shut down.
func (c *Controller) Stop() {
	c.drv.Stop()

	var result error
	if err := c.src.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.exp.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if result != nil {
		logger.Errorf("controller: teardown errors: %v", result)
	}
}
