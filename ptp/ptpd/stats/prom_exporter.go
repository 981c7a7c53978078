/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package stats

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// PrometheusExporter exposes counters as gauges
type PrometheusExporter struct {
	registry   *prometheus.Registry
	gauges     map[string]prometheus.Gauge
	stats      *Stats
	listenPort int
	interval   time.Duration
}

// NewPrometheusExporter creates a new instance of PrometheusExporter
func NewPrometheusExporter(s *Stats, listenPort int, scrapeInterval time.Duration) *PrometheusExporter {
	return &PrometheusExporter{
		registry:   prometheus.NewRegistry(),
		gauges:     map[string]prometheus.Gauge{},
		stats:      s,
		interval:   scrapeInterval,
		listenPort: listenPort,
	}
}

// Handler returns /metrics handler
func (e *PrometheusExporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		e.registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	))
	return mux
}

// Start copies counters to gauges every interval and serves them until ctx is done
func (e *PrometheusExporter) Start(ctx context.Context) error {
	go func() {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			e.scrapeMetrics()
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return serve(ctx, fmt.Sprintf(":%d", e.listenPort), e.Handler(), "prometheus")
}

func (e *PrometheusExporter) scrapeMetrics() {
	for key, val := range e.stats.GetCounters() {
		g, ok := e.gauges[key]
		if !ok {
			g = prometheus.NewGauge(prometheus.GaugeOpts{
				Name: flattenKey(key),
				Help: key,
			})
			if err := e.registry.Register(g); err != nil {
				log.Errorf("failed to register metric %s: %v", key, err)
				continue
			}
			e.gauges[key] = g
		}
		g.Set(float64(val))
	}
}

var keyReplacer = strings.NewReplacer(" ", "_", ".", "_", "-", "_", "=", "_", "/", "_")

// flattenKey turns counter name into a valid metric name
func flattenKey(key string) string {
	return "ptpd_" + keyReplacer.Replace(key)
}
