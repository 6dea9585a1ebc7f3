// Copyright 2023 The go-cbdc Authors
// This file is part of the go-cbdc library.
//
// The go-cbdc library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-cbdc library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-cbdc library. If not, see <http://www.gnu.org/licenses/>.

// Package prometheus bridges the go-metrics registry into a prometheus
// collector and serves it over HTTP.
package prometheus

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcrowley/go-metrics"
)

type registryCollector struct {
	registry metrics.Registry
}

// NewCollector returns a prometheus collector exporting every counter,
// meter and gauge in the default go-metrics registry.
func NewCollector() prometheus.Collector {
	return &registryCollector{registry: metrics.DefaultRegistry}
}

func (c *registryCollector) Describe(ch chan<- *prometheus.Desc) {
	// Descriptions are dynamic; emit nothing and rely on unchecked
	// collection.
}

func promName(name string) string {
	return strings.NewReplacer("/", "_", ".", "_", "-", "_").Replace(name)
}

func (c *registryCollector) Collect(ch chan<- prometheus.Metric) {
	c.registry.Each(func(name string, i interface{}) {
		desc := prometheus.NewDesc(promName(name), name, nil, nil)
		switch m := i.(type) {
		case metrics.Counter:
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(m.Count()))
		case metrics.Meter:
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, m.Rate1())
		case metrics.Gauge:
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(m.Value()))
		}
	})
}

// Serve registers the bridge collector and serves /metrics on addr.
// It blocks; run it on its own goroutine.
func Serve(addr string) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector()); err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
