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

// Package metrics exposes the component counters and meters registered in
// the process-wide registry.
package metrics

import (
	"os"
	"strings"

	"github.com/rcrowley/go-metrics"
)

// MetricsEnabledFlag is the CLI flag name to enable metrics collection.
const MetricsEnabledFlag = "metrics"

// Enabled gates metric collection.
var Enabled = false

// The flag is peeked from the command line at init time because component
// counters are registered from package initializers, before flag parsing.
func init() {
	for _, arg := range os.Args {
		if flag := strings.TrimLeft(arg, "-"); flag == MetricsEnabledFlag {
			Enabled = true
		}
	}
}

// Counter is a monotonically adjustable count.
type Counter = metrics.Counter

// Meter tracks event rates.
type Meter = metrics.Meter

// Gauge holds an instantaneous value.
type Gauge = metrics.Gauge

// NewRegisteredCounter constructs and registers a Counter under name.
func NewRegisteredCounter(name string) Counter {
	if !Enabled {
		return metrics.NilCounter{}
	}
	return metrics.GetOrRegisterCounter(name, metrics.DefaultRegistry)
}

// NewRegisteredMeter constructs and registers a Meter under name.
func NewRegisteredMeter(name string) Meter {
	if !Enabled {
		return metrics.NilMeter{}
	}
	return metrics.GetOrRegisterMeter(name, metrics.DefaultRegistry)
}

// NewRegisteredGauge constructs and registers a Gauge under name.
func NewRegisteredGauge(name string) Gauge {
	if !Enabled {
		return metrics.NilGauge{}
	}
	return metrics.GetOrRegisterGauge(name, metrics.DefaultRegistry)
}
