// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package blob

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamePrefix = "database_blob_"

// Metrics counts blob operations by operation name and result
type Metrics struct {
	ops   *prometheus.CounterVec
	bytes *prometheus.CounterVec
}

// NewMetrics registers the blob metrics for the named plugin. A nil registry
// returns nil, and all methods on a nil *Metrics are no-ops.
func NewMetrics(reg prometheus.Registerer, pluginName string) *Metrics {
	if reg == nil {
		return nil
	}
	labels := prometheus.Labels{"plugin": pluginName}
	return &Metrics{
		ops: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name:        metricNamePrefix + "ops_total",
				Help:        "Total number of blob store operations",
				ConstLabels: labels,
			},
			[]string{"op", "result"},
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name:        metricNamePrefix + "bytes_total",
				Help:        "Total bytes read and written by blob store operations",
				ConstLabels: labels,
			},
			[]string{"op"},
		),
	}
}

// Observe records one operation. Missing keys count as "miss", not "error".
func (m *Metrics) Observe(op string, size int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ops.WithLabelValues(op, result).Inc()
	if size > 0 {
		m.bytes.WithLabelValues(op).Add(float64(size))
	}
}

// ObserveMiss records a lookup for a key that does not exist
func (m *Metrics) ObserveMiss(op string) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, "miss").Inc()
}
