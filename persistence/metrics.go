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

package persistence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type persistenceMetrics struct {
	checkpointBytes    prometheus.Gauge
	checkpointDuration prometheus.Histogram
	checkpointsTotal   *prometheus.CounterVec
	restoresTotal      *prometheus.CounterVec
	backupPagesTotal   prometheus.Counter
	upgradesTotal      *prometheus.CounterVec
}

func (m *persistenceMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.checkpointBytes = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "persistence_checkpoint_bytes",
		Help: "size of the last checkpoint",
	})
	m.checkpointDuration = promautoFactory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "persistence_checkpoint_duration_seconds",
			Help:    "time spent encoding and writing a checkpoint",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)
	m.checkpointsTotal = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persistence_checkpoints_total",
			Help: "checkpoints by result",
		},
		[]string{"result"},
	)
	m.restoresTotal = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persistence_restores_total",
			Help: "restores by result",
		},
		[]string{"result"},
	)
	m.backupPagesTotal = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "persistence_backup_pages_total",
		Help: "backup pages served",
	})
	m.upgradesTotal = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persistence_upgrades_total",
			Help: "code replacements by result",
		},
		[]string{"result"},
	)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
