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

package state

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type machineMetrics struct {
	queueDepth   prometheus.Gauge
	tasksTotal   *prometheus.CounterVec
	taskDuration prometheus.Histogram
	phase        prometheus.Gauge
}

func newMachineMetrics(promRegistry prometheus.Registerer) *machineMetrics {
	promautoFactory := promauto.With(promRegistry)
	return &machineMetrics{
		queueDepth: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "state_queue_depth",
			Help: "tasks waiting on the state queue",
		}),
		tasksTotal: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "state_tasks_total",
				Help: "state queue tasks by result",
			},
			[]string{"result"},
		),
		taskDuration: promautoFactory.NewHistogram(prometheus.HistogramOpts{
			Name:    "state_task_duration_seconds",
			Help:    "time spent running a state queue task",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		phase: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "state_phase",
			Help: "current lifecycle phase (0 restoring, 1 running, 2 checkpointing, 3 replaced)",
		}),
	}
}
