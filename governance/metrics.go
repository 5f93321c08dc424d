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

package governance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type governanceMetrics struct {
	proposalsTotal     *prometheus.CounterVec
	proposalsOpen      prometheus.Gauge
	votesTotal         prometheus.Counter
	executionsTotal    *prometheus.CounterVec
	emergencyConfirmed prometheus.Gauge
}

func (m *governanceMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.proposalsTotal = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_proposals_total",
			Help: "proposals created by payload kind",
		},
		[]string{"kind"},
	)
	m.proposalsOpen = promautoFactory.NewGauge(
		prometheus.GaugeOpts{
			Name: "governance_proposals_open",
			Help: "proposals currently open for voting",
		},
	)
	m.votesTotal = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "governance_votes_total",
			Help: "accepted votes",
		},
	)
	m.executionsTotal = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_executions_total",
			Help: "payload executions by kind and result",
		},
		[]string{"kind", "result"},
	)
	m.emergencyConfirmed = promautoFactory.NewGauge(
		prometheus.GaugeOpts{
			Name: "governance_emergency_confirmed_weight",
			Help: "token weight confirming the pending emergency release",
		},
	)
}

func (m *governanceMetrics) updateOpen(s *Store) {
	m.proposalsOpen.Set(float64(len(s.Open())))
}

func (m *governanceMetrics) updateEmergency(weight uint64) {
	m.emergencyConfirmed.Set(float64(weight))
}
