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

package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type ledgerMetrics struct {
	totalSupply  prometheus.Gauge
	treasury     prometheus.Gauge
	accounts     prometheus.Gauge
	transactions prometheus.Gauge
}

func (m *ledgerMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.totalSupply = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_total_supply",
		Help: "total token supply",
	})
	m.treasury = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_treasury_balance",
		Help: "treasury account balance",
	})
	m.accounts = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_accounts",
		Help: "number of accounts with a non-zero balance",
	})
	m.transactions = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_transactions",
		Help: "length of the ledger transaction log",
	})
}

func (m *ledgerMetrics) update(b *Balances) {
	m.totalSupply.Set(float64(b.supply))
	m.treasury.Set(float64(b.balances[TreasuryAccount]))
	m.accounts.Set(float64(len(b.balances)))
	m.transactions.Set(float64(len(b.log)))
}
