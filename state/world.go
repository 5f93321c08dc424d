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

// Package state owns the in-memory world and serializes every access to
// it through a single FIFO task queue.
package state

import (
	"fmt"
	"log/slog"

	"github.com/blkluv/taggr/event"
	"github.com/blkluv/taggr/governance"
	"github.com/blkluv/taggr/identity"
	"github.com/blkluv/taggr/ledger"
	"github.com/prometheus/client_golang/prometheus"
)

// World is the complete mutable state of the service
type World struct {
	Ledger     *ledger.Balances
	Users      *identity.Registry
	Governance *governance.Governance
}

type WorldConfig struct {
	Policy       governance.Policy
	Upgrader     governance.Upgrader
	EventBus     *event.EventBus
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
}

// NewWorld creates an empty world
func NewWorld(cfg WorldConfig) (*World, error) {
	balances := ledger.New()
	balances.EnableMetrics(cfg.PromRegistry)
	gov, err := governance.New(governance.Config{
		Policy:       cfg.Policy,
		Ledger:       balances,
		Upgrader:     cfg.Upgrader,
		EventBus:     cfg.EventBus,
		Logger:       cfg.Logger,
		PromRegistry: cfg.PromRegistry,
	})
	if err != nil {
		return nil, fmt.Errorf("create governance: %w", err)
	}
	return &World{
		Ledger:     balances,
		Users:      identity.NewRegistry(),
		Governance: gov,
	}, nil
}

// Caller resolves a request principal against the user registry
func (w *World) Caller(principal string) identity.Caller {
	return w.Users.Resolve(principal)
}
