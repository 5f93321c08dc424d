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
	"github.com/blkluv/taggr/state"
)

// FinalizeUpgrade records a completed replacement. It runs once on the
// state queue shortly after a restore.
func (p *Protocol) FinalizeUpgrade(w *state.World) error {
	rec, ok := w.Governance.FinalizeUpgrade(p.config.Now())
	if !ok {
		return nil
	}
	if p.metrics != nil {
		p.metrics.upgradesTotal.WithLabelValues("finalized").Inc()
	}
	p.logger.Info(
		"running upgraded release",
		"hash", rec.Hash,
		"commit", rec.Commit,
	)
	return nil
}

// Chores is the recurring maintenance task. It expires proposals past
// their deadline and runs an emergency upgrade whose supermajority was
// reached without being forced.
func (p *Protocol) Chores(w *state.World) error {
	now := p.config.Now()
	if expired := w.Governance.Sweep(now); len(expired) > 0 {
		p.logger.Info(
			"closed expired proposals",
			"count", len(expired),
			"ids", expired,
		)
	}
	ran, err := w.Governance.TryEmergencyUpgrade(now)
	if err != nil {
		return err
	}
	if ran {
		p.logger.Warn("emergency upgrade scheduled by chores")
	}
	return nil
}

// RegisterChores adds the recurring chores to the scheduler, running them
// every given number of scheduler ticks
func (p *Protocol) RegisterChores(s *state.Scheduler, ticks int) {
	s.Register("chores", ticks, p.Chores)
}
