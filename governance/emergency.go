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
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/blkluv/taggr/identity"
	"github.com/blkluv/taggr/ledger"
)

// EmergencyState is the pending emergency binary and the balances
// recorded by confirming principals
type EmergencyState struct {
	Binary []byte
	Votes  map[string]uint64
}

func newEmergencyState() EmergencyState {
	return EmergencyState{Votes: make(map[string]uint64)}
}

// EmergencyStatus summarizes the emergency path for display
type EmergencyStatus struct {
	Hash          string
	Size          int
	Confirmations int
	Confirmed     uint64
	Supply        uint64
	Threshold     uint64
}

// SetEmergencyRelease publishes a candidate binary. Only stalwarts may
// publish, and every earlier confirmation is discarded.
func (g *Governance) SetEmergencyRelease(
	ctx context.Context,
	caller identity.Caller,
	binary []byte,
) error {
	_, span := tracer.Start(ctx, "governance.SetEmergencyRelease")
	defer span.End()
	if !caller.Registered || !caller.Stalwart {
		return fmt.Errorf("%w: %s", ErrNotStalwart, caller.Principal)
	}
	if len(binary) == 0 {
		return fmt.Errorf("%w: empty binary", ErrInvalidPayload)
	}
	g.emergency = EmergencyState{
		Binary: binary,
		Votes:  make(map[string]uint64),
	}
	hash := Digest(binary)
	g.logger.Warn(
		"emergency release published",
		"hash", hash,
		"stalwart", caller.UserID,
	)
	if g.metrics != nil {
		g.metrics.updateEmergency(0)
	}
	g.publish(EmergencyEventType, EmergencyEvent{
		Action:    EmergencyActionPublished,
		Hash:      hash,
		Principal: caller.Principal,
	})
	return nil
}

// ConfirmEmergencyRelease records the caller's current balance as a
// confirmation, provided the submitted digest matches the pending binary
func (g *Governance) ConfirmEmergencyRelease(
	ctx context.Context,
	caller identity.Caller,
	digest string,
) error {
	_, span := tracer.Start(ctx, "governance.ConfirmEmergencyRelease")
	defer span.End()
	balance := g.config.Ledger.BalanceOf(ledger.NewAccount(caller.Principal))
	if balance == 0 {
		return fmt.Errorf("%w: zero balance", ErrNoVotingPower)
	}
	if len(g.emergency.Binary) == 0 {
		return fmt.Errorf("%w: no emergency release pending", ErrInvalidPayload)
	}
	if !digestMatches(digest, g.emergency.Binary) {
		return fmt.Errorf(
			"%w: submitted %q",
			ErrDigestMismatch,
			digest,
		)
	}
	g.emergency.Votes[caller.Principal] = balance
	weight := saturate(g.emergencyWeight())
	g.logger.Info(
		"emergency release confirmed",
		"principal", caller.Principal,
		"weight", balance,
		"total", weight,
	)
	if g.metrics != nil {
		g.metrics.updateEmergency(weight)
	}
	g.publish(EmergencyEventType, EmergencyEvent{
		Action:    EmergencyActionConfirmed,
		Hash:      Digest(g.emergency.Binary),
		Principal: caller.Principal,
		Weight:    balance,
	})
	return nil
}

// ForceEmergencyUpgrade triggers the emergency upgrade if confirmations
// exceed the supermajority share of total supply. Otherwise it has no
// effect and returns ErrSupermajorityNotReached.
func (g *Governance) ForceEmergencyUpgrade(
	ctx context.Context,
	caller identity.Caller,
	now time.Time,
) error {
	_, span := tracer.Start(ctx, "governance.ForceEmergencyUpgrade")
	defer span.End()
	if len(g.emergency.Binary) == 0 {
		return fmt.Errorf("%w: no emergency release pending", ErrInvalidPayload)
	}
	g.logger.Info(
		"emergency upgrade forced",
		"principal", caller.Principal,
	)
	return g.executeEmergency(now)
}

// TryEmergencyUpgrade runs the emergency upgrade if its supermajority has
// been reached. It is called from periodic chores.
func (g *Governance) TryEmergencyUpgrade(now time.Time) (bool, error) {
	if len(g.emergency.Binary) == 0 {
		return false, nil
	}
	if !g.supermajorityReached() {
		return false, nil
	}
	if err := g.executeEmergency(now); err != nil {
		return false, err
	}
	return true, nil
}

func (g *Governance) executeEmergency(now time.Time) error {
	if !g.supermajorityReached() {
		return fmt.Errorf(
			"%w: %d of %d confirmed",
			ErrSupermajorityNotReached,
			g.emergencyWeight(),
			g.config.Ledger.TotalSupply(),
		)
	}
	binary := g.emergency.Binary
	req := UpgradeRequest{
		Source: UpgradeSourceEmergency,
		Hash:   Digest(binary),
		Binary: binary,
	}
	// the break-glass path replaces any stuck pending release
	if err := g.scheduleUpgrade(req, normalizeTime(now), true); err != nil {
		return err
	}
	g.emergency = newEmergencyState()
	if g.metrics != nil {
		g.metrics.updateEmergency(0)
	}
	g.publish(EmergencyEventType, EmergencyEvent{
		Action: EmergencyActionExecuted,
		Hash:   req.Hash,
	})
	return nil
}

// EmergencyStatus reports the pending emergency binary and its support
func (g *Governance) EmergencyStatus() EmergencyStatus {
	ret := EmergencyStatus{
		Size:          len(g.emergency.Binary),
		Confirmations: len(g.emergency.Votes),
		Confirmed:     saturate(g.emergencyWeight()),
		Supply:        g.config.Ledger.TotalSupply(),
		Threshold:     g.config.Policy.SupermajorityPercent,
	}
	if len(g.emergency.Binary) > 0 {
		ret.Hash = Digest(g.emergency.Binary)
	}
	return ret
}

// emergencyWeight sums confirmations recorded at different times, so the
// total may exceed the current supply
func (g *Governance) emergencyWeight() *big.Int {
	total := new(big.Int)
	for _, w := range g.emergency.Votes {
		total.Add(total, new(big.Int).SetUint64(w))
	}
	return total
}

// supermajorityReached compares confirmed weight with total supply, not
// with cast weight
func (g *Governance) supermajorityReached() bool {
	supply := g.config.Ledger.TotalSupply()
	if supply == 0 {
		return false
	}
	lhs := g.emergencyWeight()
	lhs.Mul(lhs, big.NewInt(100))
	rhs := new(big.Int).SetUint64(supply)
	rhs.Mul(rhs, new(big.Int).SetUint64(g.config.Policy.SupermajorityPercent))
	return lhs.Cmp(rhs) > 0
}
