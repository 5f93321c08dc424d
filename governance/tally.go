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
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/blkluv/taggr/identity"
	"github.com/blkluv/taggr/ledger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type outcome int

const (
	outcomeOpen outcome = iota
	outcomeAccept
	outcomeReject
)

// weights is a tally in exact arithmetic. Vote weights are balances at
// vote time, so their sum may exceed the current supply or a uint64.
type weights struct {
	approve *big.Int
	reject  *big.Int
	supply  *big.Int
}

func (t Tally) weights() weights {
	return weights{
		approve: new(big.Int).SetUint64(t.Approve),
		reject:  new(big.Int).SetUint64(t.Reject),
		supply:  new(big.Int).SetUint64(t.Supply),
	}
}

// report returns the recorded tally, saturating sums that overflow
func (w weights) report() Tally {
	return Tally{
		Approve: saturate(w.approve),
		Reject:  saturate(w.reject),
		Supply:  saturate(w.supply),
	}
}

func (w weights) cast() *big.Int {
	return new(big.Int).Add(w.approve, w.reject)
}

func saturate(v *big.Int) uint64 {
	if v.IsUint64() {
		return v.Uint64()
	}
	return math.MaxUint64
}

// quorumReached reports whether cast weight is at least the quorum share
// of supply
func quorumReached(policy Policy, w weights) bool {
	if w.supply.Sign() == 0 {
		return false
	}
	lhs := w.cast()
	lhs.Mul(lhs, big.NewInt(100))
	rhs := new(big.Int).Mul(
		new(big.Int).SetUint64(policy.QuorumPercent),
		w.supply,
	)
	return lhs.Cmp(rhs) >= 0
}

// decide evaluates a tally. The margin (approve-reject)/cast must be
// strictly above the approval threshold to accept; a margin exactly at
// the threshold rejects.
func decide(policy Policy, w weights) outcome {
	if !quorumReached(policy, w) {
		return outcomeOpen
	}
	margin := new(big.Int).Sub(w.approve, w.reject)
	margin.Mul(margin, big.NewInt(100))
	threshold := w.cast()
	threshold.Mul(
		threshold,
		new(big.Int).SetUint64(policy.ApprovalPercent),
	)
	switch cmp := margin.Cmp(threshold); {
	case cmp > 0:
		return outcomeAccept
	case cmp == 0:
		return outcomeReject
	}
	if new(big.Int).Neg(margin).Cmp(threshold) >= 0 {
		return outcomeReject
	}
	return outcomeOpen
}

func (g *Governance) weigh(p *Proposal) weights {
	approve, reject := p.Sums()
	return weights{
		approve: approve,
		reject:  reject,
		supply:  new(big.Int).SetUint64(g.config.Ledger.TotalSupply()),
	}
}

// CastVote records a stake-weighted vote and, when the tally becomes
// decisive, closes the proposal and runs its payload in the same step.
func (g *Governance) CastVote(
	ctx context.Context,
	caller identity.Caller,
	proposalID uint32,
	approve bool,
	data string,
	now time.Time,
) error {
	_, span := tracer.Start(
		ctx,
		"governance.CastVote",
		trace.WithAttributes(
			attribute.Int64("proposal.id", int64(proposalID)),
			attribute.Bool("vote.approve", approve),
		),
	)
	defer span.End()
	err := g.castVote(caller, proposalID, approve, data, normalizeTime(now))
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (g *Governance) castVote(
	caller identity.Caller,
	proposalID uint32,
	approve bool,
	data string,
	now time.Time,
) error {
	p, ok := g.store.Get(proposalID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrProposalNotFound, proposalID)
	}
	if p.Status.Terminal() {
		return fmt.Errorf(
			"%w: proposal %d is %s",
			ErrProposalClosed,
			p.ID,
			p.Status,
		)
	}
	if !now.Before(p.Deadline) {
		g.expire(p)
		return fmt.Errorf(
			"%w: voting period of proposal %d ended",
			ErrProposalClosed,
			p.ID,
		)
	}
	if !caller.Registered {
		return fmt.Errorf(
			"%w: %s is not a registered user",
			ErrNoVotingPower,
			caller.Principal,
		)
	}
	balance := g.config.Ledger.BalanceOf(ledger.NewAccount(caller.Principal))
	if balance == 0 {
		return fmt.Errorf("%w: zero balance", ErrNoVotingPower)
	}
	if balance > math.MaxInt64 {
		balance = math.MaxInt64
	}
	var rewardAmount uint64
	hasRewardAmount := false
	switch p.Payload.Kind {
	case PayloadKindRelease:
		if approve && !digestMatches(data, p.Payload.Release.Binary) {
			return fmt.Errorf(
				"%w: approving a release requires the binary hash",
				ErrDigestMismatch,
			)
		}
	case PayloadKindReward:
		if trimmed := strings.TrimSpace(data); approve && trimmed != "" {
			amount, err := strconv.ParseUint(trimmed, 10, 64)
			if err != nil {
				return fmt.Errorf(
					"%w: reward amount %q: %w",
					ErrInvalidPayload,
					trimmed,
					err,
				)
			}
			rewardAmount = min(amount, g.config.Policy.MaxReward)
			hasRewardAmount = true
		}
	}
	weight := int64(balance) // #nosec G115 -- clamped above
	if !approve {
		weight = -weight
	}
	p.setVote(caller.UserID, weight)
	if p.Payload.Reward != nil {
		p.Payload.Reward.setVote(caller.UserID, rewardAmount, hasRewardAmount)
	}
	g.logger.Debug(
		fmt.Sprintf("vote on proposal %d", p.ID),
		"voter", caller.UserID,
		"weight", weight,
	)
	if g.metrics != nil {
		g.metrics.votesTotal.Inc()
	}
	g.publish(VoteCastEventType, VoteEvent{
		ProposalID: p.ID,
		Voter:      caller.UserID,
		Weight:     weight,
	})
	return g.evaluate(p, now)
}

// executionFailureReason returns the stable reason recorded on a proposal
// whose payload could not be applied. The error detail is only logged.
func executionFailureReason(err error) string {
	if errors.Is(err, ErrInsufficientTreasury) {
		return ErrInsufficientTreasury.Error()
	}
	return "execution failed"
}

// evaluate closes an open proposal if its tally is decisive. Execution
// happens inside the same call, so no other vote can land between the
// threshold check and the side effect.
func (g *Governance) evaluate(p *Proposal, now time.Time) error {
	w := g.weigh(p)
	t := w.report()
	switch decide(g.config.Policy, w) {
	case outcomeAccept:
		g.close(p, StatusExecuted, t, "")
		err := g.execute(p, w, now)
		p.dropBinary()
		if err != nil {
			p.Status = StatusRejected
			p.Reason = executionFailureReason(err)
			g.logger.Warn(
				fmt.Sprintf("proposal %d execution failed", p.ID),
				"error", err,
			)
			g.recordExecution(p, "failed")
			g.publish(ProposalClosedEventType, newProposalEvent(p))
			return err
		}
		g.logger.Info(fmt.Sprintf("proposal %d executed", p.ID))
		g.recordExecution(p, "ok")
		g.publish(ProposalClosedEventType, newProposalEvent(p))
	case outcomeReject:
		g.close(p, StatusRejected, t, "rejected by vote")
		g.logger.Info(fmt.Sprintf("proposal %d rejected", p.ID))
		g.publish(ProposalClosedEventType, newProposalEvent(p))
	case outcomeOpen:
	}
	return nil
}

// Evaluate re-runs the tally of a proposal. On a closed proposal it is a
// no-op returning ErrProposalClosed, so payloads never run twice.
func (g *Governance) Evaluate(
	ctx context.Context,
	proposalID uint32,
	now time.Time,
) error {
	_, span := tracer.Start(ctx, "governance.Evaluate")
	defer span.End()
	now = normalizeTime(now)
	p, ok := g.store.Get(proposalID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrProposalNotFound, proposalID)
	}
	if p.Status.Terminal() {
		return fmt.Errorf(
			"%w: proposal %d is %s",
			ErrProposalClosed,
			p.ID,
			p.Status,
		)
	}
	if !now.Before(p.Deadline) {
		g.expire(p)
		return fmt.Errorf(
			"%w: voting period of proposal %d ended",
			ErrProposalClosed,
			p.ID,
		)
	}
	if err := g.evaluate(p, now); err != nil {
		return err
	}
	if p.Status == StatusOpen {
		return ErrQuorumNotReached
	}
	return nil
}

// Cancel closes an open proposal on behalf of its proposer
func (g *Governance) Cancel(
	ctx context.Context,
	caller identity.Caller,
	proposalID uint32,
) error {
	_, span := tracer.Start(ctx, "governance.Cancel")
	defer span.End()
	p, ok := g.store.Get(proposalID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrProposalNotFound, proposalID)
	}
	if !caller.Registered || caller.UserID != p.Proposer {
		return fmt.Errorf("%w: proposal %d", ErrNotProposer, p.ID)
	}
	if p.Status.Terminal() {
		return fmt.Errorf(
			"%w: proposal %d is %s",
			ErrProposalClosed,
			p.ID,
			p.Status,
		)
	}
	g.close(p, StatusCancelled, g.weigh(p).report(), "cancelled by proposer")
	g.logger.Info(fmt.Sprintf("proposal %d cancelled", p.ID))
	g.publish(ProposalClosedEventType, newProposalEvent(p))
	return nil
}

// Sweep closes every open proposal whose deadline has passed and returns
// their IDs
func (g *Governance) Sweep(now time.Time) []uint32 {
	now = normalizeTime(now)
	ret := []uint32{}
	for _, p := range g.store.Open() {
		if now.Before(p.Deadline) {
			continue
		}
		g.expire(p)
		ret = append(ret, p.ID)
	}
	return ret
}

// expire closes a proposal past its deadline. Without quorum it becomes
// Expired, otherwise the undecided vote counts as a rejection.
func (g *Governance) expire(p *Proposal) {
	w := g.weigh(p)
	t := w.report()
	if quorumReached(g.config.Policy, w) {
		g.close(p, StatusRejected, t, "voting period ended without approval")
	} else {
		g.close(p, StatusExpired, t, "quorum not reached")
	}
	g.logger.Info(
		fmt.Sprintf("proposal %d %s at deadline", p.ID, p.Status),
	)
	g.publish(ProposalClosedEventType, newProposalEvent(p))
}

func (g *Governance) close(
	p *Proposal,
	status Status,
	t Tally,
	reason string,
) {
	p.close(status, t, reason)
	if status != StatusExecuted {
		p.dropBinary()
	}
	if g.metrics != nil {
		g.metrics.updateOpen(g.store)
	}
}

func (g *Governance) recordExecution(p *Proposal, result string) {
	if g.metrics == nil {
		return
	}
	g.metrics.executionsTotal.WithLabelValues(
		p.Payload.Kind.String(),
		result,
	).Inc()
}
