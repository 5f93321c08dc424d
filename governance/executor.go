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
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/blkluv/taggr/ledger"
)

// execute performs the side effect of an approved proposal. It is the
// single dispatch point over payload kinds and runs only on the Executed
// transition.
func (g *Governance) execute(p *Proposal, w weights, now time.Time) error {
	memo := fmt.Sprintf("proposal #%d", p.ID)
	switch p.Payload.Kind {
	case PayloadKindRelease:
		release := p.Payload.Release
		release.Hash = Digest(release.Binary)
		return g.scheduleUpgrade(
			UpgradeRequest{
				Source:     UpgradeSourceProposal,
				ProposalID: p.ID,
				Commit:     release.Commit,
				Hash:       release.Hash,
				Binary:     release.Binary,
			},
			now,
			false,
		)
	case PayloadKindReward:
		reward := p.Payload.Reward
		minted := rewardAmount(g.config.Policy, p, w)
		if minted == 0 {
			return nil
		}
		if err := g.config.Ledger.Mint(
			ledger.NewAccount(reward.Receiver),
			minted,
			memo,
			now,
		); err != nil {
			return fmt.Errorf("mint reward: %w", err)
		}
		reward.Minted = minted
		return nil
	case PayloadKindFund:
		fund := p.Payload.Fund
		if err := g.config.Ledger.Transfer(
			ledger.TreasuryAccount,
			ledger.NewAccount(fund.Receiver),
			fund.Amount,
			memo,
			now,
		); err != nil {
			if errors.Is(err, ledger.ErrInsufficientFunds) {
				return fmt.Errorf("%w: %w", ErrInsufficientTreasury, err)
			}
			return fmt.Errorf("fund transfer: %w", err)
		}
		return nil
	default:
		return fmt.Errorf(
			"%w: unknown kind %d",
			ErrInvalidPayload,
			p.Payload.Kind,
		)
	}
}

// rewardAmount derives the minted amount from the final tally: the
// stake-weighted mean of amounts proposed by approving voters, or the
// maximum reward scaled by the approval margin when nobody proposed one.
// The result never exceeds the policy maximum.
func rewardAmount(policy Policy, p *Proposal, w weights) uint64 {
	maxReward := new(big.Int).SetUint64(policy.MaxReward)
	weighted := new(big.Int)
	total := new(big.Int)
	for _, rv := range p.Payload.Reward.Votes {
		v, ok := p.VoteOf(rv.Voter)
		if !ok || v.Weight <= 0 {
			continue
		}
		w := big.NewInt(v.Weight)
		weighted.Add(
			weighted,
			new(big.Int).Mul(w, new(big.Int).SetUint64(rv.Amount)),
		)
		total.Add(total, w)
	}
	var amount *big.Int
	if total.Sign() > 0 {
		amount = weighted.Quo(weighted, total)
	} else {
		cast := w.cast()
		if cast.Sign() == 0 || w.approve.Cmp(w.reject) <= 0 {
			return 0
		}
		margin := new(big.Int).Sub(w.approve, w.reject)
		amount = margin.Mul(margin, maxReward)
		amount.Quo(amount, cast)
	}
	if amount.Cmp(maxReward) > 0 {
		amount = maxReward
	}
	return amount.Uint64()
}
