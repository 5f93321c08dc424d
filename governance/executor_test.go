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

package governance_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blkluv/taggr/governance"
	"github.com/blkluv/taggr/ledger"
)

func TestFundInsufficientTreasury(t *testing.T) {
	f := newTestFixture(t, testPolicy(75), map[string]uint64{
		"proposer": 100,
		"treasury": 200,
		"big":      1000,
		"small":    50,
	})
	id := f.propose(t, "proposer", governance.NewFundPayload("proposer", 500))
	require.NoError(t, f.vote(id, "big", true, ""))

	err := f.vote(id, "small", true, "")
	require.ErrorIs(t, err, governance.ErrInsufficientTreasury)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	p, err := f.gov.Proposal(id)
	require.NoError(t, err)
	require.Equal(t, governance.StatusRejected, p.Status)
	require.Equal(t, "insufficient treasury", p.Reason)
	// both votes stay recorded
	require.Len(t, p.Votes, 2)
	require.Equal(t, uint64(200), f.ledger.BalanceOf(ledger.TreasuryAccount))
	require.Equal(t, uint64(100), f.balance("proposer"))
}

func TestFundTransfersFromTreasury(t *testing.T) {
	f := newTestFixture(t, testPolicy(10), map[string]uint64{
		"alice":    100,
		"treasury": 500,
	})
	id := f.propose(t, "alice", governance.NewFundPayload("bob", 200))
	require.NoError(t, f.vote(id, "alice", true, ""))
	require.Equal(t, uint64(300), f.ledger.BalanceOf(ledger.TreasuryAccount))
	require.Equal(t, uint64(200), f.balance("bob"))

	txs := f.ledger.Transactions()
	last := txs[len(txs)-1]
	require.Equal(t, ledger.TreasuryAccount, last.From)
	require.Equal(t, "proposal #0", last.Memo)
}

func TestRewardWeightedMean(t *testing.T) {
	f := newTestFixture(t, testPolicy(40), map[string]uint64{
		"alice": 600,
		"bob":   300,
		"carol": 100,
	})
	id := f.propose(t, "alice", governance.NewRewardPayload("dave"))
	require.NoError(t, f.vote(id, "bob", true, "100"))
	require.NoError(t, f.vote(id, "carol", true, "500"))

	p, err := f.gov.Proposal(id)
	require.NoError(t, err)
	require.Equal(t, governance.StatusExecuted, p.Status)
	// (300*100 + 100*500) / 400
	require.Equal(t, uint64(200), p.Payload.Reward.Minted)
	require.Equal(t, uint64(200), f.balance("dave"))
	require.Equal(t, uint64(1200), f.ledger.TotalSupply())
}

func TestRewardAmountClamped(t *testing.T) {
	f := newTestFixture(t, testPolicy(10), map[string]uint64{
		"alice": 100,
	})
	id := f.propose(t, "alice", governance.NewRewardPayload("dave"))
	require.NoError(t, f.vote(id, "alice", true, "999999"))
	require.Equal(t, uint64(governance.DefaultMaxReward), f.balance("dave"))
}

func TestRewardAmountInvalid(t *testing.T) {
	f := newTestFixture(t, testPolicy(10), map[string]uint64{
		"alice": 100,
	})
	id := f.propose(t, "alice", governance.NewRewardPayload("dave"))
	err := f.vote(id, "alice", true, "lots")
	require.ErrorIs(t, err, governance.ErrInvalidPayload)
	p, err := f.gov.Proposal(id)
	require.NoError(t, err)
	require.Empty(t, p.Votes)
}

func TestReleaseVoteRequiresDigest(t *testing.T) {
	f := newTestFixture(t, testPolicy(10), map[string]uint64{
		"alice": 100,
	})
	binary := []byte("\x7fELF new release")
	id := f.propose(t, "alice", governance.NewReleasePayload("deadbeef", binary))

	err := f.vote(id, "alice", true, governance.Digest([]byte("other")))
	require.ErrorIs(t, err, governance.ErrDigestMismatch)
	require.ErrorIs(t, f.vote(id, "alice", true, ""), governance.ErrDigestMismatch)
	require.Empty(t, f.upgrades)

	digest := " " + strings.ToUpper(governance.Digest(binary)) + "\n"
	require.NoError(t, f.vote(id, "alice", true, digest))

	require.Len(t, f.upgrades, 1)
	req := f.upgrades[0]
	require.Equal(t, governance.UpgradeSourceProposal, req.Source)
	require.Equal(t, id, req.ProposalID)
	require.Equal(t, "deadbeef", req.Commit)
	require.Equal(t, governance.Digest(binary), req.Hash)
	require.Equal(t, binary, req.Binary)

	p, err := f.gov.Proposal(id)
	require.NoError(t, err)
	require.Equal(t, governance.StatusExecuted, p.Status)
	require.Nil(t, p.Payload.Release.Binary)
	require.Equal(t, governance.Digest(binary), p.Payload.Release.Hash)
}

func TestReleaseRejectNeedsNoDigest(t *testing.T) {
	f := newTestFixture(t, testPolicy(10), map[string]uint64{
		"alice": 100,
		"bob":   100,
	})
	id := f.propose(t, "alice", governance.NewReleasePayload("c0ffee", []byte("bin")))
	require.NoError(t, f.vote(id, "bob", false, ""))
	p, err := f.gov.Proposal(id)
	require.NoError(t, err)
	require.Equal(t, governance.StatusRejected, p.Status)
	require.Nil(t, p.Payload.Release.Binary)
	require.Empty(t, f.upgrades)
}

func TestSecondReleaseWhilePending(t *testing.T) {
	f := newTestFixture(t, testPolicy(10), map[string]uint64{
		"alice": 100,
	})
	first := []byte("release-1")
	second := []byte("release-2")
	id1 := f.propose(t, "alice", governance.NewReleasePayload("one", first))
	id2 := f.propose(t, "alice", governance.NewReleasePayload("two", second))
	require.NoError(t, f.vote(id1, "alice", true, governance.Digest(first)))

	err := f.vote(id2, "alice", true, governance.Digest(second))
	require.ErrorIs(t, err, governance.ErrUpgradePending)
	p, err := f.gov.Proposal(id2)
	require.NoError(t, err)
	require.Equal(t, governance.StatusRejected, p.Status)
	require.Len(t, f.upgrades, 1)
	require.Equal(t, governance.Digest(first), f.gov.Pending().Hash)
}
