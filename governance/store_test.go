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
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blkluv/taggr/governance"
	"github.com/blkluv/taggr/identity"
	"github.com/blkluv/taggr/ledger"
)

func TestCreateRequiresStake(t *testing.T) {
	policy := testPolicy(10)
	policy.MinProposerStake = 50
	f := newTestFixture(t, policy, map[string]uint64{
		"alice": 100,
		"bob":   10,
		"carol": 0,
	})
	payload := governance.NewRewardPayload("alice")

	for _, caller := range []identity.Caller{
		f.caller("bob"),
		f.caller("carol"),
		{Principal: "stranger"},
	} {
		_, err := f.gov.Propose(f.ctx, caller, "x", payload, testNow)
		require.ErrorIs(t, err, governance.ErrInsufficientStake)
	}
	require.Equal(t, uint32(0), f.gov.Store().NextID())

	id, err := f.gov.Propose(f.ctx, f.caller("alice"), "x", payload, testNow)
	require.NoError(t, err)
	require.Equal(t, uint32(0), id)
}

func TestCreateRejectsInvalidPayload(t *testing.T) {
	f := newTestFixture(t, testPolicy(10), map[string]uint64{
		"alice": 100,
	})
	testDefs := []governance.Payload{
		governance.NewReleasePayload("abc", nil),
		governance.NewRewardPayload(""),
		governance.NewFundPayload("bob", 0),
		governance.NewFundPayload("", 10),
		{Kind: governance.PayloadKindFund},
		{
			Kind:   governance.PayloadKindReward,
			Reward: &governance.Reward{Receiver: "bob"},
			Fund:   &governance.Fund{Receiver: "bob", Amount: 1},
		},
	}
	for _, payload := range testDefs {
		_, err := f.gov.Propose(f.ctx, f.caller("alice"), "x", payload, testNow)
		require.ErrorIs(t, err, governance.ErrInvalidPayload)
	}
	require.Equal(t, 0, f.gov.Store().Len())
	require.Equal(t, uint32(0), f.gov.Store().NextID())
}

func TestCreateSetsDeadline(t *testing.T) {
	f := newTestFixture(t, testPolicy(10), map[string]uint64{
		"alice": 100,
	})
	id := f.propose(t, "alice", governance.NewRewardPayload("alice"))
	p, err := f.gov.Proposal(id)
	require.NoError(t, err)
	require.Equal(t, testNow, p.CreatedAt)
	require.Equal(t, testNow.Add(governance.DefaultVotingPeriod), p.Deadline)
	require.Equal(t, governance.StatusOpen, p.Status)
	require.Nil(t, p.Tally)
}

func TestListPageNewestFirst(t *testing.T) {
	f := newTestFixture(t, testPolicy(10), map[string]uint64{
		"alice": 100,
	})
	for range 12 {
		f.propose(t, "alice", governance.NewRewardPayload("alice"))
	}
	page0 := f.gov.Proposals(0)
	require.Len(t, page0, governance.DefaultPageSize)
	require.Equal(t, uint32(11), page0[0].ID)
	require.Equal(t, uint32(2), page0[9].ID)

	page1 := f.gov.Proposals(1)
	require.Len(t, page1, 2)
	require.Equal(t, uint32(1), page1[0].ID)
	require.Equal(t, uint32(0), page1[1].ID)

	require.Empty(t, f.gov.Proposals(2))
	require.Empty(t, f.gov.Proposals(-1))
	require.Empty(t, f.gov.Proposals(math.MaxInt/governance.DefaultPageSize+1))
	require.Empty(t, f.gov.Proposals(math.MaxInt))
}

func TestListPageHugePageOnEmptyStore(t *testing.T) {
	store := governance.NewStore(ledger.New(), testPolicy(10))
	require.Empty(t, store.ListPage(math.MaxInt64/10+1, 10))
	require.Empty(t, store.ListPage(0, 10))
}

func TestProposalNotFound(t *testing.T) {
	f := newTestFixture(t, testPolicy(10), map[string]uint64{
		"alice": 100,
	})
	_, err := f.gov.Proposal(7)
	require.ErrorIs(t, err, governance.ErrProposalNotFound)
	require.ErrorIs(t, f.vote(7, "alice", true, ""), governance.ErrProposalNotFound)
}

func TestProposeFundingScalesTokens(t *testing.T) {
	f := newTestFixture(t, testPolicy(10), map[string]uint64{
		"alice": 100,
	})
	id, err := f.gov.ProposeFunding(f.ctx, f.caller("alice"), "grant", "bob", 3, testNow)
	require.NoError(t, err)
	p, err := f.gov.Proposal(id)
	require.NoError(t, err)
	require.Equal(t, uint64(300), p.Payload.Fund.Amount)

	_, err = f.gov.ProposeFunding(
		f.ctx,
		f.caller("alice"),
		"too much",
		"bob",
		1<<62,
		testNow,
	)
	require.ErrorIs(t, err, governance.ErrInvalidPayload)
}
