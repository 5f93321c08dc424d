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
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRewardAmountFromMargin(t *testing.T) {
	policy := DefaultPolicy()
	testDefs := []struct {
		name     string
		votes    []Vote
		proposed []RewardVote
		tally    Tally
		expected uint64
	}{
		{
			name:     "unanimous without proposals",
			votes:    []Vote{{Voter: 1, Weight: 10}},
			tally:    Tally{Approve: 10, Supply: 10},
			expected: 1000,
		},
		{
			name:     "margin scales maximum",
			votes:    []Vote{{Voter: 1, Weight: 75}, {Voter: 2, Weight: -25}},
			tally:    Tally{Approve: 75, Reject: 25, Supply: 100},
			expected: 500,
		},
		{
			name:     "rejecting voters do not propose",
			votes:    []Vote{{Voter: 1, Weight: 30}, {Voter: 2, Weight: -10}},
			proposed: []RewardVote{{Voter: 1, Amount: 70}, {Voter: 2, Amount: 900}},
			tally:    Tally{Approve: 30, Reject: 10, Supply: 40},
			expected: 70,
		},
		{
			name:     "no margin",
			votes:    []Vote{{Voter: 1, Weight: 10}, {Voter: 2, Weight: -10}},
			tally:    Tally{Approve: 10, Reject: 10, Supply: 20},
			expected: 0,
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			p := &Proposal{
				Payload: Payload{
					Kind:   PayloadKindReward,
					Reward: &Reward{Receiver: "x", Votes: testDef.proposed},
				},
				Votes: testDef.votes,
			}
			require.Equal(
				t,
				testDef.expected,
				rewardAmount(policy, p, testDef.tally.weights()),
			)
		})
	}
}

func TestDecide(t *testing.T) {
	policy := DefaultPolicy()
	testDefs := []struct {
		tally    Tally
		expected outcome
	}{
		{Tally{Approve: 0, Reject: 0, Supply: 0}, outcomeOpen},
		{Tally{Approve: 9, Reject: 0, Supply: 100}, outcomeOpen},
		{Tally{Approve: 10, Reject: 0, Supply: 100}, outcomeAccept},
		{Tally{Approve: 75, Reject: 25, Supply: 100}, outcomeReject},
		{Tally{Approve: 76, Reject: 24, Supply: 100}, outcomeAccept},
		{Tally{Approve: 60, Reject: 40, Supply: 100}, outcomeOpen},
		{Tally{Approve: 25, Reject: 75, Supply: 100}, outcomeReject},
		{Tally{Approve: ^uint64(0), Reject: 0, Supply: ^uint64(0)}, outcomeAccept},
	}
	for _, testDef := range testDefs {
		require.Equal(t, testDef.expected, decide(policy, testDef.tally.weights()), "%+v", testDef.tally)
	}
}

func TestSumsDoNotWrap(t *testing.T) {
	p := &Proposal{Votes: []Vote{
		{Voter: 1, Weight: math.MaxInt64},
		{Voter: 2, Weight: math.MaxInt64},
		{Voter: 3, Weight: math.MaxInt64},
		{Voter: 4, Weight: math.MinInt64},
	}}
	approve, reject := p.Sums()
	want := new(big.Int).Mul(big.NewInt(math.MaxInt64), big.NewInt(3))
	require.Zero(t, want.Cmp(approve))
	require.Zero(t, new(big.Int).Neg(big.NewInt(math.MinInt64)).Cmp(reject))

	w := weights{
		approve: approve,
		reject:  reject,
		supply:  new(big.Int).SetUint64(math.MaxUint64),
	}
	// 3 against 1 is a 50% margin, below the default approval threshold
	require.Equal(t, outcomeOpen, decide(DefaultPolicy(), w))
	report := w.report()
	require.Equal(t, uint64(math.MaxUint64), report.Approve)
	require.Equal(t, uint64(1)<<63, report.Reject)
}

func TestEmergencyWeightDoesNotWrap(t *testing.T) {
	g := &Governance{emergency: newEmergencyState()}
	g.emergency.Votes["a"] = math.MaxUint64
	g.emergency.Votes["b"] = 2
	want := new(big.Int).Add(new(big.Int).SetUint64(math.MaxUint64), big.NewInt(2))
	require.Zero(t, want.Cmp(g.emergencyWeight()))
}
