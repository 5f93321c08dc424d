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

package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blkluv/taggr/governance"
	"github.com/blkluv/taggr/ledger"
	"github.com/blkluv/taggr/persistence"
	"github.com/blkluv/taggr/state"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// populate builds a world with users, balances, terminal and open
// proposals and a pending emergency release
func populate(t *testing.T, w *state.World) {
	t.Helper()
	ctx := context.Background()
	alice, err := w.Users.Create("alice-principal", "alice")
	require.NoError(t, err)
	bob, err := w.Users.Create("bob-principal", "bob")
	require.NoError(t, err)
	require.NoError(t, w.Users.SetStalwart(bob.ID, true))
	_, err = w.Users.Create("carol-principal", "carol")
	require.NoError(t, err)

	require.NoError(t, w.Ledger.Mint(ledger.NewAccount(alice.Principal), 1000, "genesis", testNow))
	require.NoError(t, w.Ledger.Mint(ledger.NewAccount(bob.Principal), 50, "genesis", testNow))
	require.NoError(t, w.Ledger.Mint(ledger.TreasuryAccount, 200, "treasury", testNow))
	require.NoError(t, w.Ledger.Transfer(
		ledger.NewAccount(alice.Principal),
		ledger.Account{Owner: bob.Principal, Subaccount: "savings"},
		10,
		"gift",
		testNow.Add(time.Minute),
	))

	// rejected for lack of treasury funds
	fundID, err := w.Governance.ProposeFunding(
		ctx, w.Caller(alice.Principal), "fund carol", "carol-principal", 5, testNow,
	)
	require.NoError(t, err)
	err = w.Governance.CastVote(ctx, w.Caller(alice.Principal), fundID, true, "", testNow)
	require.ErrorIs(t, err, governance.ErrInsufficientTreasury)

	// still open with a recorded reject
	relID, err := w.Governance.ProposeRelease(
		ctx, w.Caller(bob.Principal), "release v2", "abc123", []byte("new binary"), testNow,
	)
	require.NoError(t, err)
	require.NoError(t, w.Governance.CastVote(ctx, w.Caller(bob.Principal), relID, false, "", testNow))

	_, err = w.Governance.ProposeReward(
		ctx, w.Caller(alice.Principal), "reward carol", "carol-principal", testNow,
	)
	require.NoError(t, err)

	require.NoError(t, w.Governance.SetEmergencyRelease(
		ctx, w.Caller(bob.Principal), []byte("emergency binary"),
	))
	require.NoError(t, w.Governance.ConfirmEmergencyRelease(
		ctx, w.Caller(bob.Principal), governance.Digest([]byte("emergency binary")),
	))
}

func newWorld(t *testing.T) *state.World {
	t.Helper()
	w, err := state.NewWorld(state.WorldConfig{Policy: governance.DefaultPolicy()})
	require.NoError(t, err)
	return w
}

func TestRoundTrip(t *testing.T) {
	w := newWorld(t)
	populate(t, w)

	data, err := persistence.Encode(w)
	require.NoError(t, err)
	restored, err := persistence.Decode(data)
	require.NoError(t, err)

	again, err := persistence.Encode(restored)
	require.NoError(t, err)
	assert.Equal(t, data, again, "re-encoding should give identical bytes")
	assert.Equal(t, persistence.Capture(w), persistence.Capture(restored))

	assert.Equal(t, w.Ledger.TotalSupply(), restored.Ledger.TotalSupply())
	assert.Equal(t, w.Ledger.Entries(), restored.Ledger.Entries())
	assert.Equal(t, w.Users.Users(), restored.Users.Users())
	assert.Equal(t, w.Users.NextID(), restored.Users.NextID())
	assert.Equal(t, w.Governance.Store().NextID(), restored.Governance.Store().NextID())
	assert.Equal(t, w.Governance.EmergencyStatus(), restored.Governance.EmergencyStatus())

	fund, err := restored.Governance.Proposal(0)
	require.NoError(t, err)
	assert.Equal(t, governance.StatusRejected, fund.Status)
	assert.Equal(t, "insufficient treasury", fund.Reason)
	require.NotNil(t, fund.Tally)
	assert.Equal(t, uint64(990), fund.Tally.Approve)
	assert.Equal(t, testNow, fund.CreatedAt)

	release, err := restored.Governance.Proposal(1)
	require.NoError(t, err)
	assert.Equal(t, governance.StatusOpen, release.Status)
	assert.Nil(t, release.Tally)
	assert.Equal(t, []byte("new binary"), release.Payload.Release.Binary)
}

func TestRoundTripEmptyWorld(t *testing.T) {
	data, err := persistence.Encode(newWorld(t))
	require.NoError(t, err)
	restored, err := persistence.Decode(data)
	require.NoError(t, err)
	assert.Zero(t, restored.Ledger.TotalSupply())
	assert.Zero(t, restored.Users.Len())
	assert.Zero(t, restored.Governance.Store().Len())
	again, err := persistence.Encode(restored)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := persistence.Decode([]byte{0xff, 0x00, 0x13})
	require.ErrorIs(t, err, governance.ErrSerializationFailure)
}

func TestDecodeWrongVersion(t *testing.T) {
	snap := persistence.Capture(newWorld(t))
	snap.Version = persistence.SnapshotVersion + 1
	data, err := snap.Encode()
	require.NoError(t, err)
	_, err = persistence.DecodeSnapshot(data)
	require.ErrorIs(t, err, governance.ErrSerializationFailure)
}

func TestApplyFailureLeavesWorldUnchanged(t *testing.T) {
	src := newWorld(t)
	populate(t, src)
	snap := persistence.Capture(src)
	// duplicate proposal IDs break store ordering
	snap.Proposals = append(snap.Proposals, snap.Proposals[0])

	dst := newWorld(t)
	require.NoError(t, dst.Ledger.Mint(ledger.NewAccount("dave"), 7, "", testNow))
	before := persistence.Capture(dst)
	err := snap.Apply(dst)
	require.ErrorIs(t, err, governance.ErrSerializationFailure)
	assert.Equal(t, before, persistence.Capture(dst))
}
