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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blkluv/taggr/governance"
)

func newEmergencyFixture(t *testing.T) *testFixture {
	t.Helper()
	f := newTestFixture(t, governance.DefaultPolicy(), map[string]uint64{
		"alice": 60,
		"bob":   40,
		"steve": 0,
	})
	require.NoError(t, f.users.SetStalwart(f.caller("steve").UserID, true))
	return f
}

func TestSetEmergencyReleaseRequiresStalwart(t *testing.T) {
	f := newEmergencyFixture(t)
	err := f.gov.SetEmergencyRelease(f.ctx, f.caller("alice"), []byte("bin"))
	require.ErrorIs(t, err, governance.ErrNotStalwart)
	err = f.gov.SetEmergencyRelease(f.ctx, f.caller("steve"), nil)
	require.ErrorIs(t, err, governance.ErrInvalidPayload)
	require.Empty(t, f.gov.EmergencyStatus().Hash)
}

func TestConfirmEmergencyRelease(t *testing.T) {
	f := newEmergencyFixture(t)
	binary := []byte("hotfix")

	err := f.gov.ConfirmEmergencyRelease(f.ctx, f.caller("alice"), governance.Digest(binary))
	require.ErrorIs(t, err, governance.ErrInvalidPayload)

	require.NoError(t, f.gov.SetEmergencyRelease(f.ctx, f.caller("steve"), binary))
	err = f.gov.ConfirmEmergencyRelease(f.ctx, f.caller("steve"), governance.Digest(binary))
	require.ErrorIs(t, err, governance.ErrNoVotingPower)
	err = f.gov.ConfirmEmergencyRelease(f.ctx, f.caller("alice"), "00ff")
	require.ErrorIs(t, err, governance.ErrDigestMismatch)

	require.NoError(t, f.gov.ConfirmEmergencyRelease(f.ctx, f.caller("alice"), governance.Digest(binary)))
	// confirming twice records the current balance once
	require.NoError(t, f.gov.ConfirmEmergencyRelease(f.ctx, f.caller("alice"), governance.Digest(binary)))

	status := f.gov.EmergencyStatus()
	require.Equal(t, governance.Digest(binary), status.Hash)
	require.Equal(t, len(binary), status.Size)
	require.Equal(t, 1, status.Confirmations)
	require.Equal(t, uint64(60), status.Confirmed)
	require.Equal(t, uint64(100), status.Supply)
}

func TestEmergencyRepublishClearsConfirmations(t *testing.T) {
	f := newEmergencyFixture(t)
	first := []byte("hotfix-b")
	second := []byte("hotfix-b-prime")
	require.NoError(t, f.gov.SetEmergencyRelease(f.ctx, f.caller("steve"), first))
	require.NoError(t, f.gov.ConfirmEmergencyRelease(f.ctx, f.caller("alice"), governance.Digest(first)))
	require.NoError(t, f.gov.SetEmergencyRelease(f.ctx, f.caller("steve"), second))

	err := f.gov.ForceEmergencyUpgrade(f.ctx, f.caller("alice"), testNow)
	require.ErrorIs(t, err, governance.ErrSupermajorityNotReached)
	require.Empty(t, f.upgrades)
	require.Equal(t, uint64(0), f.gov.EmergencyStatus().Confirmed)
}

func TestForceEmergencyUpgradeBelowSupermajority(t *testing.T) {
	f := newEmergencyFixture(t)
	binary := []byte("hotfix")
	require.NoError(t, f.gov.SetEmergencyRelease(f.ctx, f.caller("steve"), binary))
	require.NoError(t, f.gov.ConfirmEmergencyRelease(f.ctx, f.caller("alice"), governance.Digest(binary)))

	err := f.gov.ForceEmergencyUpgrade(f.ctx, f.caller("alice"), testNow)
	require.ErrorIs(t, err, governance.ErrSupermajorityNotReached)
	// the failed attempt changes nothing
	require.Equal(t, governance.Digest(binary), f.gov.EmergencyStatus().Hash)
	require.Equal(t, uint64(60), f.gov.EmergencyStatus().Confirmed)
	require.Nil(t, f.gov.Pending())
}

func TestForceEmergencyUpgrade(t *testing.T) {
	f := newEmergencyFixture(t)
	// a stuck regular release is pending
	release := []byte("release-1")
	id := f.propose(t, "alice", governance.NewReleasePayload("one", release))
	require.NoError(t, f.vote(id, "alice", true, governance.Digest(release)))
	require.NotNil(t, f.gov.Pending())

	binary := []byte("hotfix")
	require.NoError(t, f.gov.SetEmergencyRelease(f.ctx, f.caller("steve"), binary))
	require.NoError(t, f.gov.ConfirmEmergencyRelease(f.ctx, f.caller("alice"), governance.Digest(binary)))
	require.NoError(t, f.gov.ConfirmEmergencyRelease(f.ctx, f.caller("bob"), governance.Digest(binary)))
	require.NoError(t, f.gov.ForceEmergencyUpgrade(f.ctx, f.caller("bob"), testNow))

	require.Len(t, f.upgrades, 2)
	req := f.upgrades[1]
	require.Equal(t, governance.UpgradeSourceEmergency, req.Source)
	require.Equal(t, governance.Digest(binary), req.Hash)
	require.Equal(t, binary, req.Binary)
	require.Equal(t, governance.Digest(binary), f.gov.Pending().Hash)

	status := f.gov.EmergencyStatus()
	require.Empty(t, status.Hash)
	require.Zero(t, status.Confirmations)

	err := f.gov.ForceEmergencyUpgrade(f.ctx, f.caller("bob"), testNow)
	require.ErrorIs(t, err, governance.ErrInvalidPayload)
}

func TestTryEmergencyUpgrade(t *testing.T) {
	f := newEmergencyFixture(t)
	ok, err := f.gov.TryEmergencyUpgrade(testNow)
	require.NoError(t, err)
	require.False(t, ok)

	binary := []byte("hotfix")
	require.NoError(t, f.gov.SetEmergencyRelease(f.ctx, f.caller("steve"), binary))
	require.NoError(t, f.gov.ConfirmEmergencyRelease(f.ctx, f.caller("alice"), governance.Digest(binary)))
	ok, err = f.gov.TryEmergencyUpgrade(testNow)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, f.gov.ConfirmEmergencyRelease(f.ctx, f.caller("bob"), governance.Digest(binary)))
	ok, err = f.gov.TryEmergencyUpgrade(testNow.Add(15 * time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, f.upgrades, 1)
	require.Equal(t, testNow.Add(15*time.Minute), f.gov.Pending().ScheduledAt)
}
