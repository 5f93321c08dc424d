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

package identity_test

import (
	"testing"

	"github.com/blkluv/taggr/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndResolve(t *testing.T) {
	r := identity.NewRegistry()
	alice, err := r.Create("principal-alice", "alice")
	require.NoError(t, err)
	bob, err := r.Create("principal-bob", "bob")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), alice.ID)
	assert.Equal(t, uint64(1), bob.ID)

	require.NoError(t, r.SetStalwart(bob.ID, true))

	c := r.Resolve("principal-bob")
	assert.True(t, c.Registered)
	assert.True(t, c.Stalwart)
	assert.Equal(t, bob.ID, c.UserID)

	anon := r.Resolve("nobody")
	assert.False(t, anon.Registered)
	assert.Equal(t, "nobody", anon.Principal)
}

func TestCreateDuplicates(t *testing.T) {
	r := identity.NewRegistry()
	_, err := r.Create("p1", "alice")
	require.NoError(t, err)

	_, err = r.Create("p1", "other")
	require.ErrorIs(t, err, identity.ErrPrincipalInUse)

	_, err = r.Create("p2", "ALICE")
	require.ErrorIs(t, err, identity.ErrUserExists)

	// failed creations do not consume IDs
	u, err := r.Create("p2", "carol")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), u.ID)
}

func TestValidateUsername(t *testing.T) {
	testDefs := []struct {
		name  string
		valid bool
	}{
		{"ab", true},
		{"a", false},
		{"alice_01", true},
		{"1alice", false},
		{"al ice", false},
		{"abcdefghijklmnopq", false},
	}
	for _, testDef := range testDefs {
		err := identity.ValidateUsername(testDef.name)
		if testDef.valid {
			assert.NoError(t, err, testDef.name)
		} else {
			assert.ErrorIs(t, err, identity.ErrInvalidUsername, testDef.name)
		}
	}
}

func TestFromUsers(t *testing.T) {
	r := identity.NewRegistry()
	_, err := r.Create("p1", "alice")
	require.NoError(t, err)
	_, err = r.Create("p2", "bob")
	require.NoError(t, err)
	require.NoError(t, r.SetStalwart(1, true))

	restored, err := identity.FromUsers(r.Users(), r.NextID())
	require.NoError(t, err)
	assert.Equal(t, r.Users(), restored.Users())
	assert.Equal(t, r.NextID(), restored.NextID())
	u, ok := restored.ByName("Bob")
	require.True(t, ok)
	assert.True(t, u.Stalwart)
}
