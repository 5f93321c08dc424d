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

package types_test

import (
	"database/sql"
	"database/sql/driver"
	"math"
	"testing"

	"github.com/blkluv/taggr/database/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUint64ScanValue(t *testing.T) {
	for _, v := range []uint64{0, 123, math.MaxUint64} {
		orig := types.Uint64(v)
		var valuer driver.Valuer = orig
		out, err := valuer.Value()
		require.NoError(t, err)
		var got types.Uint64
		var scanner sql.Scanner = &got
		require.NoError(t, scanner.Scan(out))
		assert.Equal(t, orig, got)
	}
}

func TestUint64ScanWrongType(t *testing.T) {
	var u types.Uint64
	require.Error(t, u.Scan(int64(5)))
	require.Error(t, u.Scan("not-a-number"))
}

func TestSnapshotKeys(t *testing.T) {
	key := types.SnapshotChunkKey(42, 3)
	assert.Equal(t, "snapshot/gen/00000000000000000042/00000003", key)
	gen, ok := types.SnapshotGenerationFromKey(key)
	require.True(t, ok)
	assert.Equal(t, uint64(42), gen)
	_, ok = types.SnapshotGenerationFromKey(types.SnapshotHeadKey)
	assert.False(t, ok)
	assert.Less(
		t,
		types.SnapshotChunkKey(9, 0),
		types.SnapshotChunkKey(10, 0),
	)
}
