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

package badger_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/blkluv/taggr/database/plugin/blob"
	"github.com/blkluv/taggr/database/plugin/blob/badger"
	"github.com/blkluv/taggr/database/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryStore(t *testing.T, opts ...badger.BlobStoreBadgerOptionFunc) *badger.BlobStoreBadger {
	t.Helper()
	store, err := badger.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func TestGetPutDelete(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, types.ErrBlobKeyNotFound)

	require.NoError(t, store.Put(ctx, "a", []byte("one")))
	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	require.NoError(t, store.Delete(ctx, "a"))
	_, err = store.Get(ctx, "a")
	require.ErrorIs(t, err, types.ErrBlobKeyNotFound)
}

func TestListPrefixOrder(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()
	for _, k := range []string{"p/2", "q/1", "p/1", "p/10"} {
		require.NoError(t, store.Put(ctx, k, []byte(k)))
	}
	keys, err := store.List(ctx, "p/")
	require.NoError(t, err)
	assert.Equal(t, []string{"p/1", "p/10", "p/2"}, keys)
}

func TestPutAllThroughHelper(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()
	var _ blob.Batcher = store
	entries := []types.BlobEntry{
		{Key: "x/0", Value: make([]byte, 4096)},
		{Key: "x/1", Value: []byte("tail")},
		{Key: "head", Value: []byte("x")},
	}
	require.NoError(t, blob.PutAll(ctx, store, entries))
	for _, e := range entries {
		got, err := store.Get(ctx, e.Key)
		require.NoError(t, err)
		assert.Equal(t, e.Value, got)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(
		t,
		store.PutAll(cancelled, []types.BlobEntry{{Key: "y", Value: []byte("y")}}),
		context.Canceled,
	)
	_, err := store.Get(ctx, "y")
	require.ErrorIs(t, err, types.ErrBlobKeyNotFound)
}

func TestInMemoryLargeValues(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()
	value := bytes.Repeat([]byte{0x5a}, badger.InMemoryValueThreshold)
	require.NoError(t, store.Put(ctx, "big", value))
	got, err := store.Get(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, value, got)
	// Larger values are rejected without a value log
	require.Error(t, store.Put(ctx, "bigger", append(value, 0)))
}

func TestOnDiskReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	store, err := badger.New(badger.WithDataDir(dir), badger.WithGc(false))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "k", []byte("v")))
	require.NoError(t, store.Close())
	// Second close is a no-op
	require.NoError(t, store.Close())

	store, err = badger.New(badger.WithDataDir(dir))
	require.NoError(t, err)
	defer store.Close()
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	store := newMemoryStore(t, badger.WithPromRegistry(reg))
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "k", []byte("value")))
	_, err := store.Get(ctx, "k")
	require.NoError(t, err)
	_, err = store.Get(ctx, "nope")
	require.Error(t, err)

	count, err := testutil.GatherAndCount(reg, "database_blob_ops_total")
	require.NoError(t, err)
	// put/ok, get/ok, get/miss
	assert.Equal(t, 3, count)
}
