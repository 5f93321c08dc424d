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

package database_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"testing"

	fage "filippo.io/age"
	"github.com/blkluv/taggr/database"
	"github.com/blkluv/taggr/database/plugin/blob/badger"
	"github.com/blkluv/taggr/database/sops"
	"github.com/blkluv/taggr/database/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBlobStore(t *testing.T) *badger.BlobStoreBadger {
	t.Helper()
	store, err := badger.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return buf
}

func TestSnapshotEmptyStore(t *testing.T) {
	store := database.NewSnapshotStore(newBlobStore(t))
	ctx := context.Background()
	_, err := store.Head(ctx)
	require.ErrorIs(t, err, database.ErrNoSnapshot)
	_, _, err = store.Read(ctx)
	require.ErrorIs(t, err, database.ErrNoSnapshot)
}

func TestSnapshotWriteRead(t *testing.T) {
	store := database.NewSnapshotStore(newBlobStore(t))
	ctx := context.Background()
	data := randomBytes(t, 2*database.BackupPageSize+17)

	head, err := store.Write(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), head.Generation)
	assert.Equal(t, uint32(3), head.Pages)
	assert.Equal(t, uint64(len(data)), head.Extent)

	got, gotHead, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, head.Generation, gotHead.Generation)

	head2, err := store.Write(ctx, []byte("second"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), head2.Generation)
	got, _, err = store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func TestSnapshotEmptyData(t *testing.T) {
	store := database.NewSnapshotStore(newBlobStore(t))
	ctx := context.Background()
	head, err := store.Write(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), head.Pages)
	got, _, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSnapshotPagesConcatenate(t *testing.T) {
	store := database.NewSnapshotStore(newBlobStore(t))
	ctx := context.Background()
	data := randomBytes(t, database.BackupPageSize+100)
	head, err := store.Write(ctx, data)
	require.NoError(t, err)

	var buf bytes.Buffer
	for i := range uint64(head.Pages) {
		page, err := store.ReadPage(ctx, head.Generation, i)
		require.NoError(t, err)
		buf.Write(page)
	}
	assert.Equal(t, data, buf.Bytes())

	past, err := store.ReadPage(ctx, head.Generation, uint64(head.Pages))
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestSnapshotReadRange(t *testing.T) {
	store := database.NewSnapshotStore(newBlobStore(t))
	ctx := context.Background()
	data := randomBytes(t, database.BackupPageSize+100)
	head, err := store.Write(ctx, data)
	require.NoError(t, err)

	// Spans the page boundary
	got, err := store.ReadRange(ctx, head.Generation, database.BackupPageSize-10, 30)
	require.NoError(t, err)
	assert.Equal(t, data[database.BackupPageSize-10:database.BackupPageSize+20], got)

	// Clamped to the extent
	got, err = store.ReadRange(ctx, head.Generation, uint64(len(data))-5, 100)
	require.NoError(t, err)
	assert.Equal(t, data[len(data)-5:], got)

	got, err = store.ReadRange(ctx, head.Generation, uint64(len(data)), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSnapshotRetention(t *testing.T) {
	blobStore := newBlobStore(t)
	store := database.NewSnapshotStore(blobStore, database.WithRetainGenerations(2))
	ctx := context.Background()
	for i := range 4 {
		_, err := store.Write(ctx, []byte{byte(i)})
		require.NoError(t, err)
	}
	_, err := store.Generation(ctx, 2)
	require.ErrorIs(t, err, database.ErrNoSnapshot)
	_, err = store.ReadPage(ctx, 1, 0)
	require.ErrorIs(t, err, database.ErrNoSnapshot)
	page, err := store.ReadPage(ctx, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, page)

	keys, err := blobStore.List(ctx, types.SnapshotPageKeyPrefix)
	require.NoError(t, err)
	// page and manifest for generations 3 and 4
	assert.Len(t, keys, 4)
}

func TestSnapshotCorruptDigest(t *testing.T) {
	blobStore := newBlobStore(t)
	store := database.NewSnapshotStore(blobStore)
	ctx := context.Background()
	head, err := store.Write(ctx, []byte("original"))
	require.NoError(t, err)
	require.NoError(t, blobStore.Put(ctx, types.SnapshotChunkKey(head.Generation, 0), []byte("tampered")))
	_, _, err = store.Read(ctx)
	require.ErrorIs(t, err, types.ErrSnapshotCorrupt)
}

func TestSnapshotEncrypted(t *testing.T) {
	identity, err := fage.GenerateX25519Identity()
	require.NoError(t, err)
	t.Setenv("SOPS_AGE_KEY", identity.String())
	t.Setenv(sops.EnvAgeRecipients, identity.Recipient().String())

	blobStore := newBlobStore(t)
	store := database.NewSnapshotStore(blobStore, database.WithEncryption(true))
	ctx := context.Background()
	data := []byte("secret snapshot bytes")
	head, err := store.Write(ctx, data)
	require.NoError(t, err)
	assert.True(t, head.Encrypted)

	raw, err := blobStore.Get(ctx, types.SnapshotChunkKey(head.Generation, 0))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")

	got, _, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	page, err := store.ReadPage(ctx, head.Generation, 0)
	require.NoError(t, err)
	assert.Equal(t, data, page)
}

func TestSnapshotStoredChunks(t *testing.T) {
	blobStore := newBlobStore(t)
	store := database.NewSnapshotStore(blobStore)
	ctx := context.Background()
	data := randomBytes(t, database.BackupPageSize+database.StoredChunkSize+1)
	head, err := store.Write(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), head.Pages)
	assert.Equal(t, uint32(database.StoredChunkSize), head.ChunkSize)

	keys, err := blobStore.List(ctx, types.SnapshotGenerationPrefix(head.Generation))
	require.NoError(t, err)
	// six chunks plus the manifest
	assert.Len(t, keys, 7)
	for _, key := range keys {
		value, err := blobStore.Get(ctx, key)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(value), database.StoredChunkSize)
	}

	last, err := store.ReadPage(ctx, head.Generation, 1)
	require.NoError(t, err)
	assert.Equal(t, data[database.BackupPageSize:], last)
}

func TestSnapshotEncryptedPages(t *testing.T) {
	identity, err := fage.GenerateX25519Identity()
	require.NoError(t, err)
	t.Setenv("SOPS_AGE_KEY", identity.String())
	t.Setenv(sops.EnvAgeRecipients, identity.Recipient().String())

	store := database.NewSnapshotStore(newBlobStore(t), database.WithEncryption(true))
	ctx := context.Background()
	data := randomBytes(t, database.BackupPageSize+100)
	_, err = store.Write(ctx, data)
	require.NoError(t, err)
	got, _, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
