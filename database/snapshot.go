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

package database

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/gouroboros/cbor"
	"github.com/blkluv/taggr/database/plugin/blob"
	"github.com/blkluv/taggr/database/sops"
	"github.com/blkluv/taggr/database/types"
)

// BackupPageSize is the size of a snapshot page and of a backup page
const BackupPageSize = 1 << 20

// StoredChunkSize is the size of one stored blob value. Pages are split
// into chunks so that a value, after SOPS encoding, stays below the
// 1 MiB value limit of in-memory badger.
const StoredChunkSize = BackupPageSize / 4

const (
	snapshotHeadVersion = 1
	manifestKeyName     = "head"

	// Generations kept so an in-flight backup pass can finish after a new
	// checkpoint is written
	DefaultRetainGenerations = 2
)

// ErrNoSnapshot is returned when no snapshot has ever been written, or a
// requested generation has been pruned
var ErrNoSnapshot = errors.New("no snapshot")

// SnapshotHead describes one snapshot generation. It is written after all
// of the generation's pages.
type SnapshotHead struct {
	cbor.StructAsArray
	Version    uint
	Generation uint64
	// Length of the unencrypted snapshot in bytes
	Extent    uint64
	Pages     uint32
	ChunkSize uint32
	Digest    []byte
	Encrypted bool
	CreatedAt int64 // unix milliseconds
}

// Time returns the creation time of the snapshot
func (h SnapshotHead) Time() time.Time {
	return time.UnixMilli(h.CreatedAt).UTC()
}

// PageCount returns the number of BackupPageSize pages for extent bytes
func PageCount(extent uint64) uint32 {
	return uint32((extent + BackupPageSize - 1) / BackupPageSize) //nolint:gosec // snapshots are far below 4 PiB
}

// SnapshotStore keeps versioned snapshots as fixed-size pages in a blob
// store. Readers only follow the head record, so a partially written
// generation is never visible.
type SnapshotStore struct {
	blob      blob.BlobStore
	logger    *slog.Logger
	encrypt   bool
	retain    int
	now       func() time.Time
	encrypter func([]byte) ([]byte, error)
	decrypter func([]byte) ([]byte, error)
}

type SnapshotStoreOptionFunc func(*SnapshotStore)

// WithSnapshotLogger specifies the logger object to use for logging messages
func WithSnapshotLogger(logger *slog.Logger) SnapshotStoreOptionFunc {
	return func(s *SnapshotStore) {
		s.logger = logger
	}
}

// WithEncryption enables SOPS encryption of every stored page
func WithEncryption(enabled bool) SnapshotStoreOptionFunc {
	return func(s *SnapshotStore) {
		s.encrypt = enabled
	}
}

// WithRetainGenerations specifies how many generations are kept
func WithRetainGenerations(n int) SnapshotStoreOptionFunc {
	return func(s *SnapshotStore) {
		if n >= 1 {
			s.retain = n
		}
	}
}

// WithCipher overrides the page cipher used when encryption is enabled
func WithCipher(
	encrypt func([]byte) ([]byte, error),
	decrypt func([]byte) ([]byte, error),
) SnapshotStoreOptionFunc {
	return func(s *SnapshotStore) {
		s.encrypter = encrypt
		s.decrypter = decrypt
	}
}

// NewSnapshotStore returns a snapshot store backed by store
func NewSnapshotStore(
	store blob.BlobStore,
	opts ...SnapshotStoreOptionFunc,
) *SnapshotStore {
	s := &SnapshotStore{
		blob:      store,
		retain:    DefaultRetainGenerations,
		now:       time.Now,
		encrypter: sops.Encrypt,
		decrypter: sops.Decrypt,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	s.logger = s.logger.With("component", "database")
	return s
}

// Head returns the latest complete snapshot generation
func (s *SnapshotStore) Head(ctx context.Context) (SnapshotHead, error) {
	return s.loadHead(ctx, types.SnapshotHeadKey)
}

// Generation returns the head record of a specific generation
func (s *SnapshotStore) Generation(
	ctx context.Context,
	generation uint64,
) (SnapshotHead, error) {
	return s.loadHead(ctx, manifestKey(generation))
}

func (s *SnapshotStore) loadHead(
	ctx context.Context,
	key string,
) (SnapshotHead, error) {
	data, err := s.blob.Get(ctx, key)
	if err != nil {
		if errors.Is(err, types.ErrBlobKeyNotFound) {
			return SnapshotHead{}, ErrNoSnapshot
		}
		return SnapshotHead{}, fmt.Errorf("read snapshot head: %w", err)
	}
	var head SnapshotHead
	if _, err := cbor.Decode(data, &head); err != nil {
		return SnapshotHead{}, fmt.Errorf(
			"%w: decode head: %w",
			types.ErrSnapshotCorrupt,
			err,
		)
	}
	if head.Version != snapshotHeadVersion {
		return SnapshotHead{}, fmt.Errorf(
			"%w: unsupported head version %d",
			types.ErrSnapshotCorrupt,
			head.Version,
		)
	}
	if head.ChunkSize == 0 || BackupPageSize%head.ChunkSize != 0 {
		return SnapshotHead{}, fmt.Errorf(
			"%w: invalid chunk size %d",
			types.ErrSnapshotCorrupt,
			head.ChunkSize,
		)
	}
	return head, nil
}

// chunkCount returns the number of stored chunks of a generation
func (h SnapshotHead) chunkCount() int {
	size := uint64(h.ChunkSize)
	return int((h.Extent + size - 1) / size) //nolint:gosec // bounded by the stored snapshot
}

// Write stores data as a new generation and makes it the head
func (s *SnapshotStore) Write(
	ctx context.Context,
	data []byte,
) (SnapshotHead, error) {
	prev, err := s.Head(ctx)
	if err != nil && !errors.Is(err, ErrNoSnapshot) {
		return SnapshotHead{}, err
	}
	digest := sha256.Sum256(data)
	head := SnapshotHead{
		Version:    snapshotHeadVersion,
		Generation: prev.Generation + 1,
		Extent:     uint64(len(data)),
		Pages:      PageCount(uint64(len(data))),
		ChunkSize:  StoredChunkSize,
		Digest:     digest[:],
		Encrypted:  s.encrypt,
		CreatedAt:  s.now().UnixMilli(),
	}
	chunks := head.chunkCount()
	entries := make([]types.BlobEntry, 0, chunks+2)
	for i := range chunks {
		start := i * StoredChunkSize
		end := min(start+StoredChunkSize, len(data))
		chunk := data[start:end]
		if s.encrypt {
			chunk, err = s.encrypter(chunk)
			if err != nil {
				return SnapshotHead{}, fmt.Errorf("encrypt chunk %d: %w", i, err)
			}
		}
		entries = append(entries, types.BlobEntry{
			Key:   types.SnapshotChunkKey(head.Generation, i),
			Value: chunk,
		})
	}
	headBytes, err := cbor.Encode(&head)
	if err != nil {
		return SnapshotHead{}, fmt.Errorf("encode snapshot head: %w", err)
	}
	// The generation manifest goes before the head so that every head
	// reachable generation can also be addressed directly
	entries = append(
		entries,
		types.BlobEntry{Key: manifestKey(head.Generation), Value: headBytes},
		types.BlobEntry{Key: types.SnapshotHeadKey, Value: headBytes},
	)
	if err := blob.PutAll(ctx, s.blob, entries); err != nil {
		return SnapshotHead{}, fmt.Errorf(
			"write snapshot generation %d: %w",
			head.Generation,
			err,
		)
	}
	s.logger.Debug(
		"wrote snapshot",
		"generation", head.Generation,
		"extent", head.Extent,
		"pages", head.Pages,
	)
	if err := s.prune(ctx, head.Generation); err != nil {
		// Old pages only cost space
		s.logger.Warn(
			"failed to prune old snapshots",
			"error", err,
		)
	}
	return head, nil
}

// Read returns the head snapshot after verifying its length and digest
func (s *SnapshotStore) Read(ctx context.Context) ([]byte, SnapshotHead, error) {
	head, err := s.Head(ctx)
	if err != nil {
		return nil, SnapshotHead{}, err
	}
	var buf bytes.Buffer
	buf.Grow(int(head.Extent)) //nolint:gosec // bounded by the stored snapshot
	for i := range int(head.Pages) {
		page, err := s.readPage(ctx, head, i)
		if err != nil {
			return nil, SnapshotHead{}, err
		}
		buf.Write(page)
	}
	data := buf.Bytes()
	if uint64(len(data)) != head.Extent {
		return nil, SnapshotHead{}, fmt.Errorf(
			"%w: generation %d has %d bytes, head says %d",
			types.ErrSnapshotCorrupt,
			head.Generation,
			len(data),
			head.Extent,
		)
	}
	digest := sha256.Sum256(data)
	if !bytes.Equal(digest[:], head.Digest) {
		return nil, SnapshotHead{}, fmt.Errorf(
			"%w: generation %d digest mismatch",
			types.ErrSnapshotCorrupt,
			head.Generation,
		)
	}
	return data, head, nil
}

// ReadPage returns page i of a generation. A page at or past the end is
// empty.
func (s *SnapshotStore) ReadPage(
	ctx context.Context,
	generation uint64,
	page uint64,
) ([]byte, error) {
	head, err := s.Generation(ctx, generation)
	if err != nil {
		return nil, err
	}
	if page >= uint64(head.Pages) {
		return []byte{}, nil
	}
	return s.readPage(ctx, head, int(page)) //nolint:gosec // page < head.Pages
}

// ReadRange returns up to length bytes of a generation starting at offset,
// clamped to the extent
func (s *SnapshotStore) ReadRange(
	ctx context.Context,
	generation uint64,
	offset uint64,
	length uint64,
) ([]byte, error) {
	head, err := s.Generation(ctx, generation)
	if err != nil {
		return nil, err
	}
	if offset >= head.Extent || length == 0 {
		return []byte{}, nil
	}
	end := head.Extent
	if length < end-offset {
		end = offset + length
	}
	ret := make([]byte, 0, end-offset)
	for pos := offset; pos < end; {
		idx := pos / BackupPageSize
		page, err := s.readPage(ctx, head, int(idx)) //nolint:gosec // idx < head.Pages
		if err != nil {
			return nil, err
		}
		pageStart := idx * BackupPageSize
		from := pos - pageStart
		to := min(uint64(len(page)), end-pageStart)
		ret = append(ret, page[from:to]...)
		pos = pageStart + to
	}
	return ret, nil
}

// readPage assembles page i of a generation from its stored chunks
func (s *SnapshotStore) readPage(
	ctx context.Context,
	head SnapshotHead,
	page int,
) ([]byte, error) {
	perPage := BackupPageSize / int(head.ChunkSize)
	first := page * perPage
	last := min(first+perPage, head.chunkCount())
	if first >= last {
		return []byte{}, nil
	}
	ret := make([]byte, 0, (last-first)*int(head.ChunkSize))
	for i := first; i < last; i++ {
		chunk, err := s.readChunk(ctx, head, i)
		if err != nil {
			return nil, err
		}
		ret = append(ret, chunk...)
	}
	return ret, nil
}

func (s *SnapshotStore) readChunk(
	ctx context.Context,
	head SnapshotHead,
	chunk int,
) ([]byte, error) {
	data, err := s.blob.Get(ctx, types.SnapshotChunkKey(head.Generation, chunk))
	if err != nil {
		if errors.Is(err, types.ErrBlobKeyNotFound) {
			return nil, fmt.Errorf(
				"%w: generation %d chunk %d missing",
				ErrNoSnapshot,
				head.Generation,
				chunk,
			)
		}
		return nil, fmt.Errorf("read chunk %d: %w", chunk, err)
	}
	if head.Encrypted {
		data, err = s.decrypter(data)
		if err != nil {
			return nil, fmt.Errorf("decrypt chunk %d: %w", chunk, err)
		}
	}
	return data, nil
}

// prune deletes generations older than the retained window
func (s *SnapshotStore) prune(ctx context.Context, current uint64) error {
	if current <= uint64(s.retain) { //nolint:gosec // retain >= 1
		return nil
	}
	oldest := current - uint64(s.retain) + 1 //nolint:gosec // retain >= 1
	keys, err := s.blob.List(ctx, types.SnapshotPageKeyPrefix)
	if err != nil {
		return err
	}
	var errs []error
	for _, key := range keys {
		gen, ok := types.SnapshotGenerationFromKey(key)
		if !ok || gen >= oldest {
			continue
		}
		if err := s.blob.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func manifestKey(generation uint64) string {
	return types.SnapshotGenerationPrefix(generation) + manifestKeyName
}
