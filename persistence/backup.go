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

package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/blkluv/taggr/database"
	"github.com/blkluv/taggr/governance"
)

// BackupPass reads one pinned snapshot generation page by page.
// Concatenating pages 0 through Pages-1 yields the checkpoint bytes.
type BackupPass struct {
	Generation uint64
	Extent     uint64
	Pages      uint32
	PageSize   uint64
	protocol   *Protocol
}

// BeginBackup pins the current head snapshot. When nothing has been
// checkpointed yet a checkpoint is taken first.
func (p *Protocol) BeginBackup(ctx context.Context) (*BackupPass, error) {
	head, err := p.config.Snapshots.Head(ctx)
	if errors.Is(err, database.ErrNoSnapshot) {
		head, err = p.Checkpoint(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", governance.ErrSnapshotUnavailable, err)
	}
	return p.passFor(head), nil
}

// ResumeBackup pins a generation a client started reading earlier
func (p *Protocol) ResumeBackup(
	ctx context.Context,
	generation uint64,
) (*BackupPass, error) {
	head, err := p.config.Snapshots.Generation(ctx, generation)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", governance.ErrSnapshotUnavailable, err)
	}
	return p.passFor(head), nil
}

func (p *Protocol) passFor(head database.SnapshotHead) *BackupPass {
	return &BackupPass{
		Generation: head.Generation,
		Extent:     head.Extent,
		Pages:      head.Pages,
		PageSize:   database.BackupPageSize,
		protocol:   p,
	}
}

// Page returns bytes [i*PageSize, min((i+1)*PageSize, Extent)). A page at
// or past the extent is empty.
func (b *BackupPass) Page(ctx context.Context, i uint64) ([]byte, error) {
	if i >= uint64(b.Pages) {
		return []byte{}, nil
	}
	data, err := b.protocol.config.Snapshots.ReadPage(ctx, b.Generation, i)
	if err != nil {
		if errors.Is(err, database.ErrNoSnapshot) {
			return nil, fmt.Errorf(
				"%w: generation %d was pruned",
				governance.ErrSnapshotUnavailable,
				b.Generation,
			)
		}
		return nil, err
	}
	if b.protocol.metrics != nil {
		b.protocol.metrics.backupPagesTotal.Inc()
	}
	return data, nil
}

// BackupPage pins the head and returns page i of it
func (p *Protocol) BackupPage(ctx context.Context, i uint64) ([]byte, error) {
	pass, err := p.BeginBackup(ctx)
	if err != nil {
		return nil, err
	}
	return pass.Page(ctx, i)
}
