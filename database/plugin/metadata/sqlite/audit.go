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

package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blkluv/taggr/database/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertProposal inserts a proposal record or updates its closing fields
func (d *MetadataStoreSqlite) UpsertProposal(
	ctx context.Context,
	rec *models.ProposalRecord,
) error {
	result := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "proposal_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"reason",
			"approve",
			"reject",
			"supply",
			"closed_at",
		}),
	}).Create(rec)
	if result.Error != nil {
		return fmt.Errorf("upsert proposal %d: %w", rec.ProposalID, result.Error)
	}
	d.observeWrite("proposal")
	return nil
}

// UpsertVote records a vote, replacing any earlier vote of the same voter
func (d *MetadataStoreSqlite) UpsertVote(
	ctx context.Context,
	rec *models.VoteRecord,
) error {
	result := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "proposal_id"},
			{Name: "voter"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"weight", "cast_at"}),
	}).Create(rec)
	if result.Error != nil {
		return fmt.Errorf(
			"upsert vote %d/%d: %w",
			rec.ProposalID,
			rec.Voter,
			result.Error,
		)
	}
	d.observeWrite("vote")
	return nil
}

func (d *MetadataStoreSqlite) AddUpgrade(
	ctx context.Context,
	rec *models.UpgradeRecord,
) error {
	if err := d.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("add upgrade: %w", err)
	}
	d.observeWrite("upgrade")
	return nil
}

func (d *MetadataStoreSqlite) AddEmergency(
	ctx context.Context,
	rec *models.EmergencyRecord,
) error {
	if err := d.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("add emergency: %w", err)
	}
	d.observeWrite("emergency")
	return nil
}

func (d *MetadataStoreSqlite) AddCheckpoint(
	ctx context.Context,
	rec *models.CheckpointRecord,
) error {
	if err := d.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("add checkpoint %d: %w", rec.Generation, err)
	}
	d.observeWrite("checkpoint")
	return nil
}

// GetProposal returns the audit record of a proposal
func (d *MetadataStoreSqlite) GetProposal(
	ctx context.Context,
	proposalID uint32,
) (*models.ProposalRecord, error) {
	var rec models.ProposalRecord
	result := d.db.WithContext(ctx).
		Where("proposal_id = ?", proposalID).
		First(&rec)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrProposalRecordNotFound
		}
		return nil, result.Error
	}
	return &rec, nil
}

// GetVotes returns the current votes on a proposal ordered by voter
func (d *MetadataStoreSqlite) GetVotes(
	ctx context.Context,
	proposalID uint32,
) ([]models.VoteRecord, error) {
	var ret []models.VoteRecord
	result := d.db.WithContext(ctx).
		Where("proposal_id = ?", proposalID).
		Order("voter").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// GetUpgrades returns the most recent upgrade records, newest first
func (d *MetadataStoreSqlite) GetUpgrades(
	ctx context.Context,
	limit int,
) ([]models.UpgradeRecord, error) {
	var ret []models.UpgradeRecord
	result := d.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// GetEmergencies returns the emergency steps for a binary hash in order
func (d *MetadataStoreSqlite) GetEmergencies(
	ctx context.Context,
	hash string,
) ([]models.EmergencyRecord, error) {
	var ret []models.EmergencyRecord
	result := d.db.WithContext(ctx).
		Where("hash = ?", hash).
		Order("id").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// GetLatestCheckpoint returns the checkpoint with the highest generation
func (d *MetadataStoreSqlite) GetLatestCheckpoint(
	ctx context.Context,
) (*models.CheckpointRecord, error) {
	var rec models.CheckpointRecord
	result := d.db.WithContext(ctx).Order("generation DESC").First(&rec)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, models.ErrCheckpointNotFound
		}
		return nil, result.Error
	}
	return &rec, nil
}

// PruneBefore removes closed proposals, their votes and event rows recorded
// before cutoff. Open proposals are kept regardless of age.
func (d *MetadataStoreSqlite) PruneBefore(
	ctx context.Context,
	cutoff time.Time,
) (int64, error) {
	var removed int64
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var closedIDs []uint32
		if err := tx.Model(&models.ProposalRecord{}).
			Where("closed_at IS NOT NULL AND closed_at < ?", cutoff).
			Pluck("proposal_id", &closedIDs).Error; err != nil {
			return err
		}
		if len(closedIDs) > 0 {
			res := tx.Where("proposal_id IN ?", closedIDs).Delete(&models.VoteRecord{})
			if res.Error != nil {
				return res.Error
			}
			removed += res.RowsAffected
			res = tx.Where("proposal_id IN ?", closedIDs).Delete(&models.ProposalRecord{})
			if res.Error != nil {
				return res.Error
			}
			removed += res.RowsAffected
		}
		for _, model := range []any{&models.UpgradeRecord{}, &models.EmergencyRecord{}} {
			res := tx.Where("recorded_at < ?", cutoff).Delete(model)
			if res.Error != nil {
				return res.Error
			}
			removed += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune audit log: %w", err)
	}
	return removed, nil
}

func (d *MetadataStoreSqlite) prune(cutoff time.Time) (int64, error) {
	return d.PruneBefore(context.Background(), cutoff)
}
