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

package metadata

import (
	"context"
	"fmt"
	"time"

	"github.com/blkluv/taggr/database/models"
	"github.com/blkluv/taggr/database/plugin"
	"gorm.io/gorm"
)

// MetadataStore is the relational audit log of governance activity
type MetadataStore interface {
	plugin.Plugin

	// Database
	Close() error
	DB() *gorm.DB

	// Writes
	UpsertProposal(context.Context, *models.ProposalRecord) error
	UpsertVote(context.Context, *models.VoteRecord) error
	AddUpgrade(context.Context, *models.UpgradeRecord) error
	AddEmergency(context.Context, *models.EmergencyRecord) error
	AddCheckpoint(context.Context, *models.CheckpointRecord) error

	// Reads
	GetProposal(context.Context, uint32) (*models.ProposalRecord, error)
	GetVotes(context.Context, uint32) ([]models.VoteRecord, error)
	GetUpgrades(context.Context, int) ([]models.UpgradeRecord, error)
	GetEmergencies(context.Context, string) ([]models.EmergencyRecord, error)
	GetLatestCheckpoint(context.Context) (*models.CheckpointRecord, error)

	// Maintenance
	PruneBefore(context.Context, time.Time) (int64, error)
}

// New returns the started metadata plugin selected by name
func New(pluginName string) (MetadataStore, error) {
	p, err := plugin.StartPlugin(plugin.PluginTypeMetadata, pluginName)
	if err != nil {
		return nil, err
	}
	store, ok := p.(MetadataStore)
	if !ok {
		return nil, fmt.Errorf(
			"plugin '%s' does not implement MetadataStore interface",
			pluginName,
		)
	}
	return store, nil
}
