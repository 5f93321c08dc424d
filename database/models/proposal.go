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

package models

import (
	"errors"
	"time"

	"github.com/blkluv/taggr/database/types"
)

var ErrProposalRecordNotFound = errors.New("proposal record not found")

// ProposalRecord is the audit row for a proposal. It is inserted when the
// proposal is created and updated once when it closes.
type ProposalRecord struct {
	ID          uint          `gorm:"primarykey"`
	ProposalID  uint32        `gorm:"uniqueIndex;not null"`
	Proposer    uint64        `gorm:"index;not null"`
	Kind        string        `gorm:"index;size:16;not null"`
	Status      string        `gorm:"index;size:16;not null"`
	Description string        `gorm:"size:1024"`
	Reason      string        `gorm:"size:256"`
	Approve     *types.Uint64 `gorm:"type:text"`
	Reject      *types.Uint64 `gorm:"type:text"`
	Supply      *types.Uint64 `gorm:"type:text"`
	CreatedAt   time.Time     `gorm:"index;not null"`
	ClosedAt    *time.Time    `gorm:"index"`
}

// TableName returns the table name
func (ProposalRecord) TableName() string {
	return "proposal"
}
