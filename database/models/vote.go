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

import "time"

// VoteRecord holds the latest vote of a voter on a proposal. A repeated vote
// replaces the row.
type VoteRecord struct {
	ID         uint      `gorm:"primarykey"`
	ProposalID uint32    `gorm:"uniqueIndex:idx_vote_unique,priority:1;not null"`
	Voter      uint64    `gorm:"index;uniqueIndex:idx_vote_unique,priority:2;not null"`
	Weight     int64     `gorm:"not null"` // negative for a rejection
	CastAt     time.Time `gorm:"not null"`
}

// TableName returns the table name
func (VoteRecord) TableName() string {
	return "vote"
}
