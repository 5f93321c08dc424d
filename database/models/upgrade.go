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

// Upgrade stages
const (
	UpgradeStageScheduled = "scheduled"
	UpgradeStageFinalized = "finalized"
)

// UpgradeRecord tracks a release from scheduling through finalization
type UpgradeRecord struct {
	ID         uint      `gorm:"primarykey"`
	Stage      string    `gorm:"index;size:16;not null"`
	Source     string    `gorm:"size:16;not null"` // proposal or emergency
	ProposalID *uint32   `gorm:"index"`
	Commit     string    `gorm:"size:64"`
	Hash       string    `gorm:"index;size:64"`
	RecordedAt time.Time `gorm:"index;not null"`
}

// TableName returns the table name
func (UpgradeRecord) TableName() string {
	return "upgrade"
}

// EmergencyRecord is one step of the emergency release procedure
type EmergencyRecord struct {
	ID         uint      `gorm:"primarykey"`
	Action     string    `gorm:"index;size:16;not null"`
	Hash       string    `gorm:"index;size:64;not null"`
	Principal  string    `gorm:"size:128"`
	Weight     uint64    `gorm:"not null"`
	RecordedAt time.Time `gorm:"index;not null"`
}

// TableName returns the table name
func (EmergencyRecord) TableName() string {
	return "emergency"
}
