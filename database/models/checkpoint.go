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
)

var ErrCheckpointNotFound = errors.New("checkpoint not found")

// CheckpointRecord describes a snapshot written to the blob store
type CheckpointRecord struct {
	ID         uint      `gorm:"primarykey"`
	Generation uint64    `gorm:"uniqueIndex;not null"`
	Extent     uint64    `gorm:"not null"`
	Pages      uint32    `gorm:"not null"`
	Digest     string    `gorm:"size:64;not null"`
	Encrypted  bool      `gorm:"not null"`
	DurationMs int64     `gorm:"not null"`
	CreatedAt  time.Time `gorm:"index;not null"`
}

// TableName returns the table name
func (CheckpointRecord) TableName() string {
	return "checkpoint"
}
