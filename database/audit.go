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
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blkluv/taggr/database/models"
	"github.com/blkluv/taggr/database/plugin/metadata"
	"github.com/blkluv/taggr/database/types"
	"github.com/blkluv/taggr/event"
	"github.com/blkluv/taggr/governance"
)

const (
	CheckpointEventType = event.EventType("database.checkpoint")

	auditWriteTimeout = 10 * time.Second
)

// CheckpointEvent is published after a snapshot generation is written
type CheckpointEvent struct {
	Head     SnapshotHead
	Duration time.Duration
}

var auditEventTypes = []event.EventType{
	governance.ProposalCreatedEventType,
	governance.ProposalClosedEventType,
	governance.VoteCastEventType,
	governance.EmergencyEventType,
	governance.UpgradeScheduledEventType,
	governance.UpgradeFinalizedEventType,
	CheckpointEventType,
}

// AuditRecorder writes governance and checkpoint events to the metadata
// store
type AuditRecorder struct {
	store  metadata.MetadataStore
	logger *slog.Logger
	bus    *event.EventBus
	subs   map[event.EventType]event.EventSubscriberId
	mu     sync.Mutex
}

func NewAuditRecorder(
	store metadata.MetadataStore,
	logger *slog.Logger,
) *AuditRecorder {
	return &AuditRecorder{
		store:  store,
		logger: logger.With("component", "database"),
	}
}

// Start subscribes to the bus. Calling Start again is a no-op.
func (a *AuditRecorder) Start(bus *event.EventBus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bus != nil {
		return
	}
	a.bus = bus
	a.subs = make(map[event.EventType]event.EventSubscriberId, len(auditEventTypes))
	for _, eventType := range auditEventTypes {
		a.subs[eventType] = bus.SubscribeFunc(eventType, a.handleEvent)
	}
}

// Stop unsubscribes from the bus
func (a *AuditRecorder) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bus == nil {
		return
	}
	for eventType, subId := range a.subs {
		a.bus.Unsubscribe(eventType, subId)
	}
	a.bus = nil
	a.subs = nil
}

func (a *AuditRecorder) handleEvent(evt event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()
	if err := a.Record(ctx, evt); err != nil {
		a.logger.Error(
			"failed to record audit event",
			"type", evt.Type,
			"error", err,
		)
	}
}

// Record writes a single event. Unknown event types are ignored.
func (a *AuditRecorder) Record(ctx context.Context, evt event.Event) error {
	switch data := evt.Data.(type) {
	case governance.ProposalEvent:
		return a.store.UpsertProposal(ctx, proposalRecord(data, evt.Timestamp))
	case governance.VoteEvent:
		return a.store.UpsertVote(ctx, &models.VoteRecord{
			ProposalID: data.ProposalID,
			Voter:      data.Voter,
			Weight:     data.Weight,
			CastAt:     evt.Timestamp,
		})
	case governance.UpgradeEvent:
		stage := models.UpgradeStageScheduled
		if evt.Type == governance.UpgradeFinalizedEventType {
			stage = models.UpgradeStageFinalized
		}
		rec := &models.UpgradeRecord{
			Stage:      stage,
			Source:     data.Source.String(),
			Commit:     data.Commit,
			Hash:       data.Hash,
			RecordedAt: evt.Timestamp,
		}
		if data.Source == governance.UpgradeSourceProposal {
			pid := data.ProposalID
			rec.ProposalID = &pid
		}
		return a.store.AddUpgrade(ctx, rec)
	case governance.EmergencyEvent:
		return a.store.AddEmergency(ctx, &models.EmergencyRecord{
			Action:     string(data.Action),
			Hash:       data.Hash,
			Principal:  data.Principal,
			Weight:     data.Weight,
			RecordedAt: evt.Timestamp,
		})
	case CheckpointEvent:
		return a.store.AddCheckpoint(ctx, &models.CheckpointRecord{
			Generation: data.Head.Generation,
			Extent:     data.Head.Extent,
			Pages:      data.Head.Pages,
			Digest:     fmt.Sprintf("%x", data.Head.Digest),
			Encrypted:  data.Head.Encrypted,
			DurationMs: data.Duration.Milliseconds(),
			CreatedAt:  data.Head.Time(),
		})
	default:
		return nil
	}
}

func proposalRecord(
	data governance.ProposalEvent,
	at time.Time,
) *models.ProposalRecord {
	rec := &models.ProposalRecord{
		ProposalID:  data.ProposalID,
		Proposer:    data.Proposer,
		Kind:        data.Kind.String(),
		Status:      data.Status.String(),
		Description: data.Description,
		Reason:      data.Reason,
		CreatedAt:   data.CreatedAt,
	}
	if data.Status.Terminal() {
		closedAt := at
		rec.ClosedAt = &closedAt
	}
	if data.Tally != nil {
		approve := types.Uint64(data.Tally.Approve)
		reject := types.Uint64(data.Tally.Reject)
		supply := types.Uint64(data.Tally.Supply)
		rec.Approve = &approve
		rec.Reject = &reject
		rec.Supply = &supply
	}
	return rec
}
