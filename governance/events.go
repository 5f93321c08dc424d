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

package governance

import (
	"time"

	"github.com/blkluv/taggr/event"
)

const (
	ProposalCreatedEventType  = event.EventType("governance.proposal.created")
	ProposalClosedEventType   = event.EventType("governance.proposal.closed")
	VoteCastEventType         = event.EventType("governance.vote.cast")
	EmergencyEventType        = event.EventType("governance.emergency")
	UpgradeScheduledEventType = event.EventType("governance.upgrade.scheduled")
	UpgradeFinalizedEventType = event.EventType("governance.upgrade.finalized")
)

// ProposalEvent is published when a proposal is created or closed. It
// carries no binary.
type ProposalEvent struct {
	ProposalID  uint32
	Proposer    uint64
	Kind        PayloadKind
	Status      Status
	Description string
	Reason      string
	Tally       *Tally
	CreatedAt   time.Time
}

func newProposalEvent(p *Proposal) ProposalEvent {
	evt := ProposalEvent{
		ProposalID:  p.ID,
		Proposer:    p.Proposer,
		Kind:        p.Payload.Kind,
		Status:      p.Status,
		Description: p.Description,
		Reason:      p.Reason,
		CreatedAt:   p.CreatedAt,
	}
	if p.Tally != nil {
		t := *p.Tally
		evt.Tally = &t
	}
	return evt
}

type VoteEvent struct {
	ProposalID uint32
	Voter      uint64
	Weight     int64
}

type UpgradeEvent struct {
	Source     UpgradeSource
	ProposalID uint32
	Commit     string
	Hash       string
}

type EmergencyAction string

const (
	EmergencyActionPublished EmergencyAction = "published"
	EmergencyActionConfirmed EmergencyAction = "confirmed"
	EmergencyActionExecuted  EmergencyAction = "executed"
)

type EmergencyEvent struct {
	Action    EmergencyAction
	Hash      string
	Principal string
	Weight    uint64
}
