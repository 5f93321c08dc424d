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
	"fmt"
	"time"

	"github.com/blkluv/taggr/identity"
	"github.com/blkluv/taggr/ledger"
)

// DefaultPageSize is the number of proposals returned per page
const DefaultPageSize = 10

// Store is the ordered proposal collection. Proposals are appended with
// dense IDs and never removed.
type Store struct {
	view      ledger.View
	policy    Policy
	proposals []*Proposal
	nextID    uint32
}

func NewStore(view ledger.View, policy Policy) *Store {
	return &Store{
		view:   view,
		policy: policy,
	}
}

// Create validates and appends a new proposal. No ID is consumed when
// validation fails.
func (s *Store) Create(
	proposer identity.Caller,
	description string,
	payload Payload,
	now time.Time,
) (uint32, error) {
	if !proposer.Registered {
		return 0, fmt.Errorf(
			"%w: %s is not a registered user",
			ErrInsufficientStake,
			proposer.Principal,
		)
	}
	balance := s.view.BalanceOf(ledger.NewAccount(proposer.Principal))
	if balance < s.policy.MinProposerStake || balance == 0 {
		return 0, fmt.Errorf(
			"%w: balance %d below minimum %d",
			ErrInsufficientStake,
			balance,
			s.policy.MinProposerStake,
		)
	}
	if err := payload.Validate(); err != nil {
		return 0, err
	}
	if payload.Release != nil {
		payload.Release.Hash = Digest(payload.Release.Binary)
	}
	now = normalizeTime(now)
	p := &Proposal{
		ID:          s.nextID,
		Proposer:    proposer.UserID,
		Description: description,
		Payload:     payload,
		Status:      StatusOpen,
		CreatedAt:   now,
		Deadline:    now.Add(s.policy.VotingPeriod),
	}
	s.proposals = append(s.proposals, p)
	s.nextID++
	return p.ID, nil
}

func (s *Store) Get(id uint32) (*Proposal, bool) {
	// IDs are dense, but a restored store may start past zero
	if len(s.proposals) > 0 {
		first := s.proposals[0].ID
		if id >= first && int(id-first) < len(s.proposals) {
			if p := s.proposals[id-first]; p.ID == id {
				return p, true
			}
		}
	}
	for _, p := range s.proposals {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// ListPage returns a page of proposals, most recent first
func (s *Store) ListPage(page int, pageSize int) []*Proposal {
	if page < 0 || pageSize <= 0 {
		return nil
	}
	ret := []*Proposal{}
	// Also keeps page*pageSize from overflowing
	if page > len(s.proposals)/pageSize {
		return ret
	}
	start := len(s.proposals) - 1 - page*pageSize
	for i := start; i >= 0 && len(ret) < pageSize; i-- {
		ret = append(ret, s.proposals[i])
	}
	return ret
}

// Open returns all proposals still open for voting
func (s *Store) Open() []*Proposal {
	ret := []*Proposal{}
	for _, p := range s.proposals {
		if p.Status == StatusOpen {
			ret = append(ret, p)
		}
	}
	return ret
}

// All returns every proposal in creation order
func (s *Store) All() []*Proposal {
	return s.proposals
}

func (s *Store) Len() int {
	return len(s.proposals)
}

func (s *Store) NextID() uint32 {
	return s.nextID
}

// load replaces the store contents with persisted proposals
func (s *Store) load(proposals []*Proposal, nextID uint32) error {
	for i, p := range proposals {
		if i > 0 && p.ID <= proposals[i-1].ID {
			return fmt.Errorf("proposal IDs out of order at %d", p.ID)
		}
		if p.ID >= nextID {
			return fmt.Errorf(
				"proposal ID %d not below next ID %d",
				p.ID,
				nextID,
			)
		}
	}
	s.proposals = proposals
	s.nextID = nextID
	return nil
}

// normalizeTime drops the monotonic reading and location so timestamps
// survive a round trip through the snapshot unchanged
func normalizeTime(t time.Time) time.Time {
	return t.Round(0).UTC()
}
