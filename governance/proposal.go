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
	"math/big"
	"time"
)

type Status uint8

const (
	StatusOpen Status = iota
	StatusExecuted
	StatusRejected
	StatusCancelled
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusExecuted:
		return "executed"
	case StatusRejected:
		return "rejected"
	case StatusCancelled:
		return "cancelled"
	case StatusExpired:
		return "expired"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Terminal reports whether the status is final
func (s Status) Terminal() bool {
	return s != StatusOpen
}

// Vote is a voter's signed stake weight: positive approves, negative rejects
type Vote struct {
	Voter  uint64
	Weight int64
}

// Tally records the weights and supply that decided a proposal
type Tally struct {
	Approve uint64
	Reject  uint64
	Supply  uint64
}

type Proposal struct {
	ID          uint32
	Proposer    uint64
	Description string
	Payload     Payload
	Votes       []Vote
	Status      Status
	CreatedAt   time.Time
	Deadline    time.Time
	Tally       *Tally
	Reason      string
}

// Sums returns the approving and rejecting weight cast so far
func (p *Proposal) Sums() (approve *big.Int, reject *big.Int) {
	approve, reject = new(big.Int), new(big.Int)
	for _, v := range p.Votes {
		w := big.NewInt(v.Weight)
		if v.Weight > 0 {
			approve.Add(approve, w)
		} else {
			reject.Sub(reject, w)
		}
	}
	return approve, reject
}

// VoteOf returns the recorded vote of a voter
func (p *Proposal) VoteOf(voter uint64) (Vote, bool) {
	for _, v := range p.Votes {
		if v.Voter == voter {
			return v, true
		}
	}
	return Vote{}, false
}

// setVote records a vote, replacing any earlier vote by the same voter
func (p *Proposal) setVote(voter uint64, weight int64) {
	for i := range p.Votes {
		if p.Votes[i].Voter == voter {
			p.Votes[i].Weight = weight
			return
		}
	}
	p.Votes = append(p.Votes, Vote{Voter: voter, Weight: weight})
}

// setRewardVote records or clears the amount a voter proposed
func (r *Reward) setVote(voter uint64, amount uint64, keep bool) {
	for i := range r.Votes {
		if r.Votes[i].Voter != voter {
			continue
		}
		if keep {
			r.Votes[i].Amount = amount
		} else {
			r.Votes = append(r.Votes[:i], r.Votes[i+1:]...)
		}
		return
	}
	if keep {
		r.Votes = append(r.Votes, RewardVote{Voter: voter, Amount: amount})
	}
}

// close moves an open proposal to a terminal status
func (p *Proposal) close(status Status, tally Tally, reason string) {
	p.Status = status
	p.Tally = &tally
	p.Reason = reason
}

// dropBinary releases the binary of a closed release proposal; the hash
// stays for audit
func (p *Proposal) dropBinary() {
	if p.Payload.Release != nil {
		p.Payload.Release.Binary = nil
	}
}
