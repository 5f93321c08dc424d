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

package api

import (
	"time"

	"github.com/blkluv/taggr/governance"
	"github.com/blkluv/taggr/ledger"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

type HealthResponse struct {
	IsHealthy bool `json:"is_healthy"`
}

type ReleaseRequest struct {
	Description string `json:"description"`
	Commit      string `json:"commit"`
	Binary      []byte `json:"binary"`
}

type RewardRequest struct {
	Description string `json:"description"`
	Receiver    string `json:"receiver"`
}

// FundRequest gives Amount in whole tokens
type FundRequest struct {
	Description string `json:"description"`
	Receiver    string `json:"receiver"`
	Amount      uint64 `json:"amount"`
}

type VoteRequest struct {
	Approve bool   `json:"approve"`
	Data    string `json:"data"`
}

type EmergencyReleaseRequest struct {
	Binary []byte `json:"binary"`
}

type EmergencyConfirmRequest struct {
	Digest string `json:"digest"`
}

type CreateUserRequest struct {
	Name string `json:"name"`
}

type CreatedResponse struct {
	ID uint64 `json:"id"`
}

type VoteResponse struct {
	Voter  uint64 `json:"voter"`
	Weight int64  `json:"weight"`
}

type TallyResponse struct {
	Approve uint64 `json:"approve"`
	Reject  uint64 `json:"reject"`
	Supply  uint64 `json:"supply"`
}

type ReleaseResponse struct {
	Commit string `json:"commit"`
	Hash   string `json:"hash"`
	Size   int    `json:"size"`
}

type RewardVoteResponse struct {
	Voter  uint64 `json:"voter"`
	Amount uint64 `json:"amount"`
}

type RewardResponse struct {
	Receiver string               `json:"receiver"`
	Votes    []RewardVoteResponse `json:"votes"`
	Minted   uint64               `json:"minted"`
}

type FundResponse struct {
	Receiver string `json:"receiver"`
	Amount   uint64 `json:"amount"`
}

// ProposalResponse never carries the release binary
type ProposalResponse struct {
	ID          uint32           `json:"id"`
	Proposer    uint64           `json:"proposer"`
	Description string           `json:"description"`
	Kind        string           `json:"kind"`
	Status      string           `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	Deadline    time.Time        `json:"deadline"`
	Votes       []VoteResponse   `json:"votes"`
	Tally       *TallyResponse   `json:"tally,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Release     *ReleaseResponse `json:"release,omitempty"`
	Reward      *RewardResponse  `json:"reward,omitempty"`
	Fund        *FundResponse    `json:"fund,omitempty"`
}

func newProposalResponse(p *governance.Proposal) ProposalResponse {
	ret := ProposalResponse{
		ID:          p.ID,
		Proposer:    p.Proposer,
		Description: p.Description,
		Kind:        p.Payload.Kind.String(),
		Status:      p.Status.String(),
		CreatedAt:   p.CreatedAt,
		Deadline:    p.Deadline,
		Votes:       make([]VoteResponse, 0, len(p.Votes)),
		Reason:      p.Reason,
	}
	for _, v := range p.Votes {
		ret.Votes = append(ret.Votes, VoteResponse{Voter: v.Voter, Weight: v.Weight})
	}
	if p.Tally != nil {
		ret.Tally = &TallyResponse{
			Approve: p.Tally.Approve,
			Reject:  p.Tally.Reject,
			Supply:  p.Tally.Supply,
		}
	}
	switch p.Payload.Kind {
	case governance.PayloadKindRelease:
		ret.Release = &ReleaseResponse{
			Commit: p.Payload.Release.Commit,
			Hash:   p.Payload.Release.Hash,
			Size:   len(p.Payload.Release.Binary),
		}
	case governance.PayloadKindReward:
		reward := &RewardResponse{
			Receiver: p.Payload.Reward.Receiver,
			Votes:    make([]RewardVoteResponse, 0, len(p.Payload.Reward.Votes)),
			Minted:   p.Payload.Reward.Minted,
		}
		for _, v := range p.Payload.Reward.Votes {
			reward.Votes = append(reward.Votes, RewardVoteResponse{
				Voter:  v.Voter,
				Amount: v.Amount,
			})
		}
		ret.Reward = reward
	case governance.PayloadKindFund:
		ret.Fund = &FundResponse{
			Receiver: p.Payload.Fund.Receiver,
			Amount:   p.Payload.Fund.Amount,
		}
	}
	return ret
}

type EmergencyStatusResponse struct {
	Hash          string `json:"hash,omitempty"`
	Size          int    `json:"size"`
	Confirmations int    `json:"confirmations"`
	Confirmed     uint64 `json:"confirmed"`
	Supply        uint64 `json:"supply"`
	Threshold     uint64 `json:"threshold_percent"`
}

type BackupResponse struct {
	Generation uint64 `json:"generation"`
	Extent     uint64 `json:"extent"`
	Pages      uint32 `json:"pages"`
	PageSize   uint64 `json:"page_size"`
}

type BalanceResponse struct {
	Owner   string `json:"owner"`
	Balance uint64 `json:"balance"`
}

type AccountResponse struct {
	Owner      string `json:"owner"`
	Subaccount string `json:"subaccount,omitempty"`
}

type TransactionResponse struct {
	Index     int             `json:"index"`
	Timestamp time.Time       `json:"timestamp"`
	From      AccountResponse `json:"from"`
	To        AccountResponse `json:"to"`
	Amount    uint64          `json:"amount"`
	Fee       uint64          `json:"fee"`
	Memo      string          `json:"memo,omitempty"`
}

func newTransactionResponse(tx ledger.IndexedTransaction) TransactionResponse {
	return TransactionResponse{
		Index:     tx.Index,
		Timestamp: tx.Transaction.Timestamp,
		From: AccountResponse{
			Owner:      tx.Transaction.From.Owner,
			Subaccount: tx.Transaction.From.Subaccount,
		},
		To: AccountResponse{
			Owner:      tx.Transaction.To.Owner,
			Subaccount: tx.Transaction.To.Subaccount,
		},
		Amount: tx.Transaction.Amount,
		Fee:    tx.Transaction.Fee,
		Memo:   tx.Transaction.Memo,
	}
}

type UserResponse struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	Principal string `json:"principal"`
	Stalwart  bool   `json:"stalwart"`
}
