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

// Package persistence checkpoints the world to durable storage, restores it
// after a code replacement and serves paged backups.
package persistence

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/blinklabs-io/gouroboros/cbor"
	"github.com/blkluv/taggr/governance"
	"github.com/blkluv/taggr/identity"
	"github.com/blkluv/taggr/ledger"
	"github.com/blkluv/taggr/state"
)

// SnapshotVersion is bumped whenever the encoded layout changes
const SnapshotVersion = 1

// Snapshot is the serializable form of a world. Maps are flattened into
// sorted slices so equal worlds encode to identical bytes.
type Snapshot struct {
	cbor.StructAsArray
	Version        uint
	Balances       []balanceRecord
	Log            []transactionRecord
	Users          []userRecord
	NextUserID     uint64
	Proposals      []proposalRecord
	NextProposalID uint32
	Emergency      emergencyRecord
	Pending        *pendingRecord
	LastUpgrade    *upgradeRecord
}

type accountRecord struct {
	cbor.StructAsArray
	Owner      string
	Subaccount string
}

type balanceRecord struct {
	cbor.StructAsArray
	Account accountRecord
	Balance uint64
}

type transactionRecord struct {
	cbor.StructAsArray
	Timestamp int64
	From      accountRecord
	To        accountRecord
	Amount    uint64
	Fee       uint64
	Memo      string
}

type userRecord struct {
	cbor.StructAsArray
	ID        uint64
	Name      string
	Principal string
	Stalwart  bool
}

type voteRecord struct {
	cbor.StructAsArray
	Voter  uint64
	Weight int64
}

type rewardVoteRecord struct {
	cbor.StructAsArray
	Voter  uint64
	Amount uint64
}

type tallyRecord struct {
	cbor.StructAsArray
	Approve uint64
	Reject  uint64
	Supply  uint64
}

type proposalRecord struct {
	cbor.StructAsArray
	ID          uint32
	Proposer    uint64
	Description string
	Kind        uint8
	// Release
	Commit string
	Binary []byte
	Hash   string
	// Reward and Fund
	Receiver    string
	RewardVotes []rewardVoteRecord
	Minted      uint64
	Amount      uint64

	Votes     []voteRecord
	Status    uint8
	CreatedAt int64
	Deadline  int64
	Tally     *tallyRecord
	Reason    string
}

type confirmationRecord struct {
	cbor.StructAsArray
	Principal string
	Weight    uint64
}

type emergencyRecord struct {
	cbor.StructAsArray
	Binary []byte
	Votes  []confirmationRecord
}

type pendingRecord struct {
	cbor.StructAsArray
	Source      uint8
	ProposalID  uint32
	Commit      string
	Hash        string
	Binary      []byte
	ScheduledAt int64
}

type upgradeRecord struct {
	cbor.StructAsArray
	Source      uint8
	ProposalID  uint32
	Commit      string
	Hash        string
	ScheduledAt int64
	FinalizedAt int64
}

// Encode serializes the world
func Encode(w *state.World) ([]byte, error) {
	return Capture(w).Encode()
}

// Decode deserializes a snapshot into a new world with the default policy
// and no metrics or events. The node restores in place with Apply instead.
func Decode(data []byte) (*state.World, error) {
	snap, err := DecodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	w, err := state.NewWorld(state.WorldConfig{
		Policy: governance.DefaultPolicy(),
	})
	if err != nil {
		return nil, err
	}
	if err := snap.Apply(w); err != nil {
		return nil, err
	}
	return w, nil
}

// Encode serializes the snapshot
func (s *Snapshot) Encode() ([]byte, error) {
	data, err := cbor.Encode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", governance.ErrSerializationFailure, err)
	}
	return data, nil
}

// DecodeSnapshot parses and version-checks an encoded snapshot
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if _, err := cbor.Decode(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", governance.ErrSerializationFailure, err)
	}
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf(
			"%w: unsupported snapshot version %d",
			governance.ErrSerializationFailure,
			s.Version,
		)
	}
	return &s, nil
}

// Capture copies the world into a snapshot. It must run on the state
// machine, which guarantees nothing mutates the world meanwhile.
func Capture(w *state.World) *Snapshot {
	s := &Snapshot{Version: SnapshotVersion}
	for _, e := range w.Ledger.Entries() {
		s.Balances = append(s.Balances, balanceRecord{
			Account: fromAccount(e.Account),
			Balance: e.Balance,
		})
	}
	for _, tx := range w.Ledger.Transactions() {
		s.Log = append(s.Log, transactionRecord{
			Timestamp: encodeTime(tx.Timestamp),
			From:      fromAccount(tx.From),
			To:        fromAccount(tx.To),
			Amount:    tx.Amount,
			Fee:       tx.Fee,
			Memo:      tx.Memo,
		})
	}
	for _, u := range w.Users.Users() {
		s.Users = append(s.Users, userRecord{
			ID:        u.ID,
			Name:      u.Name,
			Principal: u.Principal,
			Stalwart:  u.Stalwart,
		})
	}
	s.NextUserID = w.Users.NextID()

	data := w.Governance.Data()
	for _, p := range data.Proposals {
		s.Proposals = append(s.Proposals, fromProposal(p))
	}
	s.NextProposalID = data.NextProposalID
	s.Emergency.Binary = data.Emergency.Binary
	for _, principal := range slices.Sorted(maps.Keys(data.Emergency.Votes)) {
		s.Emergency.Votes = append(s.Emergency.Votes, confirmationRecord{
			Principal: principal,
			Weight:    data.Emergency.Votes[principal],
		})
	}
	if data.Pending != nil {
		s.Pending = &pendingRecord{
			Source:      uint8(data.Pending.Source),
			ProposalID:  data.Pending.ProposalID,
			Commit:      data.Pending.Commit,
			Hash:        data.Pending.Hash,
			Binary:      data.Pending.Binary,
			ScheduledAt: encodeTime(data.Pending.ScheduledAt),
		}
	}
	if data.LastUpgrade != nil {
		s.LastUpgrade = &upgradeRecord{
			Source:      uint8(data.LastUpgrade.Source),
			ProposalID:  data.LastUpgrade.ProposalID,
			Commit:      data.LastUpgrade.Commit,
			Hash:        data.LastUpgrade.Hash,
			ScheduledAt: encodeTime(data.LastUpgrade.ScheduledAt),
			FinalizedAt: encodeTime(data.LastUpgrade.FinalizedAt),
		}
	}
	return s
}

// Apply replaces the world contents with the snapshot. Components are
// loaded in place so registered metrics and subscribers stay attached. On
// error the world is unchanged.
func (s *Snapshot) Apply(w *state.World) error {
	entries := make([]ledger.BalanceEntry, 0, len(s.Balances))
	for _, b := range s.Balances {
		entries = append(entries, ledger.BalanceEntry{
			Account: toAccount(b.Account),
			Balance: b.Balance,
		})
	}
	log := make([]ledger.Transaction, 0, len(s.Log))
	for _, tx := range s.Log {
		log = append(log, ledger.Transaction{
			Timestamp: decodeTime(tx.Timestamp),
			From:      toAccount(tx.From),
			To:        toAccount(tx.To),
			Amount:    tx.Amount,
			Fee:       tx.Fee,
			Memo:      tx.Memo,
		})
	}
	users := make([]identity.User, 0, len(s.Users))
	for _, u := range s.Users {
		users = append(users, identity.User{
			ID:        u.ID,
			Name:      u.Name,
			Principal: u.Principal,
			Stalwart:  u.Stalwart,
		})
	}
	proposals := make([]*governance.Proposal, 0, len(s.Proposals))
	for _, p := range s.Proposals {
		proposal, err := p.toProposal()
		if err != nil {
			return err
		}
		proposals = append(proposals, proposal)
	}
	gov := governance.Data{
		Proposals:      proposals,
		NextProposalID: s.NextProposalID,
		Emergency: governance.EmergencyState{
			Binary: s.Emergency.Binary,
			Votes:  make(map[string]uint64, len(s.Emergency.Votes)),
		},
	}
	for _, c := range s.Emergency.Votes {
		gov.Emergency.Votes[c.Principal] = c.Weight
	}
	if s.Pending != nil {
		gov.Pending = &governance.PendingRelease{
			UpgradeRequest: governance.UpgradeRequest{
				Source:     governance.UpgradeSource(s.Pending.Source),
				ProposalID: s.Pending.ProposalID,
				Commit:     s.Pending.Commit,
				Hash:       s.Pending.Hash,
				Binary:     s.Pending.Binary,
			},
			ScheduledAt: decodeTime(s.Pending.ScheduledAt),
		}
	}
	if s.LastUpgrade != nil {
		gov.LastUpgrade = &governance.UpgradeRecord{
			Source:      governance.UpgradeSource(s.LastUpgrade.Source),
			ProposalID:  s.LastUpgrade.ProposalID,
			Commit:      s.LastUpgrade.Commit,
			Hash:        s.LastUpgrade.Hash,
			ScheduledAt: decodeTime(s.LastUpgrade.ScheduledAt),
			FinalizedAt: decodeTime(s.LastUpgrade.FinalizedAt),
		}
	}

	// Validate the ledger and users on scratch copies so that a failure
	// below leaves the world untouched
	if _, err := ledger.FromEntries(entries, log); err != nil {
		return fmt.Errorf("%w: ledger: %w", governance.ErrSerializationFailure, err)
	}
	if _, err := identity.FromUsers(users, s.NextUserID); err != nil {
		return fmt.Errorf("%w: users: %w", governance.ErrSerializationFailure, err)
	}
	if err := w.Governance.Load(gov); err != nil {
		return fmt.Errorf("%w: governance: %w", governance.ErrSerializationFailure, err)
	}
	if err := w.Ledger.Load(entries, log); err != nil {
		return fmt.Errorf("%w: ledger: %w", governance.ErrSerializationFailure, err)
	}
	if err := w.Users.Load(users, s.NextUserID); err != nil {
		return fmt.Errorf("%w: users: %w", governance.ErrSerializationFailure, err)
	}
	return nil
}

func fromProposal(p *governance.Proposal) proposalRecord {
	rec := proposalRecord{
		ID:          p.ID,
		Proposer:    p.Proposer,
		Description: p.Description,
		Kind:        uint8(p.Payload.Kind),
		Status:      uint8(p.Status),
		CreatedAt:   encodeTime(p.CreatedAt),
		Deadline:    encodeTime(p.Deadline),
		Reason:      p.Reason,
	}
	switch p.Payload.Kind {
	case governance.PayloadKindRelease:
		rec.Commit = p.Payload.Release.Commit
		rec.Binary = p.Payload.Release.Binary
		rec.Hash = p.Payload.Release.Hash
	case governance.PayloadKindReward:
		rec.Receiver = p.Payload.Reward.Receiver
		rec.Minted = p.Payload.Reward.Minted
		for _, v := range p.Payload.Reward.Votes {
			rec.RewardVotes = append(rec.RewardVotes, rewardVoteRecord{
				Voter:  v.Voter,
				Amount: v.Amount,
			})
		}
	case governance.PayloadKindFund:
		rec.Receiver = p.Payload.Fund.Receiver
		rec.Amount = p.Payload.Fund.Amount
	}
	for _, v := range p.Votes {
		rec.Votes = append(rec.Votes, voteRecord{Voter: v.Voter, Weight: v.Weight})
	}
	if p.Tally != nil {
		rec.Tally = &tallyRecord{
			Approve: p.Tally.Approve,
			Reject:  p.Tally.Reject,
			Supply:  p.Tally.Supply,
		}
	}
	return rec
}

func (r proposalRecord) toProposal() (*governance.Proposal, error) {
	p := &governance.Proposal{
		ID:          r.ID,
		Proposer:    r.Proposer,
		Description: r.Description,
		Status:      governance.Status(r.Status),
		CreatedAt:   decodeTime(r.CreatedAt),
		Deadline:    decodeTime(r.Deadline),
		Reason:      r.Reason,
	}
	switch kind := governance.PayloadKind(r.Kind); kind {
	case governance.PayloadKindRelease:
		p.Payload = governance.Payload{
			Kind: kind,
			Release: &governance.Release{
				Commit: r.Commit,
				Binary: r.Binary,
				Hash:   r.Hash,
			},
		}
	case governance.PayloadKindReward:
		reward := &governance.Reward{Receiver: r.Receiver, Minted: r.Minted}
		for _, v := range r.RewardVotes {
			reward.Votes = append(reward.Votes, governance.RewardVote{
				Voter:  v.Voter,
				Amount: v.Amount,
			})
		}
		p.Payload = governance.Payload{Kind: kind, Reward: reward}
	case governance.PayloadKindFund:
		p.Payload = governance.Payload{
			Kind: kind,
			Fund: &governance.Fund{Receiver: r.Receiver, Amount: r.Amount},
		}
	default:
		return nil, fmt.Errorf(
			"%w: proposal %d has unknown payload kind %d",
			governance.ErrSerializationFailure,
			r.ID,
			r.Kind,
		)
	}
	for _, v := range r.Votes {
		p.Votes = append(p.Votes, governance.Vote{Voter: v.Voter, Weight: v.Weight})
	}
	if r.Tally != nil {
		p.Tally = &governance.Tally{
			Approve: r.Tally.Approve,
			Reject:  r.Tally.Reject,
			Supply:  r.Tally.Supply,
		}
	}
	return p, nil
}

func fromAccount(a ledger.Account) accountRecord {
	return accountRecord{Owner: a.Owner, Subaccount: a.Subaccount}
}

func toAccount(a accountRecord) ledger.Account {
	return ledger.Account{Owner: a.Owner, Subaccount: a.Subaccount}
}

// encodeTime stores a timestamp as unix nanoseconds, with zero for the zero
// time
func encodeTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func decodeTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
