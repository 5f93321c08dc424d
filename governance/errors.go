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

import "errors"

var (
	// ErrInsufficientStake is returned when the actor lacks the minimum
	// balance for the requested action
	ErrInsufficientStake = errors.New("insufficient stake")
	// ErrNoVotingPower is returned for votes and confirmations carrying zero weight
	ErrNoVotingPower = errors.New("no voting power")
	// ErrProposalClosed is returned for actions on a proposal that is no longer open
	ErrProposalClosed = errors.New("proposal closed")
	// ErrProposalNotFound is returned for unknown proposal IDs
	ErrProposalNotFound = errors.New("proposal not found")
	// ErrNotProposer is returned when someone other than the proposer cancels
	ErrNotProposer = errors.New("caller is not the proposer")
	// ErrNotStalwart is returned when a non-stalwart publishes an emergency release
	ErrNotStalwart = errors.New("caller is not a stalwart")
	// ErrInvalidPayload is returned for malformed proposal payloads
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrDigestMismatch is returned when a submitted digest does not match the binary
	ErrDigestMismatch = errors.New("digest mismatch")
	// ErrQuorumNotReached is returned when a tally evaluation is not decisive
	ErrQuorumNotReached = errors.New("quorum not reached")
	// ErrSupermajorityNotReached is returned when an emergency upgrade is forced too early
	ErrSupermajorityNotReached = errors.New("supermajority not reached")
	// ErrInsufficientTreasury is returned when a Fund payload cannot be paid
	ErrInsufficientTreasury = errors.New("insufficient treasury")
	// ErrUpgradePending is returned when a release executes while another is pending
	ErrUpgradePending = errors.New("upgrade already pending")
	// ErrSnapshotUnavailable is returned by restore when no prior state exists
	ErrSnapshotUnavailable = errors.New("snapshot unavailable")
	// ErrSerializationFailure is returned when state cannot be encoded or decoded
	ErrSerializationFailure = errors.New("serialization failure")
)
