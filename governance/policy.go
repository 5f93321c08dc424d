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
	"errors"
	"fmt"
	"time"
)

const (
	DefaultQuorumPercent        = 10
	DefaultApprovalPercent      = 50
	DefaultSupermajorityPercent = 66
	DefaultMinProposerStake     = 1
	DefaultVotingPeriod         = 72 * time.Hour
	DefaultMaxReward            = 1000
	DefaultTokenDecimals        = 2
)

// Policy holds the tunable governance thresholds. Percentages are
// integers in the range 1-100.
type Policy struct {
	// QuorumPercent is the share of total supply that must be cast
	QuorumPercent uint64
	// ApprovalPercent is the normalized margin (approve-reject)/cast that
	// must be strictly exceeded to execute. A margin at or below its
	// negation rejects, as does a margin exactly at the threshold.
	ApprovalPercent uint64
	// SupermajorityPercent is the share of total supply that emergency
	// confirmations must strictly exceed
	SupermajorityPercent uint64
	MinProposerStake     uint64
	VotingPeriod         time.Duration
	MaxReward            uint64
	TokenDecimals        uint
}

func DefaultPolicy() Policy {
	return Policy{
		QuorumPercent:        DefaultQuorumPercent,
		ApprovalPercent:      DefaultApprovalPercent,
		SupermajorityPercent: DefaultSupermajorityPercent,
		MinProposerStake:     DefaultMinProposerStake,
		VotingPeriod:         DefaultVotingPeriod,
		MaxReward:            DefaultMaxReward,
		TokenDecimals:        DefaultTokenDecimals,
	}
}

func (p Policy) Validate() error {
	if p.QuorumPercent == 0 || p.QuorumPercent > 100 {
		return fmt.Errorf("invalid quorum percent: %d", p.QuorumPercent)
	}
	if p.ApprovalPercent > 100 {
		return fmt.Errorf("invalid approval percent: %d", p.ApprovalPercent)
	}
	if p.SupermajorityPercent == 0 || p.SupermajorityPercent >= 100 {
		return fmt.Errorf(
			"invalid supermajority percent: %d",
			p.SupermajorityPercent,
		)
	}
	if p.VotingPeriod <= 0 {
		return errors.New("voting period must be positive")
	}
	if p.TokenDecimals > 18 {
		return fmt.Errorf("invalid token decimals: %d", p.TokenDecimals)
	}
	return nil
}

// TokenBase returns the number of base units in one whole token
func (p Policy) TokenBase() uint64 {
	ret := uint64(1)
	for range p.TokenDecimals {
		ret *= 10
	}
	return ret
}
