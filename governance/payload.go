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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

type PayloadKind uint8

const (
	PayloadKindRelease PayloadKind = iota + 1
	PayloadKindReward
	PayloadKindFund
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadKindRelease:
		return "release"
	case PayloadKindReward:
		return "reward"
	case PayloadKindFund:
		return "fund"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Release installs new code once executed
type Release struct {
	Commit string
	Binary []byte
	Hash   string
}

// RewardVote is the token amount an approving voter proposed
type RewardVote struct {
	Voter  uint64
	Amount uint64
}

// Reward mints tokens to the receiver once executed
type Reward struct {
	Receiver string
	Votes    []RewardVote
	Minted   uint64
}

// Fund pays a fixed amount from the treasury once executed
type Fund struct {
	Receiver string
	Amount   uint64
}

// Payload is a tagged union: exactly one variant matching Kind is set
type Payload struct {
	Kind    PayloadKind
	Release *Release
	Reward  *Reward
	Fund    *Fund
}

func NewReleasePayload(commit string, binary []byte) Payload {
	return Payload{
		Kind: PayloadKindRelease,
		Release: &Release{
			Commit: commit,
			Binary: binary,
			Hash:   Digest(binary),
		},
	}
}

func NewRewardPayload(receiver string) Payload {
	return Payload{
		Kind:   PayloadKindReward,
		Reward: &Reward{Receiver: receiver},
	}
}

func NewFundPayload(receiver string, amount uint64) Payload {
	return Payload{
		Kind: PayloadKindFund,
		Fund: &Fund{Receiver: receiver, Amount: amount},
	}
}

// Validate checks the union is well formed and its contents usable
func (p Payload) Validate() error {
	set := 0
	if p.Release != nil {
		set++
	}
	if p.Reward != nil {
		set++
	}
	if p.Fund != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: expected exactly one variant", ErrInvalidPayload)
	}
	switch p.Kind {
	case PayloadKindRelease:
		if p.Release == nil {
			return fmt.Errorf("%w: missing release", ErrInvalidPayload)
		}
		if len(p.Release.Binary) == 0 {
			return fmt.Errorf("%w: empty binary", ErrInvalidPayload)
		}
	case PayloadKindReward:
		if p.Reward == nil {
			return fmt.Errorf("%w: missing reward", ErrInvalidPayload)
		}
		if p.Reward.Receiver == "" {
			return fmt.Errorf("%w: empty receiver", ErrInvalidPayload)
		}
	case PayloadKindFund:
		if p.Fund == nil {
			return fmt.Errorf("%w: missing fund", ErrInvalidPayload)
		}
		if p.Fund.Receiver == "" {
			return fmt.Errorf("%w: empty receiver", ErrInvalidPayload)
		}
		if p.Fund.Amount == 0 {
			return fmt.Errorf("%w: zero amount", ErrInvalidPayload)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidPayload, p.Kind)
	}
	return nil
}

// Digest returns the lowercase hex SHA-256 of a binary
func Digest(binary []byte) string {
	sum := sha256.Sum256(binary)
	return hex.EncodeToString(sum[:])
}

// digestMatches compares a submitted hex digest to the digest of binary
func digestMatches(submitted string, binary []byte) bool {
	return strings.EqualFold(strings.TrimSpace(submitted), Digest(binary))
}
