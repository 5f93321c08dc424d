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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/bits"
	"time"

	"github.com/blkluv/taggr/event"
	"github.com/blkluv/taggr/identity"
	"github.com/blkluv/taggr/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/blkluv/taggr/governance")

type UpgradeSource uint8

const (
	UpgradeSourceProposal UpgradeSource = iota + 1
	UpgradeSourceEmergency
)

func (s UpgradeSource) String() string {
	switch s {
	case UpgradeSourceProposal:
		return "proposal"
	case UpgradeSourceEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// UpgradeRequest describes a binary approved for installation
type UpgradeRequest struct {
	Source     UpgradeSource
	ProposalID uint32
	Commit     string
	Hash       string
	Binary     []byte
}

// Upgrader is the process-lifecycle hook that carries out a code
// replacement. ScheduleUpgrade is called from inside a state mutation and
// must not block on it.
type Upgrader interface {
	ScheduleUpgrade(UpgradeRequest) error
}

type UpgraderFunc func(UpgradeRequest) error

func (f UpgraderFunc) ScheduleUpgrade(req UpgradeRequest) error {
	return f(req)
}

// PendingRelease is an upgrade that was scheduled but not yet finalized
type PendingRelease struct {
	UpgradeRequest
	ScheduledAt time.Time
}

// UpgradeRecord is the audit record of the last finalized upgrade
type UpgradeRecord struct {
	Source      UpgradeSource
	ProposalID  uint32
	Commit      string
	Hash        string
	ScheduledAt time.Time
	FinalizedAt time.Time
}

// Data is the persisted governance state
type Data struct {
	Proposals      []*Proposal
	NextProposalID uint32
	Emergency      EmergencyState
	Pending        *PendingRelease
	LastUpgrade    *UpgradeRecord
}

type Config struct {
	Policy       Policy
	Ledger       ledger.Ledger
	Upgrader     Upgrader
	EventBus     *event.EventBus
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
}

// Governance owns the proposal store and emergency state and runs the
// tally engine and payload executor. It is not safe for concurrent use;
// callers serialize access through the state machine.
type Governance struct {
	config      Config
	logger      *slog.Logger
	store       *Store
	emergency   EmergencyState
	pending     *PendingRelease
	lastUpgrade *UpgradeRecord
	metrics     *governanceMetrics
}

func New(cfg Config) (*Governance, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("governance: no ledger configured")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("governance: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	g := &Governance{
		config:    cfg,
		logger:    logger.With("component", "governance"),
		store:     NewStore(cfg.Ledger, cfg.Policy),
		emergency: newEmergencyState(),
	}
	if cfg.PromRegistry != nil {
		g.metrics = &governanceMetrics{}
		g.metrics.init(cfg.PromRegistry)
	}
	return g, nil
}

// SetUpgrader replaces the process-lifecycle hook
func (g *Governance) SetUpgrader(u Upgrader) {
	g.config.Upgrader = u
}

func (g *Governance) Policy() Policy {
	return g.config.Policy
}

func (g *Governance) Store() *Store {
	return g.store
}

// Propose creates a proposal on behalf of the caller
func (g *Governance) Propose(
	ctx context.Context,
	caller identity.Caller,
	description string,
	payload Payload,
	now time.Time,
) (uint32, error) {
	_, span := tracer.Start(
		ctx,
		"governance.Propose",
		trace.WithAttributes(
			attribute.String("payload.kind", payload.Kind.String()),
		),
	)
	defer span.End()
	id, err := g.store.Create(caller, description, payload, now)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	p, _ := g.store.Get(id)
	g.logger.Info(
		fmt.Sprintf("proposal %d created", id),
		"kind", payload.Kind.String(),
		"proposer", caller.UserID,
	)
	if g.metrics != nil {
		g.metrics.proposalsTotal.WithLabelValues(payload.Kind.String()).Inc()
		g.metrics.updateOpen(g.store)
	}
	g.publish(ProposalCreatedEventType, newProposalEvent(p))
	return id, nil
}

// ProposeRelease creates a code release proposal
func (g *Governance) ProposeRelease(
	ctx context.Context,
	caller identity.Caller,
	description string,
	commit string,
	binary []byte,
	now time.Time,
) (uint32, error) {
	return g.Propose(
		ctx,
		caller,
		description,
		NewReleasePayload(commit, binary),
		now,
	)
}

// ProposeReward creates a reward proposal for the receiver
func (g *Governance) ProposeReward(
	ctx context.Context,
	caller identity.Caller,
	description string,
	receiver string,
	now time.Time,
) (uint32, error) {
	return g.Propose(
		ctx,
		caller,
		description,
		NewRewardPayload(receiver),
		now,
	)
}

// ProposeFunding creates a treasury disbursement proposal. The amount is
// given in whole tokens and scaled by the policy's token decimals.
func (g *Governance) ProposeFunding(
	ctx context.Context,
	caller identity.Caller,
	description string,
	receiver string,
	tokens uint64,
	now time.Time,
) (uint32, error) {
	hi, amount := bits.Mul64(tokens, g.config.Policy.TokenBase())
	if hi != 0 || amount > math.MaxInt64 {
		return 0, fmt.Errorf("%w: amount too large", ErrInvalidPayload)
	}
	return g.Propose(
		ctx,
		caller,
		description,
		NewFundPayload(receiver, amount),
		now,
	)
}

// Proposal returns the proposal with the given ID
func (g *Governance) Proposal(id uint32) (*Proposal, error) {
	p, ok := g.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrProposalNotFound, id)
	}
	return p, nil
}

// Proposals returns a page of proposals, most recent first
func (g *Governance) Proposals(page int) []*Proposal {
	return g.store.ListPage(page, DefaultPageSize)
}

// Pending returns the scheduled but not yet finalized upgrade
func (g *Governance) Pending() *PendingRelease {
	return g.pending
}

// LastUpgrade returns the most recently finalized upgrade
func (g *Governance) LastUpgrade() *UpgradeRecord {
	return g.lastUpgrade
}

// FinalizeUpgrade clears the pending release once the new code runs
func (g *Governance) FinalizeUpgrade(now time.Time) (*UpgradeRecord, bool) {
	if g.pending == nil {
		return nil, false
	}
	rec := &UpgradeRecord{
		Source:      g.pending.Source,
		ProposalID:  g.pending.ProposalID,
		Commit:      g.pending.Commit,
		Hash:        g.pending.Hash,
		ScheduledAt: g.pending.ScheduledAt,
		FinalizedAt: normalizeTime(now),
	}
	g.pending = nil
	g.lastUpgrade = rec
	g.logger.Info(
		"upgrade finalized",
		"hash", rec.Hash,
		"source", rec.Source.String(),
	)
	g.publish(UpgradeFinalizedEventType, *rec)
	return rec, true
}

// AbortUpgrade drops the pending release after a failed replacement
func (g *Governance) AbortUpgrade(reason string) {
	if g.pending == nil {
		return
	}
	g.logger.Warn(
		"upgrade aborted: "+reason,
		"hash", g.pending.Hash,
	)
	g.pending = nil
}

// Data returns the persisted governance state. The returned value
// shares memory with the live state and must not be retained across
// mutations.
func (g *Governance) Data() Data {
	return Data{
		Proposals:      g.store.All(),
		NextProposalID: g.store.NextID(),
		Emergency:      g.emergency,
		Pending:        g.pending,
		LastUpgrade:    g.lastUpgrade,
	}
}

// Load replaces the governance state with persisted data
func (g *Governance) Load(d Data) error {
	if err := g.store.load(d.Proposals, d.NextProposalID); err != nil {
		return fmt.Errorf("load proposals: %w", err)
	}
	g.emergency = d.Emergency
	if g.emergency.Votes == nil {
		g.emergency.Votes = make(map[string]uint64)
	}
	g.pending = d.Pending
	g.lastUpgrade = d.LastUpgrade
	if g.metrics != nil {
		g.metrics.updateOpen(g.store)
		g.metrics.updateEmergency(saturate(g.emergencyWeight()))
	}
	return nil
}

func (g *Governance) scheduleUpgrade(
	req UpgradeRequest,
	now time.Time,
	override bool,
) error {
	if g.pending != nil && !override {
		return fmt.Errorf("%w: %s", ErrUpgradePending, g.pending.Hash)
	}
	if g.config.Upgrader != nil {
		if err := g.config.Upgrader.ScheduleUpgrade(req); err != nil {
			return fmt.Errorf("schedule upgrade: %w", err)
		}
	}
	g.pending = &PendingRelease{
		UpgradeRequest: req,
		ScheduledAt:    normalizeTime(now),
	}
	g.logger.Info(
		"upgrade scheduled",
		"hash", req.Hash,
		"source", req.Source.String(),
	)
	g.publish(UpgradeScheduledEventType, UpgradeEvent{
		Source:     req.Source,
		ProposalID: req.ProposalID,
		Commit:     req.Commit,
		Hash:       req.Hash,
	})
	return nil
}

func (g *Governance) publish(eventType event.EventType, data any) {
	if g.config.EventBus == nil {
		return
	}
	g.config.EventBus.PublishAsync(eventType, event.NewEvent(eventType, data))
}
